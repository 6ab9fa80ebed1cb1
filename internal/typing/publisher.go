package typing

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/clock"
	"github.com/omochice/typing-indicator/pkg/protocol"
)

// Publisher decides when the local user's typing state reaches the channel.
//
// A state transition is sent immediately. Repeating the current state within
// Interval of the last send is coalesced into a single send at the interval
// boundary. Without activity, started decays to paused and paused decays to
// finished, one Interval apart. A repeated finished is never resent.
type Publisher struct {
	mu       sync.Mutex
	channel  Channel
	clock    clock.Clock
	log      logrus.FieldLogger
	userID   string
	interval time.Duration

	conversationID string
	state          protocol.TypingState
	lastSentAt     time.Time

	resend       clock.Timer
	resendSeq    uint64
	heartbeat    clock.Timer
	heartbeatSeq uint64
	closed       bool
}

// NewPublisher creates a Publisher for conversationID. An empty
// conversationID makes SetState a no-op until SetConversation is called.
func NewPublisher(ch Channel, conversationID string, opts ...Option) *Publisher {
	o := buildOptions(opts)
	return &Publisher{
		channel:        ch,
		clock:          o.clock,
		log:            o.log,
		userID:         o.userID,
		interval:       o.timing.Interval,
		conversationID: conversationID,
		state:          protocol.StateFinished,
	}
}

// SetState records the local user's intent and sends, defers or drops the
// signal accordingly.
func (p *Publisher) SetState(state protocol.TypingState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setStateLocked(state)
}

// SetConversation flushes finished to the current conversation and switches
// to id. The new conversation starts silent in the finished state.
func (p *Publisher) SetConversation(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || id == p.conversationID {
		return
	}
	p.setStateLocked(protocol.StateFinished)
	p.stopResendLocked()
	p.stopHeartbeatLocked()

	p.log.WithFields(logrus.Fields{
		"from_conversation_id": p.conversationID,
		"conversation_id":      id,
	}).Debug("typing publisher switched conversation")

	p.conversationID = id
	p.state = protocol.StateFinished
}

// State returns the last intended state.
func (p *Publisher) State() protocol.TypingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Conversation returns the current conversation id.
func (p *Publisher) Conversation() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conversationID
}

// Close cancels every pending timer. It does not send anything.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopResendLocked()
	p.stopHeartbeatLocked()
	p.closed = true
}

func (p *Publisher) setStateLocked(state protocol.TypingState) {
	if p.closed {
		return
	}
	p.stopHeartbeatLocked()
	if p.conversationID == "" {
		return
	}

	switch {
	case state != p.state:
		p.state = state
		p.stopResendLocked()
		p.transmitLocked()
	case state == protocol.StateFinished:
		return
	case !p.clock.Now().Before(p.lastSentAt.Add(p.interval)):
		p.stopResendLocked()
		p.transmitLocked()
	default:
		p.scheduleResendLocked(state)
	}

	if p.state != protocol.StateFinished {
		p.startHeartbeatLocked()
	}
}

func (p *Publisher) transmitLocked() {
	p.lastSentAt = p.clock.Now()

	fields := logrus.Fields{
		"conversation_id": p.conversationID,
		"action":          p.state.String(),
	}
	data, err := protocol.Signal{
		ConversationID: p.conversationID,
		UserID:         p.userID,
		Action:         p.state,
	}.Encode()
	if err != nil {
		p.log.WithFields(fields).WithError(err).Warn("failed to encode typing signal")
		return
	}
	if err := p.channel.Send(data); err != nil {
		p.log.WithFields(fields).WithError(err).Debug("typing signal dropped")
		return
	}
	p.log.WithFields(fields).Debug("typing signal sent")
}

// scheduleResendLocked replaces any deferred send with one at the interval
// boundary following the last send.
func (p *Publisher) scheduleResendLocked(state protocol.TypingState) {
	p.stopResendLocked()

	delay := p.lastSentAt.Add(p.interval).Sub(p.clock.Now())
	seq := p.resendSeq
	p.resend = p.clock.AfterFunc(delay, func() {
		p.fireResend(seq, state)
	})
}

func (p *Publisher) fireResend(seq uint64, state protocol.TypingState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || seq != p.resendSeq {
		return
	}
	p.resend = nil
	if p.state != state {
		return
	}
	p.transmitLocked()
	p.startHeartbeatLocked()
}

func (p *Publisher) stopResendLocked() {
	if p.resend != nil {
		p.resend.Stop()
		p.resend = nil
	}
	p.resendSeq++
}

// startHeartbeatLocked (re)starts the inactivity timer that de-escalates
// started to paused and paused to finished.
func (p *Publisher) startHeartbeatLocked() {
	p.stopHeartbeatLocked()

	seq := p.heartbeatSeq
	p.heartbeat = p.clock.AfterFunc(p.interval, func() {
		p.fireHeartbeat(seq)
	})
}

func (p *Publisher) fireHeartbeat(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || seq != p.heartbeatSeq {
		return
	}
	p.heartbeat = nil

	switch p.state {
	case protocol.StatePaused:
		p.setStateLocked(protocol.StateFinished)
	case protocol.StateStarted:
		p.setStateLocked(protocol.StatePaused)
	}
}

func (p *Publisher) stopHeartbeatLocked() {
	if p.heartbeat != nil {
		p.heartbeat.Stop()
		p.heartbeat = nil
	}
	p.heartbeatSeq++
}
