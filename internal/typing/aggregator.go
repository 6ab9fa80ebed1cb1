package typing

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/clock"
	"github.com/omochice/typing-indicator/pkg/protocol"
)

// Summary lists the remote users currently typing or paused in the observed
// conversation. Both lists are sorted and never nil.
type Summary struct {
	Typing []string `json:"typing"`
	Paused []string `json:"paused"`
}

// Empty reports whether nobody is typing or paused.
func (s Summary) Empty() bool {
	return len(s.Typing) == 0 && len(s.Paused) == 0
}

// ChangeFunc receives a fresh summary. raw is the inbound message that caused
// the change, or nil when the change came from expiry or a conversation
// switch.
type ChangeFunc func(summary Summary, raw []byte)

type entryKey struct {
	conversationID string
	userID         string
}

type remoteEntry struct {
	state     protocol.TypingState
	updatedAt time.Time
}

// Aggregator tracks the typing state of remote users across conversations and
// reports changes affecting the observed one. Entries that stop being
// refreshed expire after Staleness.
type Aggregator struct {
	mu          sync.Mutex
	clock       clock.Clock
	log         logrus.FieldLogger
	userID      string
	staleness   time.Duration
	sweepPeriod time.Duration

	conversationID string
	entries        map[entryKey]*remoteEntry
	onChange       ChangeFunc

	sweep       clock.Timer
	sweepSeq    uint64
	unsubscribe func()
	closed      bool
}

// NewAggregator creates an Aggregator observing conversationID.
func NewAggregator(conversationID string, onChange ChangeFunc, opts ...Option) *Aggregator {
	o := buildOptions(opts)
	return &Aggregator{
		clock:          o.clock,
		log:            o.log,
		userID:         o.userID,
		staleness:      o.timing.Staleness,
		sweepPeriod:    o.timing.SweepPeriod,
		conversationID: conversationID,
		entries:        make(map[entryKey]*remoteEntry),
		onChange:       onChange,
	}
}

// Attach subscribes to inbound messages on ch, replacing any earlier
// subscription.
func (a *Aggregator) Attach(ch Channel) {
	a.mu.Lock()
	prev := a.unsubscribe
	a.unsubscribe = nil
	closed := a.closed
	a.mu.Unlock()

	if prev != nil {
		prev()
	}
	if closed {
		return
	}

	cancel := ch.Subscribe(a.HandleInboundSignal)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		cancel()
		return
	}
	a.unsubscribe = cancel
	a.mu.Unlock()
}

// OnChange replaces the change callback.
func (a *Aggregator) OnChange(fn ChangeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

// HandleInboundSignal decodes raw and applies it. Anything that is not a
// typing-indicator signal is ignored.
func (a *Aggregator) HandleInboundSignal(raw []byte) {
	sig, err := protocol.DecodeSignal(raw)
	if err != nil {
		if !errors.Is(err, protocol.ErrNotTypingSignal) {
			a.log.WithError(err).Debug("ignoring malformed inbound message")
		}
		return
	}
	a.HandleSignal(sig, raw)
}

// HandleSignal applies an already decoded signal. Signals from the local user
// or without a user id are ignored.
func (a *Aggregator) HandleSignal(sig protocol.Signal, raw []byte) {
	a.mu.Lock()
	if a.closed || sig.UserID == "" || sig.UserID == a.userID {
		a.mu.Unlock()
		return
	}

	key := entryKey{conversationID: sig.ConversationID, userID: sig.UserID}
	if sig.Action == protocol.StateFinished {
		delete(a.entries, key)
	} else {
		e, ok := a.entries[key]
		if !ok {
			e = &remoteEntry{}
			a.entries[key] = e
		}
		e.state = sig.Action
		e.updatedAt = a.clock.Now()
	}
	a.updateSweepLocked()

	var notify func()
	if sig.ConversationID == a.conversationID {
		notify = a.recomputeLocked(raw)
	}
	a.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// SetObservedConversation switches the conversation reported through the
// change callback and reports its current summary.
func (a *Aggregator) SetObservedConversation(id string) {
	a.mu.Lock()
	if a.closed || id == a.conversationID {
		a.mu.Unlock()
		return
	}
	a.conversationID = id
	notify := a.recomputeLocked(nil)
	a.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Snapshot returns the summary for the observed conversation.
func (a *Aggregator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summaryLocked()
}

// Close stops the sweep, drops every entry and removes the channel
// subscription.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	a.stopSweepLocked()
	a.entries = make(map[entryKey]*remoteEntry)
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (a *Aggregator) summaryLocked() Summary {
	s := Summary{Typing: []string{}, Paused: []string{}}
	for key, e := range a.entries {
		if key.conversationID != a.conversationID {
			continue
		}
		switch e.state {
		case protocol.StateStarted:
			s.Typing = append(s.Typing, key.userID)
		case protocol.StatePaused:
			s.Paused = append(s.Paused, key.userID)
		}
	}
	sort.Strings(s.Typing)
	sort.Strings(s.Paused)
	return s
}

// recomputeLocked captures the summary and callback under the lock and
// returns a closure that delivers them once the lock is released.
func (a *Aggregator) recomputeLocked(raw []byte) func() {
	fn := a.onChange
	if fn == nil {
		return nil
	}
	summary := a.summaryLocked()
	return func() {
		fn(summary, raw)
	}
}

// updateSweepLocked keeps the sweep running exactly while entries exist.
func (a *Aggregator) updateSweepLocked() {
	if len(a.entries) == 0 {
		a.stopSweepLocked()
		return
	}
	if a.sweep != nil {
		return
	}
	seq := a.sweepSeq
	a.sweep = a.clock.AfterFunc(a.sweepPeriod, func() {
		a.fireSweep(seq)
	})
}

func (a *Aggregator) fireSweep(seq uint64) {
	a.mu.Lock()
	if a.closed || seq != a.sweepSeq {
		a.mu.Unlock()
		return
	}
	a.sweep = nil
	a.sweepSeq++

	now := a.clock.Now()
	observedChanged := false
	for key, e := range a.entries {
		if now.Sub(e.updatedAt) <= a.staleness {
			continue
		}
		delete(a.entries, key)
		if key.conversationID == a.conversationID {
			observedChanged = true
		}
		a.log.WithFields(logrus.Fields{
			"conversation_id": key.conversationID,
			"user_id":         key.userID,
		}).Debug("expired stale typing state")
	}
	a.updateSweepLocked()

	var notify func()
	if observedChanged {
		notify = a.recomputeLocked(nil)
	}
	a.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (a *Aggregator) stopSweepLocked() {
	if a.sweep != nil {
		a.sweep.Stop()
		a.sweep = nil
	}
	a.sweepSeq++
}
