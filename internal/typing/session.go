package typing

import "github.com/omochice/typing-indicator/pkg/protocol"

// SessionConfig describes one local conversation context.
type SessionConfig struct {
	UserID         string
	ConversationID string
	// Input enables the keystroke adapter when set.
	Input    InputSurface
	OnChange ChangeFunc
}

// Session wires a keystroke adapter, a publisher and an aggregator to one
// channel.
type Session struct {
	keys       *KeystrokeAdapter
	publisher  *Publisher
	aggregator *Aggregator
}

// NewSession creates the components for cfg and subscribes the aggregator to
// ch.
func NewSession(ch Channel, cfg SessionConfig, opts ...Option) *Session {
	opts = append([]Option{WithUserID(cfg.UserID)}, opts...)

	s := &Session{
		publisher:  NewPublisher(ch, cfg.ConversationID, opts...),
		aggregator: NewAggregator(cfg.ConversationID, cfg.OnChange, opts...),
	}
	if cfg.Input != nil {
		s.keys = NewKeystrokeAdapter(cfg.Input, s.publisher, opts...)
	}
	s.aggregator.Attach(ch)
	return s
}

// Keys returns the keystroke adapter, or nil when no input surface was
// configured.
func (s *Session) Keys() *KeystrokeAdapter { return s.keys }

// Publisher returns the session's publisher.
func (s *Session) Publisher() *Publisher { return s.publisher }

// Aggregator returns the session's aggregator.
func (s *Session) Aggregator() *Aggregator { return s.aggregator }

// SetConversation moves both directions of the session to id. A pending
// keystroke burst from the previous conversation is discarded.
func (s *Session) SetConversation(id string) {
	if s.keys != nil {
		s.keys.Reset()
	}
	s.publisher.SetConversation(id)
	s.aggregator.SetObservedConversation(id)
}

// Close announces finished for the current conversation and releases every
// timer and subscription.
func (s *Session) Close() {
	if s.keys != nil {
		s.keys.Close()
	}
	s.publisher.SetState(protocol.StateFinished)
	s.publisher.Close()
	s.aggregator.Close()
}
