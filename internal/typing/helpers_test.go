package typing_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/omochice/typing-indicator/internal/clock"
	"github.com/omochice/typing-indicator/pkg/protocol"
)

var epoch = time.Unix(1700000000, 0)

type sent struct {
	at  time.Duration
	sig protocol.Signal
}

// recorder is an in-memory Channel that records every send with the fake
// clock's offset and lets tests deliver inbound messages.
type recorder struct {
	t     *testing.T
	clock *clock.Fake

	mu       sync.Mutex
	sent     []sent
	handlers map[int]func([]byte)
	next     int
	err      error
}

func newRecorder(t *testing.T, c *clock.Fake) *recorder {
	return &recorder{t: t, clock: c, handlers: make(map[int]func([]byte))}
}

func (r *recorder) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	sig, err := protocol.DecodeSignal(data)
	require.NoError(r.t, err)
	r.sent = append(r.sent, sent{at: r.clock.Now().Sub(epoch), sig: sig})
	return nil
}

func (r *recorder) Subscribe(handler func([]byte)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.handlers[id] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	}
}

func (r *recorder) deliver(data []byte) {
	r.mu.Lock()
	handlers := make([]func([]byte), 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

func (r *recorder) subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

func (r *recorder) sends() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

func (r *recorder) actions() []protocol.TypingState {
	var out []protocol.TypingState
	for _, s := range r.sends() {
		out = append(out, s.sig.Action)
	}
	return out
}

// bus connects several sessions: a send from one member is delivered to all
// the others, like the relay does.
type bus struct {
	mu      sync.Mutex
	members []*busMember
}

type busMember struct {
	bus      *bus
	mu       sync.Mutex
	handlers map[int]func([]byte)
	next     int
}

func (b *bus) join() *busMember {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := &busMember{bus: b, handlers: make(map[int]func([]byte))}
	b.members = append(b.members, m)
	return m
}

func (m *busMember) Send(data []byte) error {
	m.bus.mu.Lock()
	members := append([]*busMember(nil), m.bus.members...)
	m.bus.mu.Unlock()
	for _, other := range members {
		if other == m {
			continue
		}
		other.mu.Lock()
		handlers := make([]func([]byte), 0, len(other.handlers))
		for _, h := range other.handlers {
			handlers = append(handlers, h)
		}
		other.mu.Unlock()
		for _, h := range handlers {
			h(data)
		}
	}
	return nil
}

func (m *busMember) Subscribe(handler func([]byte)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

func nullLogger() (*logrus.Logger, *test.Hook) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return l, hook
}

func encode(t *testing.T, conversationID, userID string, action protocol.TypingState) []byte {
	t.Helper()
	data, err := protocol.Signal{ConversationID: conversationID, UserID: userID, Action: action}.Encode()
	require.NoError(t, err)
	return data
}

var errOffline = errors.New("offline")
