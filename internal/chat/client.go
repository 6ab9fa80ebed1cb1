package chat

import (
	"sync"

	"github.com/google/uuid"

	"github.com/omochice/typing-indicator/pkg/protocol"
)

// DefaultQueueSize is the number of outgoing frames buffered per client.
const DefaultQueueSize = 64

// Client represents an authenticated connection registered with the hub.
type Client struct {
	ID       string
	UserID   string
	Conn     Conn
	Codec    protocol.Codec
	Outgoing chan []byte

	mu     sync.Mutex
	active map[string]protocol.TypingState
}

// NewClient creates a client for an authenticated user. Frames on conn are
// encoded with codec.
func NewClient(conn Conn, userID string, codec protocol.Codec, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Conn:     conn,
		Codec:    codec,
		Outgoing: make(chan []byte, queueSize),
		active:   make(map[string]protocol.TypingState),
	}
}

// track records the last state the client announced in each conversation.
func (c *Client) track(sig protocol.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		c.active = make(map[string]protocol.TypingState)
	}
	if sig.Action == protocol.StateFinished {
		delete(c.active, sig.ConversationID)
		return
	}
	c.active[sig.ConversationID] = sig.Action
}

// unfinished returns the conversations in which the client is still typing
// or paused, and forgets them.
func (c *Client) unfinished() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	c.active = nil
	return ids
}
