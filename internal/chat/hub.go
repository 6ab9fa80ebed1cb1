package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/pkg/protocol"
)

// ErrOutgoingFull is returned by Deliver when a client's queue is full.
var ErrOutgoingFull = errors.New("outgoing queue full")

// Bus carries signals between relay instances.
type Bus interface {
	// Publish forwards a signal accepted by this instance.
	Publish(ctx context.Context, sig protocol.Signal) error
	// Subscribe calls handler for signals published by other instances and
	// blocks until ctx is done.
	Subscribe(ctx context.Context, handler func(protocol.Signal)) error
}

// Hub manages all connected clients and handles broadcast.
// Both TCP and WebSocket servers share a single Hub instance.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex
	log     logrus.FieldLogger
	bus     Bus
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(l logrus.FieldLogger) HubOption {
	return func(h *Hub) { h.log = l }
}

// WithBus enables fan-out to other relay instances.
func WithBus(b Bus) HubOption {
	return func(h *Hub) { h.bus = b }
}

// NewHub creates a new Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[*Client]bool),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve registers client and relays its signals until the connection closes
// or ctx is done. When the client goes away, finished is broadcast for every
// conversation it left typing or paused in.
func (h *Hub) Serve(ctx context.Context, client *Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := h.clientLog(client)
	h.Register(client)
	log.Info("client connected")

	go func() {
		<-ctx.Done()
		client.Conn.Close()
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		h.writeLoop(ctx, client, log)
	}()

	err := h.readLoop(ctx, client, log)
	cancel()
	client.Conn.Close()
	<-writeDone

	h.Unregister(client)
	for _, conversationID := range client.unfinished() {
		h.accept(context.WithoutCancel(ctx), protocol.Signal{
			ConversationID: conversationID,
			UserID:         client.UserID,
			Action:         protocol.StateFinished,
		}, client)
	}
	log.Info("client disconnected")
	return err
}

// Run forwards signals from the bus to local clients until ctx is done. It
// returns immediately when the hub has no bus.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	err := h.bus.Subscribe(ctx, func(sig protocol.Signal) {
		h.Broadcast(sig, nil)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("bus subscription ended: %w", err)
	}
	return nil
}

// Broadcast queues sig for every registered client except from, encoding it
// once per codec. Clients whose queue is full miss the signal. It returns the
// number of clients the signal was queued for.
func (h *Hub) Broadcast(sig protocol.Signal, from *Client) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	encoded := make(map[string][]byte)
	delivered := 0
	for _, c := range targets {
		data, ok := encoded[c.Codec.Name()]
		if !ok {
			var err error
			data, err = c.Codec.Encode(sig)
			if err != nil {
				h.log.WithError(err).WithField("codec", c.Codec.Name()).Warn("failed to encode signal")
				continue
			}
			encoded[c.Codec.Name()] = data
		}
		if err := h.Deliver(c, data); err != nil {
			h.clientLog(c).WithError(err).Debug("dropping signal for slow client")
			continue
		}
		delivered++
	}
	return delivered
}

// Deliver queues an encoded frame for client without blocking.
func (h *Hub) Deliver(client *Client, data []byte) error {
	select {
	case client.Outgoing <- data:
		return nil
	default:
		return ErrOutgoingFull
	}
}

func (h *Hub) readLoop(ctx context.Context, client *Client, log logrus.FieldLogger) error {
	for {
		data, err := client.Conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				return nil
			}
			log.WithError(err).Warn("error reading from client")
			return fmt.Errorf("read from %s: %w", client.Conn.RemoteAddr(), err)
		}

		sig, err := client.Codec.Decode(data)
		if err != nil {
			if !errors.Is(err, protocol.ErrNotTypingSignal) {
				log.WithError(err).Debug("ignoring malformed frame")
			}
			continue
		}
		sig.UserID = client.UserID
		client.track(sig)
		h.accept(ctx, sig, client)
	}
}

func (h *Hub) writeLoop(ctx context.Context, client *Client, log logrus.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-client.Outgoing:
			if err := client.Conn.Write(ctx, data); err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("failed to write to client")
				}
				client.Conn.Close()
				return
			}
		}
	}
}

// accept relays a signal that originated on this instance.
func (h *Hub) accept(ctx context.Context, sig protocol.Signal, from *Client) {
	n := h.Broadcast(sig, from)
	h.log.WithFields(logrus.Fields{
		"conversation_id": sig.ConversationID,
		"user_id":         sig.UserID,
		"action":          sig.Action.String(),
		"recipients":      n,
	}).Debug("relayed typing signal")

	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, sig); err != nil {
		h.log.WithError(err).Warn("failed to publish signal to bus")
	}
}

func (h *Hub) clientLog(c *Client) logrus.FieldLogger {
	return h.log.WithFields(logrus.Fields{
		"client_id":   c.ID,
		"user_id":     c.UserID,
		"remote_addr": c.Conn.RemoteAddr(),
	})
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}
