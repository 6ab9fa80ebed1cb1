// Package client connects to the relay and exposes the connection as a
// typing.Channel carrying JSON signal envelopes.
package client

import (
	"context"
	"errors"

	"github.com/omochice/typing-indicator/internal/typing"
)

var (
	// ErrNotConnected is returned by Send while no connection is open.
	ErrNotConnected = errors.New("not connected to server")
	// ErrOutgoingFull is returned by Send when the write queue is full.
	ErrOutgoingFull = errors.New("outgoing queue full")
	// ErrUnsupportedFrame is returned by a Connection that cannot carry a
	// frame. The connection stays usable.
	ErrUnsupportedFrame = errors.New("unsupported frame")
)

// Client defines the interface for relay clients.
// Both TCP and WebSocket implementations satisfy this interface.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	typing.Channel
}
