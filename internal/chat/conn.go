// Package chat provides the relay logic shared by all transports: it accepts
// typing signals from authenticated connections and fans them out to every
// other connection.
package chat

import "context"

// Conn abstracts a bidirectional connection for both TCP and WebSocket.
// This interface isolates transport details from relay logic.
type Conn interface {
	// Read reads a single encoded signal frame.
	// Returns io.EOF when connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single encoded signal frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
