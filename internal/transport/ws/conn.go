// Package ws provides the WebSocket transport for the relay, built on
// gobwas/ws. Signals travel as JSON text frames.
package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts an upgraded net.Conn to chat.Conn interface.
type Conn struct {
	conn       net.Conn
	rw         io.ReadWriter
	remoteAddr string
	mu         sync.Mutex
	closeOnce  sync.Once
}

// NewConn wraps an upgraded connection. reader holds bytes buffered during the
// handshake and may be nil.
func NewConn(conn net.Conn, reader io.Reader, remoteAddr string) *Conn {
	if reader == nil {
		reader = conn
	}
	if remoteAddr == "" {
		remoteAddr = conn.RemoteAddr().String()
	}
	c := &Conn{conn: conn, remoteAddr: remoteAddr}
	c.rw = struct {
		io.Reader
		io.Writer
	}{reader, lockedWriter{c}}
	return c
}

// Read implements chat.Conn.
// Reads the next data message; control frames are answered in place.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}
	data, _, err := wsutil.ReadClientData(c.rw)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn.
// Writes a text message to the WebSocket connection.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
	}
	return wsutil.WriteServerText(c.conn, data)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.conn.Write(p)
}
