package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/omochice/typing-indicator/pkg/protocol"
)

// Connection is an open, authenticated connection to the relay. Frames are
// JSON signal envelopes regardless of the wire encoding.
type Connection interface {
	// ReadFrame blocks for the next inbound frame.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one frame to the server.
	WriteFrame(data []byte) error

	// Close closes the connection
	Close() error

	// RemoteAddr returns the server address
	RemoteAddr() net.Addr
}

// TCPConnection speaks the binary framing of the raw TCP transport and
// converts to and from JSON envelopes.
type TCPConnection struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewTCPConnection wraps a connection that already completed the handshake.
// reader must wrap conn.
func NewTCPConnection(conn net.Conn, reader *bufio.Reader) *TCPConnection {
	if reader == nil {
		reader = bufio.NewReader(conn)
	}
	return &TCPConnection{conn: conn, reader: reader}
}

func (tc *TCPConnection) ReadFrame() ([]byte, error) {
	frame, err := protocol.ReadFrame(tc.reader)
	if err != nil {
		return nil, err
	}
	var sig protocol.Signal
	if err := sig.UnmarshalBinary(frame); err != nil {
		return nil, fmt.Errorf("failed to decode binary signal: %w", err)
	}
	return sig.Encode()
}

func (tc *TCPConnection) WriteFrame(data []byte) error {
	sig, err := protocol.DecodeSignal(data)
	if err != nil {
		return fmt.Errorf("%w: tcp transport carries typing signals only: %w", ErrUnsupportedFrame, err)
	}
	payload, err := sig.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedFrame, err)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return protocol.WriteFrame(tc.conn, payload)
}

func (tc *TCPConnection) Close() error {
	return tc.conn.Close()
}

func (tc *TCPConnection) RemoteAddr() net.Addr {
	return tc.conn.RemoteAddr()
}

// WebSocketConnection wraps net.Conn for WebSocket connections using gobwas/ws
type WebSocketConnection struct {
	conn      net.Conn
	rw        io.ReadWriter
	mu        sync.Mutex
	closeOnce sync.Once
}

// NewWebSocketConnection wraps a dialed WebSocket. br holds bytes the server
// sent right after the handshake and may be nil.
func NewWebSocketConnection(conn net.Conn, br *bufio.Reader) *WebSocketConnection {
	wc := &WebSocketConnection{conn: conn}
	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	wc.rw = struct {
		io.Reader
		io.Writer
	}{r, writerFunc(wc.writeRaw)}
	return wc
}

func (wc *WebSocketConnection) ReadFrame() ([]byte, error) {
	data, _, err := wsutil.ReadServerData(wc.rw)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (wc *WebSocketConnection) WriteFrame(data []byte) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wsutil.WriteClientText(wc.conn, data)
}

func (wc *WebSocketConnection) Close() error {
	var err error
	wc.closeOnce.Do(func() {
		wc.mu.Lock()
		_ = wsutil.WriteClientMessage(wc.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		wc.mu.Unlock()
		err = wc.conn.Close()
	})
	return err
}

func (wc *WebSocketConnection) RemoteAddr() net.Addr {
	return wc.conn.RemoteAddr()
}

func (wc *WebSocketConnection) writeRaw(p []byte) (int, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.conn.Write(p)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
