// Package server runs the relay: raw TCP and WebSocket clients on a single
// port, told apart by their first bytes, or on two separate ports.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/auth"
	"github.com/omochice/typing-indicator/internal/chat"
	"github.com/omochice/typing-indicator/internal/transport/tcp"
	wstransport "github.com/omochice/typing-indicator/internal/transport/ws"
)

// Option configures a UnifiedServer.
type Option func(*UnifiedServer)

// WithLogger sets the server's logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *UnifiedServer) { s.log = l }
}

// WithQueueSize sets the outgoing queue size of each client.
func WithQueueSize(n int) Option {
	return func(s *UnifiedServer) { s.queueSize = n }
}

// WithHandshakeTimeout bounds protocol detection and the TCP handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *UnifiedServer) { s.handshakeTimeout = d }
}

// UnifiedServer represents a server that handles both TCP and WebSocket connections
type UnifiedServer struct {
	address          string
	wsAddress        string
	singlePort       bool
	hub              *chat.Hub
	auth             auth.Authenticator
	log              logrus.FieldLogger
	queueSize        int
	handshakeTimeout time.Duration

	mu        sync.Mutex
	listener  net.Listener
	tcp       *tcp.Server
	ws        *wstransport.Server
	wsHandler *wstransport.Handler
	http      *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewUnifiedServer creates a new UnifiedServer instance.
// If wsAddress is empty, both TCP and WebSocket will be handled on tcpAddress.
func NewUnifiedServer(tcpAddress, wsAddress string, hub *chat.Hub, authn auth.Authenticator, opts ...Option) *UnifiedServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &UnifiedServer{
		address:          tcpAddress,
		wsAddress:        wsAddress,
		singlePort:       wsAddress == "",
		hub:              hub,
		auth:             authn,
		log:              logrus.StandardLogger(),
		queueSize:        chat.DefaultQueueSize,
		handshakeTimeout: tcp.DefaultHandshakeTimeout,
		ctx:              ctx,
		cancel:           cancel,
		quit:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.tcp = tcp.New(tcpAddress, hub, authn,
		tcp.WithLogger(s.log),
		tcp.WithQueueSize(s.queueSize),
		tcp.WithHandshakeTimeout(s.handshakeTimeout),
	)
	wsOpts := []wstransport.Option{wstransport.WithLogger(s.log), wstransport.WithQueueSize(s.queueSize)}
	if s.singlePort {
		s.wsHandler = wstransport.NewHandler(ctx, hub, authn, wsOpts...)
		s.http = &http.Server{
			Handler:   wstransport.NewMux(s.wsHandler, hub),
			ConnState: releaseListener,
		}
	} else {
		s.ws = wstransport.New(wsAddress, hub, authn, wsOpts...)
	}
	return s
}

// Start starts the relay and blocks until Stop is called.
func (s *UnifiedServer) Start() error {
	if s.singlePort {
		listener, err := net.Listen("tcp", s.address)
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		s.mu.Lock()
		s.listener = listener
		s.mu.Unlock()
		s.log.Infof("Unified server started on %s (TCP and WebSocket)", listener.Addr().String())

		s.wg.Add(1)
		go s.acceptConnections(listener)
	} else {
		errCh := make(chan error, 2)
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			errCh <- s.tcp.Start()
		}()
		go func() {
			defer s.wg.Done()
			errCh <- s.ws.Start()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				s.Stop()
				return err
			}
		case <-s.quit:
		}
	}

	<-s.quit
	return nil
}

// Stop stops the server and disconnects every client.
func (s *UnifiedServer) Stop() {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		return
	default:
		close(s.quit)
	}
	listener := s.listener
	s.mu.Unlock()

	s.cancel()
	if listener != nil {
		listener.Close()
	}
	if s.singlePort {
		s.http.Close()
		s.wsHandler.Wait()
	} else {
		s.tcp.Stop()
		s.ws.Stop()
	}
	s.wg.Wait()
}

// Addr returns the server's listening address (for single port mode)
func (s *UnifiedServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// TCPAddr returns the TCP server's listening address
func (s *UnifiedServer) TCPAddr() string {
	if s.singlePort {
		return s.Addr()
	}
	return s.tcp.Addr()
}

// WSAddr returns the WebSocket server's listening address
func (s *UnifiedServer) WSAddr() string {
	if s.singlePort {
		return s.Addr()
	}
	return s.ws.Addr()
}

// ClientCount returns the number of connected clients
func (s *UnifiedServer) ClientCount() int {
	return s.hub.ClientCount()
}

// acceptConnections accepts connections on single port and determines protocol
func (s *UnifiedServer) acceptConnections(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.WithError(err).Warn("failed to accept connection")
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection determines whether the connection is HTTP (WebSocket) or TCP
func (s *UnifiedServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	// Stop closes connections that have not finished sniffing or were handed
	// off; handlers see the close as the end of the session.
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	proto, reader, err := detectProtocol(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		s.log.WithError(err).WithField("remote_addr", conn.RemoteAddr().String()).Debug("failed to peek connection")
		conn.Close()
		return
	}

	switch proto {
	case protocolHTTP:
		s.handleHTTPConnection(conn, reader)
	default:
		s.tcp.Handle(s.ctx, conn, reader)
	}
}

// handleHTTPConnection serves one HTTP connection, including a WebSocket
// upgrade, through the shared http.Server.
func (s *UnifiedServer) handleHTTPConnection(conn net.Conn, reader *bufio.Reader) {
	l := &singleConnListener{done: make(chan struct{})}
	l.conn = &bufferedConn{Conn: conn, reader: reader, listener: l}

	err := s.http.Serve(l)
	switch {
	case errors.Is(err, http.ErrServerClosed):
		conn.Close()
	case err != nil && !errors.Is(err, net.ErrClosed):
		s.log.WithError(err).Debug("HTTP connection ended with error")
	}
}

// releaseListener ends the per-connection Serve call once http.Server is
// done with the connection or has handed it to the WebSocket handler.
func releaseListener(c net.Conn, state http.ConnState) {
	if state != http.StateClosed && state != http.StateHijacked {
		return
	}
	if bc, ok := c.(*bufferedConn); ok {
		bc.listener.Close()
	}
}

// bufferedConn wraps a net.Conn with a bufio.Reader to preserve peeked data
type bufferedConn struct {
	net.Conn
	reader   *bufio.Reader
	listener *singleConnListener
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}

// singleConnListener is a net.Listener that returns a single connection and
// then blocks until closed.
type singleConnListener struct {
	conn      net.Conn
	once      sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	var c net.Conn
	l.once.Do(func() {
		c = l.conn
	})
	if c != nil {
		return c, nil
	}
	<-l.done
	return nil, net.ErrClosed
}

func (l *singleConnListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *singleConnListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}
