package tcp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/auth"
	"github.com/omochice/typing-indicator/internal/chat"
	"github.com/omochice/typing-indicator/pkg/protocol"
)

// DefaultHandshakeTimeout bounds how long a new connection may take to
// present its session token.
const DefaultHandshakeTimeout = 10 * time.Second

// Server handles TCP connections and delegates to Hub.
type Server struct {
	address          string
	mu               sync.Mutex
	listener         net.Listener
	hub              *chat.Hub
	auth             auth.Authenticator
	log              logrus.FieldLogger
	queueSize        int
	handshakeTimeout time.Duration
	ctx              context.Context
	cancel           context.CancelFunc
	quit             chan struct{}
	wg               sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithQueueSize sets the outgoing queue size of each client.
func WithQueueSize(n int) Option {
	return func(s *Server) { s.queueSize = n }
}

// WithHandshakeTimeout overrides DefaultHandshakeTimeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) { s.handshakeTimeout = d }
}

// New creates a TCP server that uses the provided Hub.
func New(address string, hub *chat.Hub, authn auth.Authenticator, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		address:          address,
		hub:              hub,
		auth:             authn,
		log:              logrus.StandardLogger(),
		queueSize:        chat.DefaultQueueSize,
		handshakeTimeout: DefaultHandshakeTimeout,
		ctx:              ctx,
		cancel:           cancel,
		quit:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts accepting TCP connections. It blocks until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Infof("TCP server started on %s", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				s.log.WithError(err).Warn("failed to accept TCP connection")
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Handle(s.ctx, conn, bufio.NewReader(conn))
		}()
	}
}

// Stop stops the TCP server and disconnects its clients.
func (s *Server) Stop() {
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
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Handle authenticates a raw TCP connection and relays its signals until it
// closes or ctx is done. reader must wrap conn.
func (s *Server) Handle(ctx context.Context, conn net.Conn, reader *bufio.Reader) {
	log := s.log.WithField("remote_addr", conn.RemoteAddr().String())

	userID, err := s.handshake(ctx, conn, reader)
	if err != nil {
		log.WithError(err).Warn("TCP handshake failed")
		conn.Close()
		return
	}

	client := chat.NewClient(NewConnWithReader(conn, reader), userID, protocol.Binary, s.queueSize)
	if err := s.hub.Serve(ctx, client); err != nil {
		log.WithError(err).Debug("TCP client ended with error")
	}
}

func (s *Server) handshake(ctx context.Context, conn net.Conn, reader *bufio.Reader) (string, error) {
	conn.SetDeadline(time.Now().Add(s.handshakeTimeout))
	defer conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	token, err := protocol.ReadHandshake(reader)
	if err != nil {
		return "", err
	}
	userID, authErr := s.auth.Authenticate(ctx, token)
	if authErr != nil {
		protocol.WriteHandshakeReply(conn, auth.ErrInvalidToken)
		return "", authErr
	}
	if err := protocol.WriteHandshakeReply(conn, nil); err != nil {
		return "", err
	}
	return userID, nil
}
