package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/auth"
	"github.com/omochice/typing-indicator/internal/chat"
)

// Server handles WebSocket connections and delegates to Hub.
type Server struct {
	address  string
	mu       sync.Mutex
	listener net.Listener
	handler  *Handler
	log      logrus.FieldLogger
	server   *http.Server
	cancel   context.CancelFunc
}

// New creates a WebSocket server that uses the provided Hub.
func New(address string, hub *chat.Hub, authn auth.Authenticator, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	o := buildOptions(opts)
	handler := NewHandler(ctx, hub, authn, opts...)
	return &Server{
		address: address,
		handler: handler,
		log:     o.log,
		server:  &http.Server{Handler: NewMux(handler, hub)},
		cancel:  cancel,
	}
}

// Start starts accepting WebSocket connections. It blocks until Stop is
// called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start WebSocket server: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Infof("WebSocket server started on %s", listener.Addr().String())

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("WebSocket server: %w", err)
	}
	return nil
}

// Stop stops the WebSocket server and ends every session.
func (s *Server) Stop() {
	s.cancel()
	s.server.Close()
	s.handler.Wait()
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
