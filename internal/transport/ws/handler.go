package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/auth"
	"github.com/omochice/typing-indicator/internal/chat"
	"github.com/omochice/typing-indicator/pkg/protocol"
)

const (
	// Path is where the relay accepts WebSocket upgrades.
	Path = "/websocket"
	// Subprotocol is the WebSocket subprotocol clients may request.
	Subprotocol = "com.layer.notifications-1.0"
	// TokenParam is the query parameter carrying the session token.
	TokenParam = "session_token"
)

// Option configures a Handler or Server.
type Option func(*options)

type options struct {
	log       logrus.FieldLogger
	queueSize int
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithQueueSize sets the outgoing queue size of each client.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

func buildOptions(opts []Option) options {
	o := options{log: logrus.StandardLogger(), queueSize: chat.DefaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Handler authenticates WebSocket upgrade requests and hands the resulting
// connections to the hub.
type Handler struct {
	ctx       context.Context
	hub       *chat.Hub
	auth      auth.Authenticator
	log       logrus.FieldLogger
	queueSize int
	upgrader  ws.HTTPUpgrader
	wg        sync.WaitGroup
}

// NewHandler creates a Handler. Sessions end when ctx is done.
func NewHandler(ctx context.Context, hub *chat.Hub, authn auth.Authenticator, opts ...Option) *Handler {
	o := buildOptions(opts)
	return &Handler{
		ctx:       ctx,
		hub:       hub,
		auth:      authn,
		log:       o.log,
		queueSize: o.queueSize,
		upgrader: ws.HTTPUpgrader{
			Protocol: func(p string) bool { return p == Subprotocol },
		},
	}
}

// ServeHTTP implements http.Handler. It blocks for the life of the
// WebSocket session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log.WithField("remote_addr", r.RemoteAddr)

	userID, err := h.auth.Authenticate(r.Context(), r.URL.Query().Get(TokenParam))
	if err != nil {
		log.WithError(err).Warn("rejected WebSocket session")
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, rw, _, err := h.upgrader.Upgrade(r, w)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade WebSocket connection")
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	client := chat.NewClient(NewConn(conn, rw.Reader, r.RemoteAddr), userID, protocol.JSON, h.queueSize)
	if err := h.hub.Serve(h.ctx, client); err != nil {
		log.WithError(err).Debug("WebSocket client ended with error")
	}
}

// Wait blocks until every session started by the handler has ended.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// NewMux routes Path to handler and serves a health check at /up.
func NewMux(handler *Handler, hub *chat.Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(Path, handler)
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %d\n", hub.ClientCount())
	})
	return mux
}
