// Package config loads relay and client settings from TYPING_* environment
// variables, overlaid by command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/typing"
)

// Logging selects the logrus level and output format.
type Logging struct {
	Level  string `env:"TYPING_LOG_LEVEL" envDefault:"info"`
	Format string `env:"TYPING_LOG_FORMAT" envDefault:"text"`
}

// Apply configures logger.
func (l Logging) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(l.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", l.Format)
	}
	return nil
}

// Timing mirrors typing.Timing with environment bindings.
type Timing struct {
	Interval    time.Duration `env:"TYPING_INTERVAL" envDefault:"2500ms"`
	QuietWindow time.Duration `env:"TYPING_QUIET_WINDOW" envDefault:"50ms"`
	Staleness   time.Duration `env:"TYPING_STALENESS" envDefault:"6s"`
	SweepPeriod time.Duration `env:"TYPING_SWEEP_PERIOD" envDefault:"5s"`
}

// Typing converts t for the engine.
func (t Timing) Typing() typing.Timing {
	return typing.Timing{
		Interval:    t.Interval,
		QuietWindow: t.QuietWindow,
		Staleness:   t.Staleness,
		SweepPeriod: t.SweepPeriod,
	}
}

// Valkey configures the optional cross-instance signal bus.
type Valkey struct {
	Address   string `env:"TYPING_VALKEY_ADDRESS"`
	Password  string `env:"TYPING_VALKEY_PASSWORD"`
	DB        int    `env:"TYPING_VALKEY_DB" envDefault:"0"`
	KeyPrefix string `env:"TYPING_VALKEY_KEY_PREFIX" envDefault:"typing"`
	Channel   string `env:"TYPING_VALKEY_CHANNEL" envDefault:"signals"`
}

// Enabled reports whether an address was configured.
func (v Valkey) Enabled() bool {
	return strings.TrimSpace(v.Address) != ""
}

// Relay holds typing-relay settings.
type Relay struct {
	Address string `env:"TYPING_RELAY_ADDR" envDefault:":8080"`
	// WSAddress moves WebSocket clients to their own port when set.
	WSAddress   string        `env:"TYPING_RELAY_WS_ADDR"`
	TokenSecret string        `env:"TYPING_TOKEN_SECRET"`
	TokenIssuer string        `env:"TYPING_TOKEN_ISSUER" envDefault:"typing-relay"`
	QueueSize   int           `env:"TYPING_QUEUE_SIZE" envDefault:"64"`
	Shutdown    time.Duration `env:"TYPING_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	Log         Logging
	Valkey      Valkey
}

// ParseRelay parses environment and flags into Relay.
func ParseRelay(fs *flag.FlagSet, args []string) (Relay, error) {
	var cfg Relay
	if err := env.Parse(&cfg); err != nil {
		return Relay{}, fmt.Errorf("parse relay env: %w", err)
	}

	fs.StringVar(&cfg.Address, "addr", cfg.Address, "Address to listen on for both TCP and WebSocket (e.g., :8080)")
	fs.StringVar(&cfg.WSAddress, "ws-addr", cfg.WSAddress, "Separate WebSocket address (empty serves both on -addr)")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "HMAC secret for session tokens")
	fs.StringVar(&cfg.TokenIssuer, "token-issuer", cfg.TokenIssuer, "Expected session token issuer")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "Outgoing signals buffered per connection")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format (text, json)")
	fs.StringVar(&cfg.Valkey.Address, "valkey-addr", cfg.Valkey.Address, "Valkey address for multi-instance fan-out (disabled when empty)")
	if err := parseArgs(fs, args); err != nil {
		return Relay{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks required settings.
func (c Relay) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return errors.New("relay address is required")
	}
	if c.TokenSecret == "" {
		return errors.New("TYPING_TOKEN_SECRET is required")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	return nil
}

// Transports accepted by Client.Transport.
const (
	TransportWebSocket = "ws"
	TransportTCP       = "tcp"
)

// Client holds typing-demo settings.
type Client struct {
	// Address is a ws:// URL for the WebSocket transport or host:port for TCP.
	Address        string `env:"TYPING_RELAY_URL" envDefault:"ws://localhost:8080/websocket"`
	Transport      string `env:"TYPING_TRANSPORT" envDefault:"ws"`
	UserID         string `env:"TYPING_USER_ID"`
	ConversationID string `env:"TYPING_CONVERSATION_ID" envDefault:"general"`
	SessionToken   string `env:"TYPING_SESSION_TOKEN"`
	TokenSecret    string `env:"TYPING_TOKEN_SECRET"`
	TokenIssuer    string `env:"TYPING_TOKEN_ISSUER" envDefault:"typing-relay"`
	QueueSize      int    `env:"TYPING_QUEUE_SIZE" envDefault:"64"`
	LogFile        string `env:"TYPING_LOG_FILE"`
	Timing         Timing
	Log            Logging
}

// ParseClient parses environment and flags into Client.
func ParseClient(fs *flag.FlagSet, args []string) (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse client env: %w", err)
	}

	fs.StringVar(&cfg.Address, "server", cfg.Address, "Relay address (ws://host:port/websocket or host:port for tcp)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Transport to use (ws, tcp)")
	fs.StringVar(&cfg.UserID, "user", cfg.UserID, "Your user id")
	fs.StringVar(&cfg.ConversationID, "conversation", cfg.ConversationID, "Conversation to join")
	fs.StringVar(&cfg.SessionToken, "token", cfg.SessionToken, "Session token (minted from -token-secret when empty)")
	fs.StringVar(&cfg.TokenSecret, "token-secret", cfg.TokenSecret, "HMAC secret used to mint a development token")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to this file")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error)")
	if err := parseArgs(fs, args); err != nil {
		return Client{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks required settings.
func (c Client) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return errors.New("relay address is required")
	}
	switch c.Transport {
	case TransportWebSocket, TransportTCP:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.SessionToken == "" {
		if c.TokenSecret == "" {
			return errors.New("either a session token or a token secret is required")
		}
		if strings.TrimSpace(c.UserID) == "" {
			return errors.New("user id is required to mint a session token")
		}
	}
	if strings.TrimSpace(c.ConversationID) == "" {
		return errors.New("conversation id is required")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	return c.Timing.Typing().Validate()
}

func parseArgs(fs *flag.FlagSet, args []string) error {
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
