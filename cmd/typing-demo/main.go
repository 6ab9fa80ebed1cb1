// Command typing-demo is a terminal client that publishes typing indicators
// while you type and shows who else in the conversation is typing.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/auth"
	"github.com/omochice/typing-indicator/internal/client"
	tcpclient "github.com/omochice/typing-indicator/internal/client/tcp"
	wsclient "github.com/omochice/typing-indicator/internal/client/ws"
	"github.com/omochice/typing-indicator/internal/config"
	"github.com/omochice/typing-indicator/internal/typing"
)

const devTokenTTL = 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.ParseClient(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}

	// The terminal belongs to the UI; logs go to a file or nowhere.
	log := logrus.New()
	if err := cfg.Log.Apply(log); err != nil {
		return err
	}
	log.SetOutput(io.Discard)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	token := cfg.SessionToken
	if token == "" {
		issuer, err := auth.NewIssuer([]byte(cfg.TokenSecret), cfg.TokenIssuer)
		if err != nil {
			return err
		}
		if token, err = issuer.Issue(cfg.UserID, devTokenTTL); err != nil {
			return err
		}
	}

	conn := newClient(cfg, token, log)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Address, err)
	}
	defer conn.Disconnect()

	composer := &composer{}
	changes := make(chan typing.Summary, 1)
	session := typing.NewSession(conn, typing.SessionConfig{
		UserID:         cfg.UserID,
		ConversationID: cfg.ConversationID,
		Input:          composer,
		OnChange: func(s typing.Summary, _ []byte) {
			offerLatest(changes, s)
		},
	}, typing.WithLogger(log), typing.WithTiming(cfg.Timing.Typing()))
	defer session.Close()

	p := tea.NewProgram(newModel(cfg, composer, session, changes), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

func newClient(cfg config.Client, token string, log logrus.FieldLogger) client.Client {
	opts := []client.Option{client.WithLogger(log), client.WithQueueSize(cfg.QueueSize)}
	if cfg.Transport == config.TransportTCP {
		return tcpclient.New(cfg.Address, token, opts...)
	}
	return wsclient.New(cfg.Address, token, opts...)
}

// offerLatest replaces any summary the UI has not picked up yet.
func offerLatest(ch chan typing.Summary, s typing.Summary) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
