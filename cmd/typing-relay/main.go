package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/auth"
	"github.com/omochice/typing-indicator/internal/chat"
	"github.com/omochice/typing-indicator/internal/config"
	"github.com/omochice/typing-indicator/internal/server"
	"github.com/omochice/typing-indicator/internal/valkey"
)

func main() {
	cfg, err := config.ParseRelay(flag.CommandLine, os.Args[1:])
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	log := logrus.StandardLogger()
	if err := cfg.Log.Apply(log); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	issuer, err := auth.NewIssuer([]byte(cfg.TokenSecret), cfg.TokenIssuer)
	if err != nil {
		log.Fatalf("Failed to create token issuer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubOpts := []chat.HubOption{chat.WithLogger(log)}
	if cfg.Valkey.Enabled() {
		vk, err := valkey.NewClient(valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
		})
		if err != nil {
			log.Fatalf("Failed to connect to valkey: %v", err)
		}
		defer vk.Close()
		bus := valkey.NewBus(vk, cfg.Valkey.Channel, log)
		log.WithField("instance_id", bus.InstanceID()).Info("Relay bus enabled")
		hubOpts = append(hubOpts, chat.WithBus(bus))
	}
	hub := chat.NewHub(hubOpts...)

	go func() {
		if err := hub.Run(ctx); err != nil {
			log.WithError(err).Error("Relay bus stopped")
		}
	}()

	srv := server.NewUnifiedServer(cfg.Address, cfg.WSAddress, hub, issuer,
		server.WithLogger(log),
		server.WithQueueSize(cfg.QueueSize),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if cfg.WSAddress == "" {
			log.Infof("Starting typing relay on %s (TCP and WebSocket)", cfg.Address)
		} else {
			log.Infof("Starting typing relay on %s (TCP) and %s (WebSocket)", cfg.Address, cfg.WSAddress)
		}
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-sigChan:
		log.Infof("Received signal %v, shutting down...", sig)
		cancel()
		stopped := make(chan struct{})
		go func() {
			srv.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.Shutdown):
			log.Warnf("Shutdown did not finish within %v", cfg.Shutdown)
		}
	}

	log.Info("Typing relay stopped")
}
