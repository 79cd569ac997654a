package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benmessaoud/chatvault/api"
	"github.com/benmessaoud/chatvault/config"
	"github.com/benmessaoud/chatvault/connection"
	"github.com/benmessaoud/chatvault/ingest"
	"github.com/benmessaoud/chatvault/logger"
	"github.com/benmessaoud/chatvault/services"
	"github.com/benmessaoud/chatvault/session"
	"github.com/benmessaoud/chatvault/store"
	"github.com/benmessaoud/chatvault/transport"
	"github.com/benmessaoud/chatvault/whatsapp"
)

// stdinCodes reads the one-time login code from the operator's terminal.
type stdinCodes struct{}

func (stdinCodes) Code(ctx context.Context) (string, error) {
	fmt.Print("Please enter the code you received: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	ctx := context.Background()

	sessions, err := session.New(ctx, cfg.StoreDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session store")
	}
	defer sessions.Close()

	conversations, err := store.New(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize conversation store")
	}

	client, err := whatsapp.New(cfg.StoreDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transport")
	}

	manager := connection.NewManager(client, sessions, connection.Config{
		MaxAttempts: cfg.ConnectAttempts,
		BaseDelay:   time.Duration(cfg.ConnectBaseDelayMs) * time.Millisecond,
		Credentials: transport.Credentials{
			Phone:    cfg.AccountPhone,
			Password: cfg.AccountPassword,
			Codes:    stdinCodes{},
		},
	}, log)

	// No connection, no service: initialization failures are fatal.
	if err := manager.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize connection")
	}

	resolver := ingest.NewResolver(client, log)
	fetcher := ingest.NewFetcher(client, conversations, cfg.MediaAttempts, log)
	pipeline, err := ingest.NewPipeline(conversations, resolver, fetcher, cfg.ProcessedSetSize, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pipeline")
	}
	if err := manager.StartListening(pipeline.HandleEvent); err != nil {
		log.Fatal().Err(err).Msg("failed to register listener")
	}

	service := services.NewService(conversations, manager)
	apiServer := api.NewServer(service, cfg.Port, log)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Info().Msg("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		manager.Disconnect()
		log.Info().Msg("server gracefully stopped")
	}()

	log.Info().Str("port", cfg.Port).Msg("bridge API server starting")
	if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}
}
