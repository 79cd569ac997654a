package main

import (
	"fmt"
	"os"

	"github.com/benmessaoud/chatvault/config"
	"github.com/benmessaoud/chatvault/logger"
	"github.com/benmessaoud/chatvault/mcp"
	"github.com/benmessaoud/chatvault/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the MCP stdio protocol; logs go to stderr.
	log := logger.NewWithOutput(cfg.LogLevel, os.Stderr)

	conversations, err := store.New(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open conversation store")
	}

	handler := mcp.NewHandler(conversations, cfg.BridgeAPIBaseURL)
	server := mcp.NewMCPServer(handler, "chatvault", "1.0.0")

	if err := mcp.StartMCPServer(server); err != nil {
		log.Fatal().Err(err).Msg("MCP server error")
	}
}
