// Package main provides the lightweight entry point for the CardioVision MCP server.
// This version requires no external databases and speaks MCP over stdio.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cardiovision-risk-engine/internal/config"
	"github.com/cardiovision-risk-engine/internal/logging"
	"github.com/cardiovision-risk-engine/internal/mcp"
)

func main() {
	cfg := config.LoadLiteConfig()

	// stdout carries the protocol, so logs go to stderr.
	logger := logging.NewLogger(cfg.Logging())
	logger.WithField("data_dir", cfg.DataDir).Info("Starting CardioVision MCP Server (Lite)")

	server, err := mcp.NewLiteServer(cfg, mcp.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("MCP server failed")
		return
	}
	logger.Info("CardioVision MCP Server (Lite) stopped")
}
