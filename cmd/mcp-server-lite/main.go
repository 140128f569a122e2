// Package main is the standalone MCP entry point. It requires no external
// databases: rewrites are cached in memory and feedback is kept in SQLite.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/admission-criteria-server/internal/config"
	"github.com/admission-criteria-server/internal/mcp"
	"github.com/admission-criteria-server/internal/setup"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.NewCLI().Run(os.Args[2:]); err != nil {
			logrus.Fatalf("Setup failed: %v", err)
		}
		return
	}

	cfg := config.LoadLiteConfig()

	// logrus writes to stderr, leaving stdout to the stdio transport.
	logger := logrus.StandardLogger()
	logger.WithFields(logrus.Fields{
		"transport": cfg.Transport,
		"data_dir":  cfg.DataDir,
	}).Info("Starting admission criteria MCP server (lite)")

	server, err := mcp.NewLiteServer(cfg)
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

	logger.Info("Admission criteria MCP server (lite) stopped")
}
