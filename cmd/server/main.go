// Package main is the entry point for the ChatCode server.
//
// main stays minimal: load configuration, build the logger, hand both to
// internal/server and block until shutdown. Every setting comes from the
// environment (or a .env file); see internal/config for the list.
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/chatcode/internal/config"
	"github.com/sakif/chatcode/internal/logging"
	"github.com/sakif/chatcode/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		slog.Error("setting up logging", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		closeLog()
		os.Exit(1)
	}
	closeLog()
}

func run(cfg config.Config, logger *slog.Logger) error {
	if cfg.GeneratedSecret {
		logger.Warn("APP_SECRET not set; using a random secret, sessions will not survive a restart")
	}
	if !cfg.Google.Configured() && !cfg.GitHub.Configured() {
		logger.Warn("no OAuth provider configured; only password sign-in is available")
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	// Start blocks until SIGINT or SIGTERM.
	return srv.Start()
}
