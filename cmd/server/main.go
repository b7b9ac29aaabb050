// Package main is the entry point for the laporketua identity API.
//
// The main package stays minimal. Its job is to:
//  1. Read configuration (environment, optionally a .env file)
//  2. Create dependencies (logger, password service, repository)
//  3. Start the server
//
// All actual logic lives in the internal packages.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/laporketua/identity/internal/auth"
	"github.com/laporketua/identity/internal/config"
	"github.com/laporketua/identity/internal/logging"
	"github.com/laporketua/identity/internal/server"
	"github.com/laporketua/identity/internal/storage"
)

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load(context.Background())
	if err != nil {
		slog.Error("loading configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := logging.New(os.Stdout, cfg.IsDevelopment(), cfg.LogLevel)
	slog.SetDefault(logger)

	// === 3. OPEN STORAGE ===
	// The repository hashes passwords inside its provisioning transaction,
	// so it shares the PasswordService with the services.
	passwords := auth.NewPasswordService(cfg.Auth.BcryptCost)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	repo, err := storage.Open(ctx, cfg.Database, passwords, logger)
	cancel()
	if err != nil {
		logger.Error("failed to open storage",
			slog.String("driver", cfg.Database.Driver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger, repo, passwords)
	if err != nil {
		repo.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
