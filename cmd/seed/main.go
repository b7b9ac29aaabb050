// Command seed makes sure the initial admin account exists.
//
// Roles are reference data created by the migrations; this only creates the
// admin user (ADMIN_NAME, ADMIN_EMAIL, ADMIN_PASSWORD) or, when the email is
// already registered, resets its password. Safe to run on every deploy.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/laporketua/identity/internal/auth"
	"github.com/laporketua/identity/internal/config"
	"github.com/laporketua/identity/internal/logging"
	"github.com/laporketua/identity/internal/service"
	"github.com/laporketua/identity/internal/storage"
	"github.com/laporketua/identity/internal/validation"
)

func main() {
	if err := run(); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.IsDevelopment(), cfg.LogLevel)
	slog.SetDefault(logger)

	passwords := auth.NewPasswordService(cfg.Auth.BcryptCost)
	repo, err := storage.Open(ctx, cfg.Database, passwords, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	provisioning := service.NewProvisioningService(repo, passwords, validation.New(), logger)
	admin, err := provisioning.SeedAdmin(ctx, cfg.Admin.Name, cfg.Admin.Email, cfg.Admin.Password)
	if err != nil {
		return err
	}

	logger.Info("seed complete",
		slog.Int64("adminID", admin.ID),
		slog.String("email", admin.Email),
	)
	return nil
}
