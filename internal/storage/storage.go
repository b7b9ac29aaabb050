// Package storage opens the Identity Repository backend named in the
// configuration.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/laporketua/identity/internal/config"
	"github.com/laporketua/identity/internal/repository"
	"github.com/laporketua/identity/internal/repository/postgres"
	"github.com/laporketua/identity/internal/repository/sqlite"
)

// Open returns a migrated, ready repository for cfg.Driver. The caller owns
// it and must Close it.
//
//	sqlite   → a file at cfg.Path; its directory is created if missing
//	postgres → a pgx pool on cfg.URL; waits for the server, then migrates
func Open(ctx context.Context, cfg config.DatabaseConfig, hasher repository.PasswordHasher, logger *slog.Logger) (repository.IdentityRepository, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		// 0755 = owner can read/write/execute, others can read/execute.
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: creating database directory %s: %w", dir, err)
		}
		db, err := sqlite.New(cfg.Path, hasher, logger)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "sqlite repository ready", slog.String("path", cfg.Path))
		return db, nil

	case config.DriverPostgres:
		db, err := postgres.Open(ctx, cfg.URL, hasher, logger)
		if err != nil {
			return nil, err
		}
		logger.InfoContext(ctx, "postgres repository ready")
		return db, nil

	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
}
