// Package postgres implements repository.IdentityRepository on PostgreSQL
// with pgx.
//
// Schema changes live in migrations/*.sql, embedded into the binary and
// applied with golang-migrate, because several API instances can share one
// database and must agree on its version.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/laporketua/identity/internal/repository"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const defaultRetries = 5

// Pool is the subset of *pgxpool.Pool the repository uses. pgxmock's pool
// satisfies it too, which is how the tests run without a server.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB implements repository.IdentityRepository over a pgx pool.
type DB struct {
	pool   Pool
	hasher repository.PasswordHasher
	logger *slog.Logger
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool Pool, hasher repository.PasswordHasher, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{pool: pool, hasher: hasher, logger: logger}
}

// Open connects to databaseURL, waits for the server to answer, applies
// pending migrations and returns a ready repository.
func Open(ctx context.Context, databaseURL string, hasher repository.PasswordHasher, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}

	if !WaitForDB(ctx, pool, logger) {
		pool.Close()
		return nil, errors.New("postgres: database not reachable")
	}

	if err := RunMigrations(databaseURL, logger); err != nil {
		pool.Close()
		return nil, err
	}

	return New(pool, hasher, logger), nil
}

// WaitForDB pings the pool with a growing back-off and reports whether it
// answered within defaultRetries attempts.
func WaitForDB(ctx context.Context, pool Pool, logger *slog.Logger) bool {
	for attempt := 1; attempt <= defaultRetries; attempt++ {
		err := pool.Ping(ctx)
		if err == nil {
			logger.InfoContext(ctx, "database connection successful")
			return true
		}

		wait := time.Duration(attempt) * 200 * time.Millisecond
		logger.WarnContext(ctx, "database ping failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", defaultRetries),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if attempt == defaultRetries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
	logger.ErrorContext(ctx, "database connection failed after retries")
	return false
}

// RunMigrations applies the embedded migrations to databaseURL.
// ErrNoChange is success.
func RunMigrations(databaseURL string, logger *slog.Logger) error {
	if !strings.HasPrefix(databaseURL, "postgres://") && !strings.HasPrefix(databaseURL, "postgresql://") {
		return errors.New("postgres: database url must start with postgres:// or postgresql://")
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: creating migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("postgres: initializing migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("closing migrator", slog.Any("source_error", srcErr), slog.Any("db_error", dbErr))
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: applying migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		logger.Warn("could not determine migration version", slog.Any("error", err))
		return nil
	}
	if dirty {
		return fmt.Errorf("postgres: migration state is dirty at version %d", version)
	}
	logger.Info("database migrations applied", slog.Uint64("version", uint64(version)))
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// emailConstraint is the unique constraint on users.email (see migrations).
const emailConstraint = "users_email_key"

// isEmailViolation reports whether err is a unique violation (SQLSTATE
// 23505) of the users.email constraint.
func isEmailViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == emailConstraint
}
