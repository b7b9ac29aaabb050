// Package sqlite implements repository.IdentityRepository on SQLite.
//
// WHY SQLITE?
// The identity data is small (a few hundred technicians, two roles) and the
// backend usually runs as one instance next to its database file. SQLite
// gives full ACID transactions with no server to operate. Larger deployments
// use the postgres package instead; both implement the same interface.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// modernc is a pure Go translation of SQLite. No CGo, no C compiler, and
// cross-compiling the server stays a plain `go build`.
//
// CONNECTION SETTINGS:
// database/sql keeps a pool of connections, and SQLite PRAGMAs are
// per-connection. Running "PRAGMA foreign_keys=ON" once after Open would
// only configure whichever connection happened to run it. Passing the
// pragmas in the DSN makes the driver apply them to every new connection:
//
//	journal_mode(WAL)    readers never block the single writer
//	foreign_keys(1)      user_roles/technician_profiles cannot point at a missing user
//	busy_timeout(5000)   a second writer waits up to 5s instead of failing at once
//	_txlock=immediate    BEGIN takes the write lock up front, so two
//	                     provisioning transactions serialize instead of
//	                     deadlocking on lock upgrade
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/laporketua/identity/internal/repository"
)

// DB wraps a sql.DB connection pool and implements
// repository.IdentityRepository.
type DB struct {
	conn   *sql.DB
	hasher repository.PasswordHasher
	logger *slog.Logger
}

// New opens (creating if needed) the SQLite database at dbPath and runs
// migrations.
//
// dbPath must be a file path. ":memory:" is rejected: every pooled
// connection to ":memory:" would see its own empty database.
func New(dbPath string, hasher repository.PasswordHasher, logger *slog.Logger) (*DB, error) {
	if dbPath == "" || strings.Contains(dbPath, ":memory:") {
		return nil, fmt.Errorf("sqlite: a database file path is required, got %q", dbPath)
	}
	if hasher == nil {
		return nil, errors.New("sqlite: password hasher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// sql.Open only builds the pool; Ping forces a real connection so a bad
	// path or permission problem surfaces here rather than on first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn, hasher: hasher, logger: logger}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// migrate creates the schema and seeds the role catalog.
//
// Every statement is idempotent (IF NOT EXISTS / INSERT OR IGNORE), so
// migrate runs on every start without tracking versions. The postgres
// backend, which is shared between instances, uses golang-migrate instead.
//
// Foreign keys deliberately have no ON DELETE CASCADE: DeleteUserCascade
// removes dependents explicitly, and the constraint turns any forgotten
// dependent into an error instead of a silent delete.
func (db *DB) migrate() error {
	// Phase 1: role catalog
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS roles (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);
		INSERT OR IGNORE INTO roles (name) VALUES ('admin'), ('teknisi');
	`)
	if err != nil {
		return fmt.Errorf("creating roles table: %w", err)
	}

	// Phase 2: users and their role links.
	// email uses the default BINARY collation: uniqueness and lookups are
	// case-sensitive exact matches.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS user_roles (
			user_id INTEGER NOT NULL REFERENCES users(id),
			role_id INTEGER NOT NULL REFERENCES roles(id),
			PRIMARY KEY (user_id, role_id)
		);
		CREATE INDEX IF NOT EXISTS idx_user_roles_role_id ON user_roles(role_id);
	`)
	if err != nil {
		return fmt.Errorf("creating users tables: %w", err)
	}

	// Phase 3: technician profiles, keyed by the owning user's id
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS technician_profiles (
			user_id     INTEGER PRIMARY KEY REFERENCES users(id),
			phone       TEXT NOT NULL DEFAULT '',
			work_area   TEXT NOT NULL DEFAULT '',
			address     TEXT,
			coordinates TEXT,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating technician_profiles table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// primary result code only; fall back to the message
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}
