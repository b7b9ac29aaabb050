// Package config loads runtime configuration from the environment.
//
// Values come from real environment variables; a .env file in the working
// directory, when present, fills in whatever is not already set.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port     int    `env:"PORT, default=8080"`
	Env      string `env:"APP_ENV, default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Auth     AuthConfig
	Database DatabaseConfig
	CORS     CORSConfig
	Admin    AdminConfig
}

type AuthConfig struct {
	JWTSecret  string        `env:"JWT_SECRET, required"`
	TokenTTL   time.Duration `env:"JWT_TTL, default=24h"`
	BcryptCost int           `env:"BCRYPT_COST, default=12"`
}

type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER, default=sqlite"`
	Path   string `env:"DB_PATH, default=data/identity.db"`
	URL    string `env:"DATABASE_URL"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS, default=*"`
}

// AdminConfig is read by the seed command only.
type AdminConfig struct {
	Name     string `env:"ADMIN_NAME, default=Administrator"`
	Email    string `env:"ADMIN_EMAIL, default=admin@laporketua.com"`
	Password string `env:"ADMIN_PASSWORD, default=password"`
}

// IsDevelopment reports whether the process runs in the development
// environment (colored logs, verbose errors in logs).
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development"
}

// Load reads .env (if present) and the process environment.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration from an arbitrary lookuper. Tests pass
// envconfig.MapLookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("config: DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	return nil
}
