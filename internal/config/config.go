// Package config loads the auction engine's settings from a TOML file,
// an optional .env file and AUCTION_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cpl/auction-engine/internal/league"
)

// Config is the root configuration.
type Config struct {
	LogLevel string         `toml:"log_level"`
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	League   league.Rules   `toml:"league"`
}

// duration is a wrapper around time.Duration that decodes TOML strings
// like "5s" or "1m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	IdleTimeout  duration `toml:"idle_timeout"`
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// Database drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and configures the primary store.
type DatabaseConfig struct {
	Driver        string `toml:"driver"`
	DSN           string `toml:"dsn"`
	SQLitePath    string `toml:"sqlite_path"`
	MaxConns      int32  `toml:"max_conns"`
	MinConns      int32  `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig enables the read-through cache and the distributed locker.
// An empty URL disables both.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
	LockTTL  duration `toml:"lock_ttl"`
	LockWait duration `toml:"lock_wait"`
}

// Enabled reports whether a Redis URL is configured.
func (r RedisConfig) Enabled() bool { return r.URL != "" }

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:         8080,
			CORSOrigins:  []string{"*"},
			ReadTimeout:  duration{10 * time.Second},
			WriteTimeout: duration{10 * time.Second},
			IdleTimeout:  duration{60 * time.Second},
		},
		Database: DatabaseConfig{
			Driver:        DriverMemory,
			SQLitePath:    "auction.db",
			MaxConns:      10,
			MinConns:      1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			CacheTTL: duration{30 * time.Second},
			LockTTL:  duration{10 * time.Second},
			LockWait: duration{2 * time.Second},
		},
		League: league.Default(),
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	DriverMemory:   true,
	DriverSQLite:   true,
	DriverPostgres: true,
}

// SlogLevel maps LogLevel onto a slog.Level. Unknown values fall back to
// info; Validate reports them.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout.Duration <= 0 || c.Server.WriteTimeout.Duration <= 0 {
		errs = append(errs, "server: read_timeout and write_timeout must be positive")
	}

	// Database
	driver := strings.ToLower(c.Database.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("database: unknown driver %q (valid: memory, sqlite, postgres)", c.Database.Driver))
	}
	if driver == DriverPostgres && c.Database.DSN == "" {
		errs = append(errs, "database: dsn is required for the postgres driver")
	}
	if driver == DriverSQLite && c.Database.SQLitePath == "" {
		errs = append(errs, "database: sqlite_path is required for the sqlite driver")
	}
	if c.Database.MinConns < 0 || c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("database: need 0 <= min_conns <= max_conns, got %d/%d",
			c.Database.MinConns, c.Database.MaxConns))
	}

	// Redis
	if c.Redis.Enabled() {
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be positive")
		}
		if c.Redis.CacheTTL.Duration <= 0 {
			errs = append(errs, "redis: cache_ttl must be positive")
		}
	}

	// League
	if err := c.League.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
