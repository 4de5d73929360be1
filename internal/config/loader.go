package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load merges the TOML file at path (if path is non-empty) on top of the
// built-in defaults, then applies AUCTION_* environment overrides. The
// returned Config has NOT been validated; call Config.Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from AUCTION_* variables that
// are set and parse cleanly. Unparseable values are ignored and the file or
// default value stays in place.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "AUCTION_LOG_LEVEL")

	// ── Server ──
	setInt(&cfg.Server.Port, "AUCTION_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTION_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ReadTimeout, "AUCTION_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "AUCTION_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "AUCTION_SERVER_IDLE_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.Driver, "AUCTION_DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "AUCTION_DATABASE_DSN")
	setStr(&cfg.Database.SQLitePath, "AUCTION_DATABASE_SQLITE_PATH")
	setInt32(&cfg.Database.MaxConns, "AUCTION_DATABASE_MAX_CONNS")
	setInt32(&cfg.Database.MinConns, "AUCTION_DATABASE_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "AUCTION_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "AUCTION_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "AUCTION_REDIS_CACHE_TTL")
	setDuration(&cfg.Redis.LockTTL, "AUCTION_REDIS_LOCK_TTL")
	setDuration(&cfg.Redis.LockWait, "AUCTION_REDIS_LOCK_WAIT")

	// ── League ──
	setInt(&cfg.League.InternalPlayers, "AUCTION_LEAGUE_INTERNAL_PLAYERS")
	setInt(&cfg.League.ExternalPlayers, "AUCTION_LEAGUE_EXTERNAL_PLAYERS")
	setDecimal(&cfg.League.InternalBasic, "AUCTION_LEAGUE_INTERNAL_BASIC")
	setDecimal(&cfg.League.ExternalBasic, "AUCTION_LEAGUE_EXTERNAL_BASIC")
	setDecimal(&cfg.League.TeamBudget, "AUCTION_LEAGUE_TEAM_BUDGET")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
