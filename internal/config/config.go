// Package config defines the top-level configuration for the babylon backend
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BABYLON_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Markets  MarketsConfig  `toml:"markets"`
	Sim      SimConfig      `toml:"sim"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// CacheTTLMinutes controls the market/price cache TTL; 0 keeps defaults.
	CacheTTLMinutes int `toml:"cache_ttl_minutes"`
	StreamMaxLen    int `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MarketsConfig holds prediction-market economics parameters.
type MarketsConfig struct {
	// InitialShares seeds both reserves of a newly created market.
	InitialShares float64 `toml:"initial_shares"`
	// InitialBalance is the USD balance granted to new users.
	InitialBalance float64 `toml:"initial_balance"`
	// MaxTradeUSD caps a single buy; 0 disables the cap.
	MaxTradeUSD float64 `toml:"max_trade_usd"`
	// TradeRateLimit / TradeRateWindow bound trades per user per window.
	TradeRateLimit  int      `toml:"trade_rate_limit"`
	TradeRateWindow duration `toml:"trade_rate_window"`
}

// SimConfig holds NPC economy parameters.
type SimConfig struct {
	Enabled      bool     `toml:"enabled"`
	TickInterval duration `toml:"tick_interval"`
	// Personas lists which NPC behaviors run: momentum, contrarian, noise.
	Personas []string `toml:"personas"`
	// TradersPerPersona controls how many NPC users each persona drives.
	TradersPerPersona int `toml:"traders_per_persona"`
	// Seed fixes the random source; 0 seeds from wall-clock time.
	Seed int64 `toml:"seed"`
	// PerpTickers are the simulated perpetual-futures symbols to random-walk.
	PerpTickers []string `toml:"perp_tickers"`
	// PerpVolatility is the per-tick stddev of the perp log-return walk.
	PerpVolatility float64 `toml:"perp_volatility"`
}

// ArchiveConfig holds cold-storage export parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "babylon",
			User:          "babylon",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			DB:              0,
			PoolSize:        20,
			MaxRetries:      3,
			TLSEnabled:      false,
			CacheTTLMinutes: 5,
			StreamMaxLen:    10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "babylon-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Markets: MarketsConfig{
			InitialShares:   500.0,
			InitialBalance:  1000.0,
			MaxTradeUSD:     10_000.0,
			TradeRateLimit:  30,
			TradeRateWindow: duration{time.Minute},
		},
		Sim: SimConfig{
			Enabled:           true,
			TickInterval:      duration{10 * time.Second},
			Personas:          []string{"momentum", "contrarian", "noise"},
			TradersPerPersona: 3,
			PerpTickers:       []string{"BBLX", "ZIGG", "ETEM"},
			PerpVolatility:    0.01,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":    true,
	"simulate": true,
	"archive":  true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, simulate, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3, checked only when the archive runs.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Markets
	if c.Markets.InitialShares <= 0 {
		errs = append(errs, "markets: initial_shares must be > 0")
	}
	if c.Markets.InitialBalance < 0 {
		errs = append(errs, "markets: initial_balance must be >= 0")
	}
	if c.Markets.MaxTradeUSD < 0 {
		errs = append(errs, "markets: max_trade_usd must be >= 0")
	}
	if c.Markets.TradeRateLimit > 0 && c.Markets.TradeRateWindow.Duration <= 0 {
		errs = append(errs, "markets: trade_rate_window must be positive when trade_rate_limit is set")
	}

	// Sim
	if c.Sim.Enabled {
		if c.Sim.TickInterval.Duration <= 0 {
			errs = append(errs, "sim: tick_interval must be positive")
		}
		if c.Sim.TradersPerPersona < 1 {
			errs = append(errs, "sim: traders_per_persona must be >= 1")
		}
		for _, p := range c.Sim.Personas {
			switch p {
			case "momentum", "contrarian", "noise":
			default:
				errs = append(errs, fmt.Sprintf("sim: unknown persona %q (valid: momentum, contrarian, noise)", p))
			}
		}
		if c.Sim.PerpVolatility < 0 {
			errs = append(errs, "sim: perp_volatility must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
