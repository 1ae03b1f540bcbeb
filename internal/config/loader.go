package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BABYLON_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BABYLON_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BABYLON_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BABYLON_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BABYLON_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BABYLON_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BABYLON_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BABYLON_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BABYLON_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BABYLON_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BABYLON_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BABYLON_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BABYLON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BABYLON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BABYLON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BABYLON_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BABYLON_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BABYLON_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "BABYLON_REDIS_CACHE_TTL_MINUTES")
	setInt(&cfg.Redis.StreamMaxLen, "BABYLON_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BABYLON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BABYLON_S3_REGION")
	setStr(&cfg.S3.Bucket, "BABYLON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BABYLON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BABYLON_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BABYLON_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BABYLON_S3_FORCE_PATH_STYLE")

	// ── Markets ──
	setFloat64(&cfg.Markets.InitialShares, "BABYLON_MARKETS_INITIAL_SHARES")
	setFloat64(&cfg.Markets.InitialBalance, "BABYLON_MARKETS_INITIAL_BALANCE")
	setFloat64(&cfg.Markets.MaxTradeUSD, "BABYLON_MARKETS_MAX_TRADE_USD")
	setInt(&cfg.Markets.TradeRateLimit, "BABYLON_MARKETS_TRADE_RATE_LIMIT")
	setDuration(&cfg.Markets.TradeRateWindow, "BABYLON_MARKETS_TRADE_RATE_WINDOW")

	// ── Sim ──
	setBool(&cfg.Sim.Enabled, "BABYLON_SIM_ENABLED")
	setDuration(&cfg.Sim.TickInterval, "BABYLON_SIM_TICK_INTERVAL")
	setStringSlice(&cfg.Sim.Personas, "BABYLON_SIM_PERSONAS")
	setInt(&cfg.Sim.TradersPerPersona, "BABYLON_SIM_TRADERS_PER_PERSONA")
	setInt64(&cfg.Sim.Seed, "BABYLON_SIM_SEED")
	setStringSlice(&cfg.Sim.PerpTickers, "BABYLON_SIM_PERP_TICKERS")
	setFloat64(&cfg.Sim.PerpVolatility, "BABYLON_SIM_PERP_VOLATILITY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BABYLON_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "BABYLON_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "BABYLON_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BABYLON_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BABYLON_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BABYLON_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BABYLON_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "BABYLON_MODE")
	setStr(&cfg.LogLevel, "BABYLON_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
