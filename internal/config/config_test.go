package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.True(t, cfg.Postgres.RunMigrations)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 10000, cfg.Redis.StreamMaxLen)
	assert.Equal(t, 500.0, cfg.Markets.InitialShares)
	assert.Equal(t, 1000.0, cfg.Markets.InitialBalance)
	assert.Equal(t, time.Minute, cfg.Markets.TradeRateWindow.Duration)
	assert.True(t, cfg.Sim.Enabled)
	assert.Equal(t, []string{"momentum", "contrarian", "noise"}, cfg.Sim.Personas)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, 8000, cfg.Server.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "serve"
log_level = "debug"

[postgres]
host = "db.internal"
port = 5433

[markets]
initial_shares = 250.0
trade_rate_window = "30s"

[sim]
enabled = false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, 250.0, cfg.Markets.InitialShares)
	assert.Equal(t, 30*time.Second, cfg.Markets.TradeRateWindow.Duration)
	assert.False(t, cfg.Sim.Enabled)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, "babylon", cfg.Postgres.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 1000.0, cfg.Markets.InitialBalance)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
[postgres]
host = "db.internal"
`)

	t.Setenv("BABYLON_POSTGRES_HOST", "db.override")
	t.Setenv("BABYLON_POSTGRES_PORT", "6543")
	t.Setenv("BABYLON_REDIS_TLS_ENABLED", "true")
	t.Setenv("BABYLON_MARKETS_MAX_TRADE_USD", "2500.5")
	t.Setenv("BABYLON_MARKETS_TRADE_RATE_WINDOW", "90s")
	t.Setenv("BABYLON_SIM_PERSONAS", "momentum, noise")
	t.Setenv("BABYLON_SIM_SEED", "42")
	t.Setenv("BABYLON_MODE", "simulate")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.override", cfg.Postgres.Host)
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.True(t, cfg.Redis.TLSEnabled)
	assert.Equal(t, 2500.5, cfg.Markets.MaxTradeUSD)
	assert.Equal(t, 90*time.Second, cfg.Markets.TradeRateWindow.Duration)
	assert.Equal(t, []string{"momentum", "noise"}, cfg.Sim.Personas)
	assert.Equal(t, int64(42), cfg.Sim.Seed)
	assert.Equal(t, "simulate", cfg.Mode)
}

func TestLoad_EnvOverrideBadValueIgnored(t *testing.T) {
	path := writeConfigFile(t, `
[postgres]
port = 5433
`)

	t.Setenv("BABYLON_POSTGRES_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5433, cfg.Postgres.Port)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "spectate"
	cfg.LogLevel = "loud"
	cfg.Postgres.Host = ""
	cfg.Redis.Addr = ""
	cfg.Markets.InitialShares = 0

	err := cfg.Validate()
	require.Error(t, err)

	assert.Contains(t, err.Error(), `unknown mode "spectate"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "postgres: host must not be empty")
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
	assert.Contains(t, err.Error(), "markets: initial_shares must be > 0")
}

func TestValidate_DSNSkipsHostChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://u:p@db:5432/babylon"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""

	require.NoError(t, cfg.Validate())
}

func TestValidate_ArchiveRequiresS3(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Endpoint = ""
	cfg.S3.Bucket = ""
	cfg.Archive.RetentionDays = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: endpoint must not be empty")
	assert.Contains(t, err.Error(), "s3: bucket must not be empty")
	assert.Contains(t, err.Error(), "archive: retention_days must be >= 1")

	// Disabled archive tolerates empty S3 config.
	cfg.Archive.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestValidate_SimPersonas(t *testing.T) {
	cfg := Defaults()
	cfg.Sim.Personas = []string{"momentum", "berserker"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sim: unknown persona "berserker"`)

	// Disabled sim skips persona validation entirely.
	cfg.Sim.Enabled = false
	require.NoError(t, cfg.Validate())
}
