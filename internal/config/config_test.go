package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsValidateForSandbox(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "sandbox"
	cfg.Feed.Source = "mock"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "audit"
log_level = "debug"

[postgres]
host = "db.internal"
password = "secret"

[feed]
source = "mock"
symbols = ["EURUSD"]
max_quote_age = "45s"

[recon]
auto_correct = true
interval = "30m"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "audit", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"EURUSD"}, cfg.Feed.Symbols)
	assert.Equal(t, 45*time.Second, cfg.Feed.MaxQuoteAge.Duration)
	assert.True(t, cfg.Recon.AutoCorrect)
	assert.Equal(t, 30*time.Minute, cfg.Recon.Interval.Duration)

	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
mode = "serve"

[feed]
source = "mock"
`)
	t.Setenv("LEDGERD_MODE", "sandbox")
	t.Setenv("LEDGERD_POSTGRES_PASSWORD", "from-env")
	t.Setenv("LEDGERD_REDIS_DB", "3")
	t.Setenv("LEDGERD_RECON_AUTO_CORRECT", "true")
	t.Setenv("LEDGERD_WATCHER_INTERVAL", "12s")
	t.Setenv("LEDGERD_FEED_SYMBOLS", "EURUSD, GBPUSD")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sandbox", cfg.Mode)
	assert.Equal(t, "from-env", cfg.Postgres.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Recon.AutoCorrect)
	assert.Equal(t, 12*time.Second, cfg.Watcher.Interval.Duration)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, cfg.Feed.Symbols)
}

func TestNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	assert.True(t, cfg.NeedsPostgres())
	cfg.Mode = "audit"
	assert.True(t, cfg.NeedsPostgres())
	cfg.Mode = "sandbox"
	assert.False(t, cfg.NeedsPostgres())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "replay" }, "unknown mode"},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }, "unknown log_level"},
		{"missing postgres host", func(c *Config) { c.Postgres.Host = "" }, "postgres: host"},
		{"pool bounds inverted", func(c *Config) { c.Postgres.PoolMinConns = 50 }, "pool_min_conns"},
		{"missing redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis: addr"},
		{"s3 enabled without bucket", func(c *Config) {
			c.S3.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket"},
		{"unknown feed source", func(c *Config) { c.Feed.Source = "replay" }, "feed: unknown source"},
		{"stream without ws url", func(c *Config) { c.Feed.WsURL = "" }, "feed: ws_url"},
		{"no symbols", func(c *Config) { c.Feed.Symbols = nil }, "at least one symbol"},
		{"sync enabled without base url", func(c *Config) { c.Sync.Enabled = true }, "sync: base_url"},
		{"watcher zero interval", func(c *Config) { c.Watcher.Interval.Duration = 0 }, "watcher: interval"},
		{"duplicate instrument", func(c *Config) {
			c.Instruments = append(c.Instruments, c.Instruments[0])
		}, "duplicate symbol"},
		{"unknown instrument class", func(c *Config) { c.Instruments[0].Class = "bonds" }, "unknown class"},
		{"non-positive stop distance", func(c *Config) { c.Instruments[0].MinStopDistance = 0 }, "min_stop_distance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Feed.WsURL = "wss://quotes.example.com/stream"
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Postgres.DSN = "postgres://user:pw@host/db"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.AccessKey = "AKIA123"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Sync.APIKey = "sync-secret"
	cfg.Notify.TelegramToken = "tg-token"
	cfg.Notify.DiscordWebhookURL = "https://discord.example.com/webhook"

	red := RedactedConfig(&cfg)
	assert.NotContains(t, red.Postgres.Password, "pg-secret")
	assert.NotContains(t, red.Postgres.DSN, "pw")
	assert.NotContains(t, red.Redis.Password, "redis-secret")
	assert.NotContains(t, red.S3.SecretKey, "s3-secret")
	assert.NotContains(t, red.Sync.APIKey, "sync-secret")
	assert.NotContains(t, red.Notify.TelegramToken, "tg-token")

	// Non-secret fields survive.
	assert.Equal(t, cfg.Postgres.Host, red.Postgres.Host)
	assert.Equal(t, cfg.Feed.Symbols, red.Feed.Symbols)
}
