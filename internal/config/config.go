// Package config defines the top-level configuration for the ledger daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LEDGERD_* environment
// variables.
type Config struct {
	Postgres    PostgresConfig     `toml:"postgres"`
	Redis       RedisConfig        `toml:"redis"`
	S3          S3Config           `toml:"s3"`
	Feed        FeedConfig         `toml:"feed"`
	Sync        SyncConfig         `toml:"sync"`
	Notify      NotifyConfig       `toml:"notify"`
	Watcher     WatcherConfig      `toml:"watcher"`
	Recon       ReconConfig        `toml:"recon"`
	Instruments []InstrumentConfig `toml:"instruments"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
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
}

// S3Config holds S3-compatible object storage parameters for report
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig holds market data parameters. Source selects the price feed:
// "stream" reads the upstream quote WebSocket through the Redis cache,
// "mock" runs the in-process random walk.
type FeedConfig struct {
	Source      string   `toml:"source"`
	WsURL       string   `toml:"ws_url"`
	Symbols     []string `toml:"symbols"`
	MaxQuoteAge duration `toml:"max_quote_age"`
	QuoteTTL    duration `toml:"quote_ttl"`
}

// SyncConfig holds the external ledger API parameters used to mirror
// realized PnL for real accounts.
type SyncConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// WatcherConfig holds SL/TP watcher parameters.
type WatcherConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	LockTTL  duration `toml:"lock_ttl"`
}

// ReconConfig holds wallet reconciliation parameters.
type ReconConfig struct {
	Enabled     bool     `toml:"enabled"`
	Interval    duration `toml:"interval"`
	AutoCorrect bool     `toml:"auto_correct"`
	LockTTL     duration `toml:"lock_ttl"`
}

// InstrumentConfig describes one tradable instrument.
type InstrumentConfig struct {
	Symbol          string  `toml:"symbol"`
	Class           string  `toml:"class"`
	MinStopDistance float64 `toml:"min_stop_distance"`
	PricePrecision  int     `toml:"price_precision"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "brokerledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "brokerledger-reports",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			Source:      "stream",
			Symbols:     []string{"EURUSD", "BTCUSD"},
			MaxQuoteAge: duration{30 * time.Second},
			QuoteTTL:    duration{5 * time.Minute},
		},
		Sync: SyncConfig{
			Enabled: false,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_opened", "trade_closed", "sl_hit", "tp_hit", "risk_warning", "risk_critical"},
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Interval: duration{5 * time.Second},
			LockTTL:  duration{30 * time.Second},
		},
		Recon: ReconConfig{
			Enabled:     true,
			Interval:    duration{1 * time.Hour},
			AutoCorrect: false,
			LockTTL:     duration{10 * time.Minute},
		},
		Instruments: []InstrumentConfig{
			{Symbol: "EURUSD", Class: "forex", MinStopDistance: 0.0005, PricePrecision: 5},
			{Symbol: "BTCUSD", Class: "crypto", MinStopDistance: 50, PricePrecision: 2},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"audit":   true,
	"sandbox": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validClasses enumerates the accepted instrument classes.
var validClasses = map[string]bool{
	"forex":       true,
	"crypto":      true,
	"commodities": true,
	"indices":     true,
	"stocks":      true,
}

// NeedsPostgres reports whether the mode requires a database connection.
// The sandbox runs entirely in memory.
func (c *Config) NeedsPostgres() bool {
	return c.Mode != "sandbox"
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, audit, sandbox)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.NeedsPostgres() {
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

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	switch c.Feed.Source {
	case "stream":
		if c.Mode == "serve" && c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url is required for the stream source")
		}
	case "mock":
	default:
		errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: stream, mock)", c.Feed.Source))
	}
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: at least one symbol is required")
	}
	if c.Feed.MaxQuoteAge.Duration < 0 {
		errs = append(errs, "feed: max_quote_age must not be negative")
	}

	if c.Sync.Enabled && c.Sync.BaseURL == "" {
		errs = append(errs, "sync: base_url is required when enabled")
	}

	if c.Watcher.Enabled && c.Watcher.Interval.Duration <= 0 {
		errs = append(errs, "watcher: interval must be > 0 when enabled")
	}
	if c.Recon.Enabled && c.Mode == "serve" && c.Recon.Interval.Duration <= 0 {
		errs = append(errs, "recon: interval must be > 0 when enabled")
	}

	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst.Symbol == "" {
			errs = append(errs, "instruments: symbol must not be empty")
			continue
		}
		if seen[inst.Symbol] {
			errs = append(errs, fmt.Sprintf("instruments: duplicate symbol %q", inst.Symbol))
		}
		seen[inst.Symbol] = true
		if !validClasses[inst.Class] {
			errs = append(errs, fmt.Sprintf("instruments: %s: unknown class %q", inst.Symbol, inst.Class))
		}
		if inst.MinStopDistance <= 0 {
			errs = append(errs, fmt.Sprintf("instruments: %s: min_stop_distance must be > 0", inst.Symbol))
		}
		if inst.PricePrecision < 0 {
			errs = append(errs, fmt.Sprintf("instruments: %s: price_precision must be >= 0", inst.Symbol))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
