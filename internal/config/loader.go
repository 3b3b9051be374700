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
// built-in defaults, applies LEDGERD_* environment variable overrides, and
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

// applyEnvOverrides reads well-known LEDGERD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LEDGERD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LEDGERD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LEDGERD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LEDGERD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LEDGERD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LEDGERD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LEDGERD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LEDGERD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LEDGERD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LEDGERD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LEDGERD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LEDGERD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LEDGERD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LEDGERD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LEDGERD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LEDGERD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LEDGERD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LEDGERD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LEDGERD_S3_REGION")
	setStr(&cfg.S3.Bucket, "LEDGERD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LEDGERD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LEDGERD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LEDGERD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LEDGERD_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.Source, "LEDGERD_FEED_SOURCE")
	setStr(&cfg.Feed.WsURL, "LEDGERD_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "LEDGERD_FEED_SYMBOLS")
	setDuration(&cfg.Feed.MaxQuoteAge, "LEDGERD_FEED_MAX_QUOTE_AGE")
	setDuration(&cfg.Feed.QuoteTTL, "LEDGERD_FEED_QUOTE_TTL")

	// ── Sync ──
	setBool(&cfg.Sync.Enabled, "LEDGERD_SYNC_ENABLED")
	setStr(&cfg.Sync.BaseURL, "LEDGERD_SYNC_BASE_URL")
	setStr(&cfg.Sync.APIKey, "LEDGERD_SYNC_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LEDGERD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LEDGERD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LEDGERD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LEDGERD_NOTIFY_EVENTS")

	// ── Watcher ──
	setBool(&cfg.Watcher.Enabled, "LEDGERD_WATCHER_ENABLED")
	setDuration(&cfg.Watcher.Interval, "LEDGERD_WATCHER_INTERVAL")
	setDuration(&cfg.Watcher.LockTTL, "LEDGERD_WATCHER_LOCK_TTL")

	// ── Recon ──
	setBool(&cfg.Recon.Enabled, "LEDGERD_RECON_ENABLED")
	setDuration(&cfg.Recon.Interval, "LEDGERD_RECON_INTERVAL")
	setBool(&cfg.Recon.AutoCorrect, "LEDGERD_RECON_AUTO_CORRECT")
	setDuration(&cfg.Recon.LockTTL, "LEDGERD_RECON_LOCK_TTL")

	// ── Top-level ──
	setStr(&cfg.Mode, "LEDGERD_MODE")
	setStr(&cfg.LogLevel, "LEDGERD_LOG_LEVEL")
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
