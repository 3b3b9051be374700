package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	s3blob "github.com/farrukhsid/brokerledger/internal/blob/s3"
	"github.com/farrukhsid/brokerledger/internal/cache/redis"
	"github.com/farrukhsid/brokerledger/internal/config"
	"github.com/farrukhsid/brokerledger/internal/domain"
	"github.com/farrukhsid/brokerledger/internal/feed"
	"github.com/farrukhsid/brokerledger/internal/ledgersync"
	"github.com/farrukhsid/brokerledger/internal/notify"
	"github.com/farrukhsid/brokerledger/internal/store/memory"
	"github.com/farrukhsid/brokerledger/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	Ledger       domain.Ledger
	PositionLogs domain.PositionLogStore
	AuditStore   domain.AuditStore
	LockManager  domain.LockManager

	Feed       domain.PriceFeed
	QuoteCache *redis.QuoteCache // nil in sandbox mode
	MockFeed   *feed.MockFeed    // non-nil when the mock source is active

	Sync       domain.LedgerSync
	BlobWriter domain.BlobWriter // nil unless S3 is enabled

	Notifier *notify.Notifier
	Alerts   domain.AlertSink

	Instruments domain.Catalog

	// MemLedger is set in sandbox mode so the mode can seed accounts.
	MemLedger *memory.Ledger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Instruments: buildCatalog(cfg.Instruments),
	}

	// --- Persistence and distributed locks ---
	if cfg.NeedsPostgres() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Ledger = postgres.NewLedger(pgClient)
		deps.PositionLogs = postgres.NewPositionLogStore(pgClient)
		deps.AuditStore = postgres.NewAuditStore(pgClient)

		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Feed.QuoteTTL.Duration)
	} else {
		memLedger := memory.NewLedger()
		deps.MemLedger = memLedger
		deps.Ledger = memLedger
		deps.PositionLogs = memory.NewPositionLogStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.LockManager = memory.NewLockManager()
	}

	// --- Price feed ---
	switch {
	case cfg.Mode == "sandbox" || cfg.Feed.Source == "mock":
		mock := feed.NewMockFeed(basePrices(cfg.Feed.Symbols))
		deps.MockFeed = mock
		deps.Feed = mock
	default:
		deps.Feed = feed.NewCachedFeed(deps.QuoteCache, cfg.Feed.MaxQuoteAge.Duration)
	}

	// --- External ledger sync ---
	if cfg.Sync.Enabled {
		deps.Sync = ledgersync.NewClient(cfg.Sync.BaseURL, cfg.Sync.APIKey)
	} else {
		deps.Sync = ledgersync.Echo{}
	}

	// --- S3 blob storage for report archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		// Fail startup on an unreachable bucket rather than on the first
		// archive attempt hours later.
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Alerts = notify.NewAlertSink(deps.Notifier)

	return deps, cleanup, nil
}

// buildCatalog converts the configured instrument list into the domain
// catalog used by the risk engine.
func buildCatalog(instruments []config.InstrumentConfig) domain.Catalog {
	catalog := make(domain.Catalog, len(instruments))
	for _, inst := range instruments {
		catalog[inst.Symbol] = domain.Instrument{
			Symbol:          inst.Symbol,
			Class:           domain.InstrumentClass(inst.Class),
			MinStopDistance: decimal.NewFromFloat(inst.MinStopDistance),
			PricePrecision:  int32(inst.PricePrecision),
		}
	}
	return catalog
}

// basePrices seeds the mock feed. The levels are arbitrary; sandbox math
// only needs them stable and positive.
func basePrices(symbols []string) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		prices[s] = decimal.NewFromInt(100)
	}
	return prices
}
