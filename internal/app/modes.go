package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/farrukhsid/brokerledger/internal/domain"
	"github.com/farrukhsid/brokerledger/internal/feed"
	"github.com/farrukhsid/brokerledger/internal/recon"
	"github.com/farrukhsid/brokerledger/internal/risk"
	"github.com/farrukhsid/brokerledger/internal/trade"
	"github.com/farrukhsid/brokerledger/internal/wallet"
)

// mockPumpInterval is how often the mock feed publishes quotes into the
// cache when it stands in for the live stream.
const mockPumpInterval = time.Second

// services bundles the domain services every mode builds on top of the
// wired dependencies.
type services struct {
	wallet     *wallet.Service
	engine     *risk.Engine
	orch       *trade.Orchestrator
	reconciler *recon.Reconciler
}

func (a *App) buildServices(deps *Dependencies) *services {
	walletSvc := wallet.NewService(deps.Ledger, deps.Alerts, a.logger)
	engine := risk.NewEngine(a.logger)
	orch := trade.NewOrchestrator(
		deps.Ledger, walletSvc, engine,
		deps.Feed, deps.Sync, deps.PositionLogs,
		deps.Notifier, deps.Instruments, a.logger,
	)
	reconciler := recon.NewReconciler(
		deps.Ledger, walletSvc, deps.AuditStore,
		deps.BlobWriter, deps.LockManager,
		a.cfg.Recon.AutoCorrect, a.logger,
	)
	return &services{
		wallet:     walletSvc,
		engine:     engine,
		orch:       orch,
		reconciler: reconciler,
	}
}

// ServeMode runs the daemon: the quote stream, the SL/TP watcher and the
// scheduled reconciliation loop.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	// Quote stream into the Redis cache, when the stream source is active.
	// The mock source feeds the same cache path through its pump.
	switch {
	case a.cfg.Feed.Source == "stream":
		stream := feed.NewStreamFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Symbols, deps.QuoteCache, a.logger)
		g.Go(func() error {
			return stream.Run(ctx)
		})
	case deps.MockFeed != nil && deps.QuoteCache != nil:
		g.Go(func() error {
			return deps.MockFeed.Pump(ctx, deps.QuoteCache, mockPumpInterval)
		})
	}

	if a.cfg.Watcher.Enabled {
		watcher := trade.NewWatcher(
			deps.Ledger, svcs.orch, deps.Feed, deps.LockManager,
			a.cfg.Watcher.Interval.Duration, a.logger,
		)
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	if a.cfg.Recon.Enabled {
		g.Go(func() error {
			return svcs.reconciler.RunEvery(ctx, a.cfg.Recon.Interval.Duration)
		})
	}

	return g.Wait()
}

// AuditMode runs one reconciliation pass over every account and exits.
func (a *App) AuditMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting audit mode")

	svcs := a.buildServices(deps)
	report, err := svcs.reconciler.Run(ctx)
	if err != nil {
		return fmt.Errorf("audit mode: %w", err)
	}

	a.logger.InfoContext(ctx, "audit complete",
		slog.String("run_id", report.RunID.String()),
		slog.Int("audited", report.Audited),
		slog.Int("discrepancies", report.Discrepancies),
		slog.Int("critical", report.Critical),
		slog.String("archive", report.ArchiveKey),
	)
	return nil
}

// SandboxMode runs the full trade lifecycle against the in-memory ledger
// and the mock feed: it seeds a demo account, opens positions on every
// configured symbol, and lets the SL/TP watcher close them as the random
// walk crosses the levels.
func (a *App) SandboxMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sandbox mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	acct := seedDemoAccount(deps)
	a.logger.InfoContext(ctx, "sandbox account seeded",
		slog.String("account_id", acct.ID.String()),
		slog.String("balance", acct.Balance.StringFixed(2)),
	)

	watcher := trade.NewWatcher(
		deps.Ledger, svcs.orch, deps.Feed, deps.LockManager,
		a.cfg.Watcher.Interval.Duration, a.logger,
	)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	g.Go(func() error {
		return a.runSandboxTrader(ctx, deps, svcs, acct.ID)
	})

	return g.Wait()
}

// runSandboxTrader keeps one position open per configured symbol, reopening
// after the watcher closes one on SL or TP.
func (a *App) runSandboxTrader(ctx context.Context, deps *Dependencies, svcs *services, accountID uuid.UUID) error {
	interval := a.cfg.Watcher.Interval.Duration
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(2 * interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if equity, err := svcs.orch.MarkToMarket(ctx, accountID); err == nil {
			a.logger.InfoContext(ctx, "sandbox: marked to market",
				slog.String("equity", equity.StringFixed(2)))
		}

		open := make(map[string]bool)
		err := deps.Ledger.View(ctx, func(ctx context.Context, tx domain.UnitOfWork) error {
			positions, err := tx.Positions().ListOpenByAccount(ctx, accountID)
			if err != nil {
				return err
			}
			for _, p := range positions {
				open[p.Symbol] = true
			}
			return nil
		})
		if err != nil {
			a.logger.WarnContext(ctx, "sandbox: list open positions failed", slog.String("error", err.Error()))
			continue
		}

		for _, symbol := range a.cfg.Feed.Symbols {
			if open[symbol] {
				continue
			}
			price, err := deps.Feed.GetPrice(ctx, symbol)
			if err != nil {
				continue
			}
			// Stop two percent below entry, target two percent above.
			two := decimal.NewFromFloat(0.02)
			req := trade.OpenRequest{
				AccountID:   accountID,
				Symbol:      symbol,
				Side:        domain.Buy,
				EntryPrice:  price,
				StopLoss:    price.Sub(price.Mul(two)),
				TakeProfit:  price.Add(price.Mul(two)),
				RiskPercent: decimal.NewFromInt(1),
			}
			pos, err := svcs.orch.Open(ctx, req)
			if err != nil {
				a.logger.WarnContext(ctx, "sandbox: open failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.InfoContext(ctx, "sandbox: position opened",
				slog.String("position_id", pos.ID.String()),
				slog.String("symbol", symbol),
				slog.String("size", pos.Size.String()),
			)
		}
	}
}

// seedDemoAccount inserts the sandbox's funded demo account.
func seedDemoAccount(deps *Dependencies) *domain.Account {
	now := time.Now()
	acct := &domain.Account{
		ID:                  uuid.New(),
		OwnerID:             uuid.New(),
		Number:              "SANDBOX-0001",
		Kind:                domain.AccountDemo,
		Status:              domain.AccountActive,
		Balance:             domain.DemoDefaultBalance,
		Currency:            "USD",
		MaxRiskPerTrade:     decimal.NewFromInt(2),
		MaxDailyLossPercent: decimal.NewFromInt(5),
		DailyLossDate:       now.UTC().Truncate(24 * time.Hour),
		MaxLeverage:         100,
		Profile:             domain.ProfileStandard,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	deps.MemLedger.SeedAccount(acct)
	return acct
}
