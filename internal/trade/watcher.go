package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// watcherLockKey serializes sweeps across instances so a breached position
// is only closed once.
const watcherLockKey = "brokerledger:watcher:sltp"

// Watcher periodically scans open positions against current prices and
// closes the ones whose stop-loss or take-profit has been breached, through
// the same orchestrator path interactive closes use.
type Watcher struct {
	ledger   domain.Ledger
	orch     *Orchestrator
	feed     domain.PriceFeed
	locks    domain.LockManager
	interval time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a Watcher. locks may be nil for single-instance runs.
func NewWatcher(ledger domain.Ledger, orch *Orchestrator, feed domain.PriceFeed, locks domain.LockManager, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		ledger:   ledger,
		orch:     orch,
		feed:     feed,
		locks:    locks,
		interval: interval,
		logger:   logger.With(slog.String("component", "sltp_watcher")),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "sltp_watcher: started", slog.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "sltp_watcher: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.WarnContext(ctx, "sltp_watcher: sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep checks every open position once. It skips the round entirely when
// another instance holds the sweep lock.
func (w *Watcher) Sweep(ctx context.Context) error {
	if w.locks != nil {
		release, err := w.locks.Acquire(ctx, watcherLockKey, 2*w.interval)
		if err != nil {
			if domain.CodeOf(err) == domain.ErrLockHeld.Code {
				return nil
			}
			return fmt.Errorf("sltp_watcher: acquire lock: %w", err)
		}
		defer release()
	}

	var open []*domain.Position
	err := w.ledger.View(ctx, func(ctx context.Context, tx domain.UnitOfWork) error {
		var err error
		open, err = tx.Positions().ListOpen(ctx, domain.ListOpts{})
		return err
	})
	if err != nil {
		return fmt.Errorf("sltp_watcher: list open positions: %w", err)
	}

	var closed int
	for _, pos := range open {
		price, err := w.feed.GetPrice(ctx, pos.Symbol)
		if err != nil {
			w.logger.DebugContext(ctx, "sltp_watcher: no price, skipping",
				slog.String("symbol", pos.Symbol),
				slog.String("position_id", pos.ID.String()),
			)
			continue
		}
		if !pos.StopHit(price) && !pos.TakeProfitHit(price) {
			continue
		}

		// The close re-validates under the position lock, so a concurrent
		// manual close just turns this into a validation failure.
		if _, err := w.orch.Close(ctx, pos.ID, price, decimal.Zero); err != nil {
			if domain.IsValidation(err) {
				continue
			}
			w.logger.WarnContext(ctx, "sltp_watcher: auto-close failed",
				slog.String("position_id", pos.ID.String()),
				slog.String("price", price.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		closed++
	}

	if closed > 0 {
		w.logger.InfoContext(ctx, "sltp_watcher: sweep complete",
			slog.Int("checked", len(open)),
			slog.Int("closed", closed),
		)
	}
	return nil
}
