package trade

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farrukhsid/brokerledger/internal/domain"
	"github.com/farrukhsid/brokerledger/internal/store/memory"
)

func newTestWatcher(f *tradeFixture, locks domain.LockManager) *Watcher {
	return NewWatcher(f.ledger, f.orch, f.feed, locks, time.Second, slog.New(slog.DiscardHandler))
}

func TestSweepClosesOnStopLoss(t *testing.T) {
	f := newTradeFixture(t, domain.AccountDemo)
	ctx := context.Background()

	opened, err := f.orch.Open(ctx, f.openRequest())
	require.NoError(t, err)

	f.feed.set("EURUSD", d("1.04"))
	require.NoError(t, newTestWatcher(f, nil).Sweep(ctx))

	pos := f.position(t, opened.ID)
	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.True(t, pos.RealizedPnL.Equal(d("-240")), "pnl %s", pos.RealizedPnL)
	assert.Contains(t, f.events(t, opened.ID), domain.EventStopHit)
}

func TestSweepClosesOnTakeProfit(t *testing.T) {
	f := newTradeFixture(t, domain.AccountDemo)
	ctx := context.Background()

	opened, err := f.orch.Open(ctx, f.openRequest())
	require.NoError(t, err)

	f.feed.set("EURUSD", d("1.21"))
	require.NoError(t, newTestWatcher(f, nil).Sweep(ctx))

	pos := f.position(t, opened.ID)
	assert.Equal(t, domain.PositionClosed, pos.Status)
	assert.Contains(t, f.events(t, opened.ID), domain.EventTargetHit)
}

func TestSweepLeavesHealthyPositionsOpen(t *testing.T) {
	f := newTradeFixture(t, domain.AccountDemo)
	ctx := context.Background()

	opened, err := f.orch.Open(ctx, f.openRequest())
	require.NoError(t, err)

	f.feed.set("EURUSD", d("1.12"))
	require.NoError(t, newTestWatcher(f, nil).Sweep(ctx))

	assert.Equal(t, domain.PositionOpen, f.position(t, opened.ID).Status)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	f := newTradeFixture(t, domain.AccountDemo)
	ctx := context.Background()

	opened, err := f.orch.Open(ctx, f.openRequest())
	require.NoError(t, err)

	locks := memory.NewLockManager()
	release, err := locks.Acquire(ctx, watcherLockKey, time.Minute)
	require.NoError(t, err)
	defer release()

	f.feed.set("EURUSD", d("1.04"))
	require.NoError(t, newTestWatcher(f, locks).Sweep(ctx))

	// Another instance owns the sweep; nothing is closed here.
	assert.Equal(t, domain.PositionOpen, f.position(t, opened.ID).Status)
}
