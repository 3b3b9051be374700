package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seeded(t *testing.T) (*Ledger, *domain.Account) {
	t.Helper()
	ledger := NewLedger()
	acct := &domain.Account{
		ID:      uuid.New(),
		OwnerID: uuid.New(),
		Number:  "ACC-0001",
		Kind:    domain.AccountReal,
		Status:  domain.AccountActive,
		Balance: d("1000"),
	}
	ledger.SeedAccount(acct)
	return ledger, acct
}

func TestWithAccountCommits(t *testing.T) {
	ledger, acct := seeded(t)
	ctx := context.Background()

	err := ledger.WithAccount(ctx, acct.ID, func(ctx context.Context, tx domain.UnitOfWork, a *domain.Account) error {
		a.Balance = d("1500")
		return tx.Transactions().Create(ctx, &domain.Transaction{
			ID:        uuid.New(),
			AccountID: a.ID,
			Type:      domain.TxDeposit,
			Status:    domain.TxCompleted,
			Amount:    d("500"),
			CreatedAt: time.Now(),
		})
	})
	require.NoError(t, err)

	err = ledger.View(ctx, func(ctx context.Context, tx domain.UnitOfWork) error {
		a, err := tx.Accounts().Get(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, a.Balance.Equal(d("1500")))

		sum, count, err := tx.Transactions().SumCompleted(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(d("500")))
		assert.Equal(t, int64(1), count)
		return nil
	})
	require.NoError(t, err)
}

func TestWithAccountRollsBackOnError(t *testing.T) {
	ledger, acct := seeded(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := ledger.WithAccount(ctx, acct.ID, func(ctx context.Context, tx domain.UnitOfWork, a *domain.Account) error {
		a.Balance = d("0")
		if err := tx.Transactions().Create(ctx, &domain.Transaction{ID: uuid.New(), AccountID: a.ID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = ledger.View(ctx, func(ctx context.Context, tx domain.UnitOfWork) error {
		a, err := tx.Accounts().Get(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, a.Balance.Equal(d("1000")), "failed unit of work must leave no trace")

		txns, err := tx.Transactions().ListByAccount(ctx, acct.ID, domain.ListOpts{})
		require.NoError(t, err)
		assert.Empty(t, txns)
		return nil
	})
	require.NoError(t, err)
}

func TestWithAccountNotFound(t *testing.T) {
	ledger := NewLedger()
	err := ledger.WithAccount(context.Background(), uuid.New(), func(context.Context, domain.UnitOfWork, *domain.Account) error {
		t.Fatal("fn must not run for a missing account")
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnitOfWorkSeesOwnWrites(t *testing.T) {
	ledger, acct := seeded(t)
	ctx := context.Background()

	err := ledger.WithAccount(ctx, acct.ID, func(ctx context.Context, tx domain.UnitOfWork, a *domain.Account) error {
		wal := &domain.Wallet{ID: uuid.New(), AccountID: a.ID}
		if err := tx.Wallets().Create(ctx, wal); err != nil {
			return err
		}
		got, err := tx.Wallets().GetByAccount(ctx, a.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, wal.ID, got.ID)

		if err := tx.Transactions().Create(ctx, &domain.Transaction{
			ID:        uuid.New(),
			AccountID: a.ID,
			Type:      domain.TxDeposit,
			Status:    domain.TxCompleted,
			Amount:    d("100"),
		}); err != nil {
			return err
		}
		sum, _, err := tx.Transactions().SumCompleted(ctx, a.ID)
		if err != nil {
			return err
		}
		assert.True(t, sum.Equal(d("100")), "staged rows must be visible in the same unit of work")
		return nil
	})
	require.NoError(t, err)
}

func TestWithPositionLocksOwningAccount(t *testing.T) {
	ledger, acct := seeded(t)
	ctx := context.Background()

	pos := &domain.Position{
		ID:            uuid.New(),
		AccountID:     acct.ID,
		Symbol:        "EURUSD",
		Side:          domain.Buy,
		Status:        domain.PositionOpen,
		Size:          d("100"),
		RemainingSize: d("100"),
	}
	err := ledger.WithAccount(ctx, acct.ID, func(ctx context.Context, tx domain.UnitOfWork, _ *domain.Account) error {
		return tx.Positions().Create(ctx, pos)
	})
	require.NoError(t, err)

	err = ledger.WithPosition(ctx, pos.ID, func(ctx context.Context, tx domain.UnitOfWork, p *domain.Position, a *domain.Account) error {
		assert.Equal(t, acct.ID, a.ID)
		p.Status = domain.PositionClosed
		a.Balance = d("1250")
		return nil
	})
	require.NoError(t, err)

	err = ledger.View(ctx, func(ctx context.Context, tx domain.UnitOfWork) error {
		p, err := tx.Positions().Get(ctx, pos.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PositionClosed, p.Status)

		a, err := tx.Accounts().Get(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, a.Balance.Equal(d("1250")))
		return nil
	})
	require.NoError(t, err)
}

func TestWithPositionNotFound(t *testing.T) {
	ledger, _ := seeded(t)
	err := ledger.WithPosition(context.Background(), uuid.New(), func(context.Context, domain.UnitOfWork, *domain.Position, *domain.Account) error {
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAccountLockHonorsContext(t *testing.T) {
	ledger, acct := seeded(t)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ledger.WithAccount(context.Background(), acct.ID, func(ctx context.Context, _ domain.UnitOfWork, _ *domain.Account) error {
			close(held)
			time.Sleep(200 * time.Millisecond)
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ledger.WithAccount(ctx, acct.ID, func(context.Context, domain.UnitOfWork, *domain.Account) error {
		t.Error("fn must not run after the lock wait timed out")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	<-done
}

func TestHasOpenOpposite(t *testing.T) {
	ledger, acct := seeded(t)
	ctx := context.Background()

	err := ledger.WithAccount(ctx, acct.ID, func(ctx context.Context, tx domain.UnitOfWork, _ *domain.Account) error {
		return tx.Positions().Create(ctx, &domain.Position{
			ID:        uuid.New(),
			AccountID: acct.ID,
			Symbol:    "EURUSD",
			Side:      domain.Buy,
			Status:    domain.PositionOpen,
		})
	})
	require.NoError(t, err)

	err = ledger.View(ctx, func(ctx context.Context, tx domain.UnitOfWork) error {
		opposite, err := tx.Positions().HasOpenOpposite(ctx, acct.ID, "EURUSD", domain.Sell)
		require.NoError(t, err)
		assert.True(t, opposite)

		opposite, err = tx.Positions().HasOpenOpposite(ctx, acct.ID, "EURUSD", domain.Buy)
		require.NoError(t, err)
		assert.False(t, opposite, "same-side exposure is not a hedge")

		opposite, err = tx.Positions().HasOpenOpposite(ctx, acct.ID, "GBPUSD", domain.Sell)
		require.NoError(t, err)
		assert.False(t, opposite)
		return nil
	})
	require.NoError(t, err)
}

func TestListOptsClip(t *testing.T) {
	ledger, acct := seeded(t)
	ctx := context.Background()

	err := ledger.WithAccount(ctx, acct.ID, func(ctx context.Context, tx domain.UnitOfWork, _ *domain.Account) error {
		for i := 0; i < 5; i++ {
			if err := tx.Transactions().Create(ctx, &domain.Transaction{
				ID:        uuid.New(),
				AccountID: acct.ID,
				Type:      domain.TxDeposit,
				Status:    domain.TxCompleted,
				Amount:    d("1"),
				CreatedAt: time.Now(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = ledger.View(ctx, func(ctx context.Context, tx domain.UnitOfWork) error {
		page, err := tx.Transactions().ListByAccount(ctx, acct.ID, domain.ListOpts{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, page, 2)

		page, err = tx.Transactions().ListByAccount(ctx, acct.ID, domain.ListOpts{Offset: 4})
		require.NoError(t, err)
		assert.Len(t, page, 1)

		page, err = tx.Transactions().ListByAccount(ctx, acct.ID, domain.ListOpts{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, page)
		return nil
	})
	require.NoError(t, err)
}

func TestLockManager(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	release, err := lm.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "job", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release() // idempotent

	release2, err := lm.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err)
	release2()
}

func TestLockManagerTTLExpiry(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	_, err := lm.Acquire(ctx, "job", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	release, err := lm.Acquire(ctx, "job", time.Minute)
	require.NoError(t, err, "an expired holder must not block new acquires")
	release()
}
