package wallet

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farrukhsid/brokerledger/internal/domain"
	"github.com/farrukhsid/brokerledger/internal/store/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// captureSink records delivered risk alerts for assertions.
type captureSink struct {
	mu     sync.Mutex
	alerts []domain.RiskAlert
}

func (c *captureSink) SendRiskAlert(_ context.Context, a domain.RiskAlert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureSink) levels() []domain.AlertLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.AlertLevel, len(c.alerts))
	for i, a := range c.alerts {
		out[i] = a.Level
	}
	return out
}

type fixture struct {
	ledger *memory.Ledger
	sink   *captureSink
	svc    *Service
	acct   *domain.Account
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	ledger := memory.NewLedger()
	sink := &captureSink{}
	svc := NewService(ledger, sink, slog.New(slog.DiscardHandler))

	now := time.Now()
	acct := &domain.Account{
		ID:              uuid.New(),
		OwnerID:         uuid.New(),
		Number:          "ACC-0001",
		Kind:            domain.AccountReal,
		Status:          domain.AccountActive,
		Balance:         d(balance),
		Currency:        "USD",
		MaxRiskPerTrade: d("2"),
		MaxDailyLoss:    d("500"),
		DailyLossDate:   now.UTC().Truncate(24 * time.Hour),
		MaxLeverage:     30,
		Profile:         domain.ProfileStandard,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ledger.SeedAccount(acct)
	return &fixture{ledger: ledger, sink: sink, svc: svc, acct: acct}
}

func (f *fixture) account(t *testing.T) *domain.Account {
	t.Helper()
	var acct *domain.Account
	err := f.ledger.View(context.Background(), func(ctx context.Context, tx domain.UnitOfWork) error {
		var err error
		acct, err = tx.Accounts().Get(ctx, f.acct.ID)
		return err
	})
	require.NoError(t, err)
	return acct
}

func (f *fixture) wallet(t *testing.T) *domain.Wallet {
	t.Helper()
	var wal *domain.Wallet
	err := f.ledger.View(context.Background(), func(ctx context.Context, tx domain.UnitOfWork) error {
		var err error
		wal, err = tx.Wallets().GetByAccount(ctx, f.acct.ID)
		return err
	})
	require.NoError(t, err)
	return wal
}

func (f *fixture) transactions(t *testing.T) []*domain.Transaction {
	t.Helper()
	var txns []*domain.Transaction
	err := f.ledger.View(context.Background(), func(ctx context.Context, tx domain.UnitOfWork) error {
		var err error
		txns, err = tx.Transactions().ListByAccount(ctx, f.acct.ID, domain.ListOpts{})
		return err
	})
	require.NoError(t, err)
	return txns
}

func TestLockBalance(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	txn, err := f.svc.LockBalance(ctx, f.acct.ID, d("400"), nil, "")
	require.NoError(t, err)

	assert.Equal(t, domain.TxTradeLock, txn.Type)
	assert.Equal(t, domain.TxCompleted, txn.Status)
	assert.True(t, txn.Amount.Equal(d("-400")), "amount %s", txn.Amount)
	assert.True(t, txn.BalanceBefore.Equal(d("1000")))
	assert.True(t, txn.BalanceAfter.Equal(d("1000")), "locks do not move the balance")

	acct := f.account(t)
	assert.True(t, acct.Balance.Equal(d("1000")))
	assert.True(t, acct.LockedBalance.Equal(d("400")))
	assert.True(t, acct.AvailableBalance().Equal(d("600")))
}

func TestLockBalanceRejections(t *testing.T) {
	t.Run("non-positive amount", func(t *testing.T) {
		f := newFixture(t, "1000")
		_, err := f.svc.LockBalance(context.Background(), f.acct.ID, decimal.Zero, nil, "")
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("suspended account", func(t *testing.T) {
		f := newFixture(t, "1000")
		f.acct.Status = domain.AccountSuspended
		f.ledger.SeedAccount(f.acct)

		_, err := f.svc.LockBalance(context.Background(), f.acct.ID, d("100"), nil, "")
		assert.ErrorIs(t, err, domain.ErrAccountSuspended)
	})

	t.Run("insufficient available balance", func(t *testing.T) {
		f := newFixture(t, "1000")
		_, err := f.svc.LockBalance(context.Background(), f.acct.ID, d("500"), nil, "")
		require.NoError(t, err)

		_, err = f.svc.LockBalance(context.Background(), f.acct.ID, d("600"), nil, "")
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

		// The failed lock left no trace.
		assert.True(t, f.account(t).LockedBalance.Equal(d("500")))
		assert.Len(t, f.transactions(t), 1)
	})
}

func TestReleaseBalance(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	_, err := f.svc.LockBalance(ctx, f.acct.ID, d("400"), nil, "")
	require.NoError(t, err)

	txn, err := f.svc.ReleaseBalance(ctx, f.acct.ID, d("150"), nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TxTradeRelease, txn.Type)
	assert.True(t, txn.Amount.Equal(d("150")))
	assert.True(t, f.account(t).LockedBalance.Equal(d("250")))
}

func TestReleaseBalanceFloorsAtZero(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	_, err := f.svc.LockBalance(ctx, f.acct.ID, d("100"), nil, "")
	require.NoError(t, err)

	_, err = f.svc.ReleaseBalance(ctx, f.acct.ID, d("250"), nil, "")
	require.NoError(t, err)

	acct := f.account(t)
	assert.True(t, acct.LockedBalance.IsZero(), "over-release must floor at zero, got %s", acct.LockedBalance)
}

func TestApplyPnLProfit(t *testing.T) {
	f := newFixture(t, "1000")

	txn, err := f.svc.ApplyPnL(context.Background(), f.acct.ID, d("75.50"), nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TxTradePnL, txn.Type)
	assert.True(t, txn.Amount.Equal(d("75.50")))

	assert.True(t, f.account(t).Balance.Equal(d("1075.50")))
	wal := f.wallet(t)
	assert.True(t, wal.TotalProfit.Equal(d("75.50")))
	assert.True(t, wal.TotalLoss.IsZero())
	assert.Empty(t, f.sink.levels())
}

func TestApplyPnLLossAccumulatesDailyLoss(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	_, err := f.svc.ApplyPnL(ctx, f.acct.ID, d("-60"), nil, "")
	require.NoError(t, err)
	_, err = f.svc.ApplyPnL(ctx, f.acct.ID, d("-40"), nil, "")
	require.NoError(t, err)

	acct := f.account(t)
	assert.True(t, acct.Balance.Equal(d("900")))
	assert.True(t, acct.DailyLossCurrent.Equal(d("100")))
	assert.True(t, f.wallet(t).TotalLoss.Equal(d("100")))

	// Well under the 500 limit: no alert.
	assert.Empty(t, f.sink.levels())
}

func TestApplyPnLAlertThresholds(t *testing.T) {
	f := newFixture(t, "10000")
	ctx := context.Background()

	// 430 of the 500 absolute limit is past the 85% warning line.
	_, err := f.svc.ApplyPnL(ctx, f.acct.ID, d("-430"), nil, "")
	require.NoError(t, err)
	require.Equal(t, []domain.AlertLevel{domain.AlertWarning}, f.sink.levels())

	// Another 100 pushes the running loss to 530, past the limit.
	_, err = f.svc.ApplyPnL(ctx, f.acct.ID, d("-100"), nil, "")
	require.NoError(t, err)
	require.Equal(t, []domain.AlertLevel{domain.AlertWarning, domain.AlertCritical}, f.sink.levels())

	last := f.sink.alerts[len(f.sink.alerts)-1]
	assert.Equal(t, f.acct.ID, last.AccountID)
	assert.True(t, last.DailyLoss.Equal(d("530")))
	assert.True(t, last.Limit.Equal(d("500")))
}

func TestApplyPnLResetsStaleDailyLoss(t *testing.T) {
	f := newFixture(t, "1000")
	f.acct.DailyLossCurrent = d("450")
	f.acct.DailyLossDate = time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	f.ledger.SeedAccount(f.acct)

	_, err := f.svc.ApplyPnL(context.Background(), f.acct.ID, d("-30"), nil, "")
	require.NoError(t, err)

	// Yesterday's 450 is gone; today starts from the fresh loss alone.
	assert.True(t, f.account(t).DailyLossCurrent.Equal(d("30")))
}

func TestCheckDailyLossLimit(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	ok, err := f.svc.CheckDailyLossLimit(ctx, f.acct.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.ApplyPnL(ctx, f.acct.ID, d("-500"), nil, "")
	require.NoError(t, err)

	ok, err = f.svc.CheckDailyLossLimit(ctx, f.acct.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeposit(t *testing.T) {
	f := newFixture(t, "1000")

	txn, err := f.svc.Deposit(context.Background(), f.acct.ID, d("250"), "bank_transfer")
	require.NoError(t, err)
	assert.Equal(t, domain.TxDeposit, txn.Type)
	assert.True(t, txn.Amount.Equal(d("250")))

	assert.True(t, f.account(t).Balance.Equal(d("1250")))
	assert.True(t, f.wallet(t).TotalDeposits.Equal(d("250")))

	_, err = f.svc.Deposit(context.Background(), f.acct.ID, decimal.Zero, "bank_transfer")
	assert.True(t, domain.IsValidation(err))
}

func TestWithdrawalFee(t *testing.T) {
	// 0.5% of amount, clamped to [5.00, 50.00].
	assert.True(t, WithdrawalFee(d("2000")).Equal(d("10.00")))
	assert.True(t, WithdrawalFee(d("100")).Equal(d("5.00")), "fee below minimum clamps up")
	assert.True(t, WithdrawalFee(d("50000")).Equal(d("50.00")), "fee above maximum clamps down")
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, "1000")

	txn, err := f.svc.Withdraw(context.Background(), f.acct.ID, d("100"), "bank_transfer")
	require.NoError(t, err)
	assert.Equal(t, domain.TxWithdrawal, txn.Type)
	assert.True(t, txn.Amount.Equal(d("-100")))

	// 100 out plus the 5.00 minimum fee.
	assert.True(t, f.account(t).Balance.Equal(d("895")))

	wal := f.wallet(t)
	assert.True(t, wal.TotalWithdrawals.Equal(d("100")))
	assert.True(t, wal.TotalFeesPaid.Equal(d("5.00")))

	txns := f.transactions(t)
	require.Len(t, txns, 2)
	types := map[domain.TransactionType]bool{}
	for _, row := range txns {
		types[row.Type] = true
	}
	assert.True(t, types[domain.TxWithdrawal])
	assert.True(t, types[domain.TxFee])
}

func TestWithdrawRejections(t *testing.T) {
	t.Run("insufficient for amount plus fee", func(t *testing.T) {
		f := newFixture(t, "100")
		_, err := f.svc.Withdraw(context.Background(), f.acct.ID, d("100"), "bank_transfer")
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		assert.True(t, f.account(t).Balance.Equal(d("100")), "failed withdrawal must not move the balance")
	})

	t.Run("suspended account", func(t *testing.T) {
		f := newFixture(t, "1000")
		f.acct.Status = domain.AccountSuspended
		f.ledger.SeedAccount(f.acct)
		_, err := f.svc.Withdraw(context.Background(), f.acct.ID, d("100"), "bank_transfer")
		assert.ErrorIs(t, err, domain.ErrAccountSuspended)
	})
}

func TestAuditBalance(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, f.acct.ID, d("200"), "bank_transfer")
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, f.acct.ID, d("100"), "bank_transfer")
	require.NoError(t, err)
	// Locks and releases shuffle availability only and must not skew the sum.
	_, err = f.svc.LockBalance(ctx, f.acct.ID, d("300"), nil, "")
	require.NoError(t, err)

	rep, err := f.svc.AuditBalance(ctx, f.acct.ID, d("1000"))
	require.NoError(t, err)

	assert.True(t, rep.TransactionSum.Equal(d("95")), "sum %s", rep.TransactionSum)
	assert.Equal(t, int64(3), rep.TransactionCount)
	assert.True(t, rep.CalculatedBalance.Equal(d("1095")))
	assert.True(t, rep.Difference.IsZero())
	assert.True(t, rep.IsConsistent)
}

func TestCorrectBalance(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	// Simulate drift by overwriting the stored balance out of band.
	f.acct.Balance = d("1200")
	f.ledger.SeedAccount(f.acct)

	rep, err := f.svc.AuditBalance(ctx, f.acct.ID, d("1000"))
	require.NoError(t, err)
	require.False(t, rep.IsConsistent)
	assert.True(t, rep.Difference.Equal(d("200")))

	require.NoError(t, f.svc.CorrectBalance(ctx, f.acct.ID, rep.CalculatedBalance))

	assert.True(t, f.account(t).Balance.Equal(d("1000")))
	// The correction itself never writes a ledger row.
	assert.Empty(t, f.transactions(t))
}

func TestConcurrentLocksSerialize(t *testing.T) {
	f := newFixture(t, "10000")
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.LockBalance(ctx, f.acct.ID, d("100"), nil, "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}
	acct := f.account(t)
	assert.True(t, acct.LockedBalance.Equal(d("2000")), "locked %s", acct.LockedBalance)
	assert.Len(t, f.transactions(t), workers)
}

func TestConcurrentLocksRejectOversubscription(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	// Ten workers each want 300 of a 1000 balance; only three can fit.
	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.LockBalance(ctx, f.acct.ID, d("300"), nil, "")
		}(i)
	}
	wg.Wait()

	var granted, rejected int
	for _, err := range errs {
		if err == nil {
			granted++
			continue
		}
		rejected++
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	}
	assert.Equal(t, 3, granted)
	assert.Equal(t, workers-3, rejected)

	acct := f.account(t)
	assert.True(t, acct.LockedBalance.Equal(d("900")), "locked %s", acct.LockedBalance)
	assert.True(t, acct.AvailableBalance().Equal(d("100")))
	assert.Len(t, f.transactions(t), 3, "rejected locks leave no rows")
}
