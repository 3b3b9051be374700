package recon

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farrukhsid/brokerledger/internal/domain"
	"github.com/farrukhsid/brokerledger/internal/store/memory"
	"github.com/farrukhsid/brokerledger/internal/wallet"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stubArchive records uploaded report keys per upload path.
type stubArchive struct {
	keys          []string
	multipartKeys []string
}

func (a *stubArchive) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	a.keys = append(a.keys, key)
	return "s3://reports/" + key, nil
}

func (a *stubArchive) PutMultipart(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	a.multipartKeys = append(a.multipartKeys, key)
	return "s3://reports/" + key, nil
}

type reconFixture struct {
	ledger  *memory.Ledger
	audit   *memory.AuditStore
	archive *stubArchive
	locks   *memory.LockManager
	wallet  *wallet.Service
}

func newReconFixture(t *testing.T) *reconFixture {
	t.Helper()
	ledger := memory.NewLedger()
	return &reconFixture{
		ledger:  ledger,
		audit:   memory.NewAuditStore(),
		archive: &stubArchive{},
		locks:   memory.NewLockManager(),
		wallet:  wallet.NewService(ledger, nil, slog.New(slog.DiscardHandler)),
	}
}

func (f *reconFixture) reconciler(autoCorrect bool) *Reconciler {
	return NewReconciler(f.ledger, f.wallet, f.audit, f.archive, f.locks, autoCorrect, slog.New(slog.DiscardHandler))
}

// seedReal inserts a real account whose stored balance may drift from the
// zero it should reconstruct to (real accounts start empty, no rows seeded).
func (f *reconFixture) seedReal(number, balance string) *domain.Account {
	acct := &domain.Account{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Number:    number,
		Kind:      domain.AccountReal,
		Status:    domain.AccountActive,
		Balance:   d(balance),
		Currency:  "USD",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.ledger.SeedAccount(acct)
	return acct
}

func TestAuditAccountClassification(t *testing.T) {
	tests := []struct {
		name           string
		balance        string
		wantSeverity   Severity
		wantConsistent bool
	}{
		{"consistent", "0", SeverityInfo, true},
		{"negligible drift", "0.50", SeverityInfo, false},
		{"warning drift", "50", SeverityWarning, false},
		{"boundary stays warning", "100.00", SeverityWarning, false},
		{"critical drift", "500", SeverityCritical, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconFixture(t)
			acct := f.seedReal("ACC-0001", tt.balance)

			res, err := f.reconciler(false).AuditAccount(context.Background(), acct)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSeverity, res.Severity)
			assert.Equal(t, tt.wantConsistent, res.IsConsistent)
			assert.False(t, res.Corrected)
		})
	}
}

func TestAuditAccountUsesDemoInitialBalance(t *testing.T) {
	f := newReconFixture(t)
	acct := &domain.Account{
		ID:       uuid.New(),
		OwnerID:  uuid.New(),
		Number:   "DEMO-0001",
		Kind:     domain.AccountDemo,
		Status:   domain.AccountActive,
		Balance:  domain.DemoDefaultBalance,
		Currency: "USD",
	}
	f.ledger.SeedAccount(acct)

	res, err := f.reconciler(false).AuditAccount(context.Background(), acct)
	require.NoError(t, err)
	assert.True(t, res.IsConsistent)
	assert.Equal(t, SeverityInfo, res.Severity)
}

func TestAuditAccountTracksRealHistory(t *testing.T) {
	f := newReconFixture(t)
	acct := f.seedReal("ACC-0001", "0")
	ctx := context.Background()

	_, err := f.wallet.Deposit(ctx, acct.ID, d("1000"), "bank_transfer")
	require.NoError(t, err)
	_, err = f.wallet.Withdraw(ctx, acct.ID, d("200"), "bank_transfer")
	require.NoError(t, err)

	res, err := f.reconciler(false).AuditAccount(ctx, acct)
	require.NoError(t, err)
	assert.True(t, res.IsConsistent)
	assert.True(t, res.Stored.Equal(d("795")), "stored %s", res.Stored)
	assert.Equal(t, int64(3), res.Transactions)
}

func TestAutoCorrectionGating(t *testing.T) {
	t.Run("critical drift corrected when enabled", func(t *testing.T) {
		f := newReconFixture(t)
		acct := f.seedReal("ACC-0001", "500")

		res, err := f.reconciler(true).AuditAccount(context.Background(), acct)
		require.NoError(t, err)
		require.Equal(t, SeverityCritical, res.Severity)
		assert.True(t, res.Corrected)

		var stored *domain.Account
		err = f.ledger.View(context.Background(), func(ctx context.Context, tx domain.UnitOfWork) error {
			var err error
			stored, err = tx.Accounts().Get(ctx, acct.ID)
			return err
		})
		require.NoError(t, err)
		assert.True(t, stored.Balance.IsZero(), "balance %s", stored.Balance)
	})

	t.Run("warning drift never corrected", func(t *testing.T) {
		f := newReconFixture(t)
		acct := f.seedReal("ACC-0001", "50")

		res, err := f.reconciler(true).AuditAccount(context.Background(), acct)
		require.NoError(t, err)
		require.Equal(t, SeverityWarning, res.Severity)
		assert.False(t, res.Corrected)
	})

	t.Run("critical drift untouched when disabled", func(t *testing.T) {
		f := newReconFixture(t)
		acct := f.seedReal("ACC-0001", "500")

		res, err := f.reconciler(false).AuditAccount(context.Background(), acct)
		require.NoError(t, err)
		require.Equal(t, SeverityCritical, res.Severity)
		assert.False(t, res.Corrected)
	})
}

func TestRun(t *testing.T) {
	f := newReconFixture(t)
	f.seedReal("ACC-0001", "0")
	f.seedReal("ACC-0002", "50")
	f.seedReal("ACC-0003", "500")

	report, err := f.reconciler(false).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Audited)
	assert.Equal(t, 2, report.Discrepancies)
	assert.Equal(t, 1, report.Critical)
	assert.NotEqual(t, uuid.Nil, report.RunID)

	// One audit record per account.
	entries, err := f.audit.List(context.Background(), "wallet_consistency", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// The report landed in object storage under the dated key.
	require.Len(t, f.archive.keys, 1)
	assert.True(t, strings.HasPrefix(f.archive.keys[0], "recon/"))
	assert.True(t, strings.HasPrefix(report.ArchiveKey, "s3://reports/recon/"))
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	f := newReconFixture(t)
	f.seedReal("ACC-0001", "0")

	release, err := f.locks.Acquire(context.Background(), "brokerledger:recon:run", time.Minute)
	require.NoError(t, err)
	defer release()

	report, err := f.reconciler(false).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Audited)
	assert.Empty(t, f.archive.keys)
}

func TestPutReportSwitchesToMultipart(t *testing.T) {
	f := newReconFixture(t)
	r := f.reconciler(false)
	ctx := context.Background()

	loc, err := r.putReport(ctx, "recon/small.json", []byte(`{"audited":1}`))
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/recon/small.json", loc)
	assert.Equal(t, []string{"recon/small.json"}, f.archive.keys)
	assert.Empty(t, f.archive.multipartKeys)

	big := bytes.Repeat([]byte("x"), int(multipartThreshold))
	loc, err = r.putReport(ctx, "recon/big.json", big)
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/recon/big.json", loc)
	assert.Equal(t, []string{"recon/big.json"}, f.archive.multipartKeys)
	assert.Equal(t, []string{"recon/small.json"}, f.archive.keys, "large payloads bypass the single put")
}
