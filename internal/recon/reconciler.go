// Package recon recomputes every account's balance from its completed
// ledger rows and flags drift. Runs are persisted to the audit log, archived
// to object storage, and may correct critical drift when explicitly
// authorized — never silently.
package recon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
	"github.com/farrukhsid/brokerledger/internal/wallet"
)

// Severity grades one account's balance drift.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Drift bands, in absolute balance units.
var (
	negligibleDrift = decimal.RequireFromString("1.00")
	criticalDrift   = decimal.RequireFromString("100.00")
)

// reconLockKey keeps concurrent scheduled runs from double-auditing.
const reconLockKey = "brokerledger:recon:run"

// multipartThreshold: report payloads at or beyond this size upload through
// the multipart path instead of a single put.
const multipartThreshold int64 = 5 << 20

// AccountResult is the audit outcome for one account.
type AccountResult struct {
	AccountID     uuid.UUID       `json:"account_id"`
	AccountNumber string          `json:"account_number"`
	IsConsistent  bool            `json:"is_consistent"`
	Severity      Severity        `json:"severity"`
	Stored        decimal.Decimal `json:"stored_balance"`
	Calculated    decimal.Decimal `json:"calculated_balance"`
	Difference    decimal.Decimal `json:"difference"`
	Transactions  int64           `json:"transaction_count"`
	Corrected     bool            `json:"corrected"`
}

// Report summarizes one reconciliation run.
type Report struct {
	RunID         uuid.UUID       `json:"run_id"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Audited       int             `json:"audited"`
	Discrepancies int             `json:"discrepancies"`
	Critical      int             `json:"critical"`
	Results       []AccountResult `json:"results"`
	ArchiveKey    string          `json:"archive_key,omitempty"`
}

// Reconciler runs balance audits across all accounts.
type Reconciler struct {
	ledger  domain.Ledger
	wallet  *wallet.Service
	audit   domain.AuditStore
	archive domain.BlobWriter
	locks   domain.LockManager

	// autoCorrect enables overwriting critically drifted balances with
	// the recomputed value. Off unless configured on.
	autoCorrect bool
	logger      *slog.Logger
}

// NewReconciler creates a Reconciler. archive and locks may be nil.
func NewReconciler(ledger domain.Ledger, walletSvc *wallet.Service, audit domain.AuditStore, archive domain.BlobWriter, locks domain.LockManager, autoCorrect bool, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:      ledger,
		wallet:      walletSvc,
		audit:       audit,
		archive:     archive,
		locks:       locks,
		autoCorrect: autoCorrect,
		logger:      logger.With(slog.String("component", "reconciler")),
	}
}

// Run audits every account once and returns the report. When another
// instance holds the run lock the report is empty and the run is skipped.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	if r.locks != nil {
		release, err := r.locks.Acquire(ctx, reconLockKey, 5*time.Minute)
		if err != nil {
			if domain.CodeOf(err) == domain.ErrLockHeld.Code {
				r.logger.InfoContext(ctx, "reconciler: run already in progress elsewhere, skipping")
				return &Report{}, nil
			}
			return nil, fmt.Errorf("reconciler: acquire lock: %w", err)
		}
		defer release()
	}

	report := &Report{RunID: uuid.New(), StartedAt: time.Now()}

	var accounts []*domain.Account
	err := r.ledger.View(ctx, func(ctx context.Context, tx domain.UnitOfWork) error {
		var err error
		accounts, err = tx.Accounts().List(ctx, domain.ListOpts{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconciler: list accounts: %w", err)
	}

	for _, acct := range accounts {
		res, err := r.AuditAccount(ctx, acct)
		if err != nil {
			r.logger.WarnContext(ctx, "reconciler: account audit failed",
				slog.String("account_id", acct.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Results = append(report.Results, res)
		report.Audited++
		if !res.IsConsistent {
			report.Discrepancies++
		}
		if res.Severity == SeverityCritical {
			report.Critical++
		}
	}
	report.FinishedAt = time.Now()

	r.archiveReport(ctx, report)

	r.logger.InfoContext(ctx, "reconciler: run complete",
		slog.String("run_id", report.RunID.String()),
		slog.Int("audited", report.Audited),
		slog.Int("discrepancies", report.Discrepancies),
		slog.Int("critical", report.Critical),
	)
	return report, nil
}

// AuditAccount audits one account, persists the audit record and applies the
// gated auto-correction for critical drift.
func (r *Reconciler) AuditAccount(ctx context.Context, acct *domain.Account) (AccountResult, error) {
	rep, err := r.wallet.AuditBalance(ctx, acct.ID, initialBalanceFor(acct))
	if err != nil {
		return AccountResult{}, err
	}

	res := AccountResult{
		AccountID:     rep.AccountID,
		AccountNumber: rep.AccountNumber,
		IsConsistent:  rep.IsConsistent,
		Severity:      classify(rep),
		Stored:        rep.AccountBalance,
		Calculated:    rep.CalculatedBalance,
		Difference:    rep.Difference,
		Transactions:  rep.TransactionCount,
	}

	if res.Severity == SeverityCritical && r.autoCorrect {
		if err := r.wallet.CorrectBalance(ctx, acct.ID, rep.CalculatedBalance); err != nil {
			r.logger.ErrorContext(ctx, "reconciler: auto-correction failed",
				slog.String("account_id", acct.ID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			res.Corrected = true
		}
	}

	if err := r.audit.Log(ctx, "wallet_consistency", map[string]any{
		"account_id":         res.AccountID.String(),
		"account_number":     res.AccountNumber,
		"is_consistent":      res.IsConsistent,
		"severity":           string(res.Severity),
		"stored_balance":     res.Stored.String(),
		"calculated_balance": res.Calculated.String(),
		"difference":         res.Difference.String(),
		"transaction_count":  res.Transactions,
		"corrected":          res.Corrected,
	}); err != nil {
		r.logger.WarnContext(ctx, "reconciler: audit record write failed",
			slog.String("account_id", acct.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	if res.Severity == SeverityCritical {
		r.logger.ErrorContext(ctx, "reconciler: critical balance drift",
			slog.String("account_id", res.AccountID.String()),
			slog.String("stored", res.Stored.String()),
			slog.String("calculated", res.Calculated.String()),
			slog.String("difference", res.Difference.String()),
			slog.Bool("corrected", res.Corrected),
		)
	}
	return res, nil
}

// classify grades drift: consistent and tiny drift are informational, up to
// 100.00 is a warning, beyond that critical.
func classify(rep wallet.AuditReport) Severity {
	diff := rep.Difference.Abs()
	switch {
	case rep.IsConsistent, diff.LessThanOrEqual(negligibleDrift):
		return SeverityInfo
	case diff.GreaterThan(criticalDrift):
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// initialBalanceFor is the balance the account was created with: demo
// accounts start funded, real accounts start empty and deposit.
func initialBalanceFor(acct *domain.Account) decimal.Decimal {
	if acct.Kind == domain.AccountDemo {
		return domain.DemoDefaultBalance
	}
	return decimal.Zero
}

// archiveReport uploads the JSON report to object storage, best-effort.
func (r *Reconciler) archiveReport(ctx context.Context, report *Report) {
	if r.archive == nil {
		return
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		r.logger.WarnContext(ctx, "reconciler: marshal report failed", slog.String("error", err.Error()))
		return
	}
	key := fmt.Sprintf("recon/%s/%s.json", report.StartedAt.UTC().Format("2006/01/02"), report.RunID)
	location, err := r.putReport(ctx, key, body)
	if err != nil {
		r.logger.WarnContext(ctx, "reconciler: report archive failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	report.ArchiveKey = location
}

// putReport uploads one report payload, switching to multipart for payloads
// a single put cannot carry comfortably.
func (r *Reconciler) putReport(ctx context.Context, key string, body []byte) (string, error) {
	if int64(len(body)) >= multipartThreshold {
		return r.archive.PutMultipart(ctx, key, "application/json", bytes.NewReader(body), multipartThreshold)
	}
	return r.archive.Put(ctx, key, "application/json", bytes.NewReader(body))
}

// RunEvery runs reconciliation on a fixed interval until ctx is cancelled.
func (r *Reconciler) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				r.logger.WarnContext(ctx, "reconciler: scheduled run failed", slog.String("error", err.Error()))
			}
		}
	}
}
