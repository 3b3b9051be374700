// Package wallet is the only surface allowed to mutate money state. Every
// operation runs inside an exclusive per-account unit of work and writes the
// account mutation together with its ledger transaction row, all or nothing.
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// Withdrawal fee schedule.
var (
	withdrawFeePercent = decimal.RequireFromString("0.5")
	withdrawFeeMin     = decimal.RequireFromString("5.00")
	withdrawFeeMax     = decimal.RequireFromString("50.00")
)

// alertWarningPercent is the share of the daily-loss limit at which a
// warning alert fires; at 100% the alert is critical.
var alertWarningPercent = decimal.RequireFromString("85.0")

// Service owns balance mutation. The *In variants operate inside a unit of
// work the caller already holds; the plain variants open their own.
type Service struct {
	ledger domain.Ledger
	alerts domain.AlertSink
	logger *slog.Logger
}

// NewService creates a wallet Service. alerts may be nil when no risk-alert
// sink is wired.
func NewService(ledger domain.Ledger, alerts domain.AlertSink, logger *slog.Logger) *Service {
	return &Service{
		ledger: ledger,
		alerts: alerts,
		logger: logger.With(slog.String("component", "wallet_service")),
	}
}

// LockBalance reserves margin on the account. It fails with AccountSuspended
// when the account is not active and with InsufficientBalance when the
// available balance cannot cover amount.
func (s *Service) LockBalance(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, positionID *uuid.UUID, description string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.ledger.WithAccount(ctx, accountID, func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error {
		var err error
		txn, err = s.LockBalanceIn(ctx, tx, acct, amount, positionID, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// LockBalanceIn is LockBalance inside the caller's unit of work; acct must
// be the row locked by that unit of work.
func (s *Service) LockBalanceIn(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account, amount decimal.Decimal, positionID *uuid.UUID, description string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, domain.Validation("lock amount must be positive")
	}
	if !acct.IsActive() {
		return nil, domain.ErrAccountSuspended.WithMessage(
			fmt.Sprintf("account %s is %s", acct.Number, acct.Status))
	}
	if acct.AvailableBalance().LessThan(amount) {
		s.logger.WarnContext(ctx, "wallet_service: lock rejected",
			slog.String("account_id", acct.ID.String()),
			slog.String("available", acct.AvailableBalance().String()),
			slog.String("requested", amount.String()),
		)
		return nil, domain.ErrInsufficientBalance.WithMessage(fmt.Sprintf(
			"insufficient balance: available %s, required %s", acct.AvailableBalance(), amount))
	}

	before := acct.Balance
	acct.LockedBalance = acct.LockedBalance.Add(amount)
	if err := tx.Accounts().Update(ctx, acct); err != nil {
		return nil, fmt.Errorf("wallet_service: lock balance: %w", err)
	}

	txn := newTxn(acct, domain.TxTradeLock, amount.Neg(), before, positionID, orDefault(description, "margin locked"))
	if err := tx.Transactions().Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("wallet_service: lock balance: record transaction: %w", err)
	}
	return txn, nil
}

// ReleaseBalance returns previously locked margin to the available pool,
// floored at zero so over-release can never corrupt the account.
func (s *Service) ReleaseBalance(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, positionID *uuid.UUID, description string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.ledger.WithAccount(ctx, accountID, func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error {
		var err error
		txn, err = s.ReleaseBalanceIn(ctx, tx, acct, amount, positionID, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// ReleaseBalanceIn is ReleaseBalance inside the caller's unit of work.
func (s *Service) ReleaseBalanceIn(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account, amount decimal.Decimal, positionID *uuid.UUID, description string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, domain.Validation("release amount must be positive")
	}

	before := acct.Balance
	acct.LockedBalance = acct.LockedBalance.Sub(amount)
	if acct.LockedBalance.IsNegative() {
		acct.LockedBalance = decimal.Zero
	}
	if err := tx.Accounts().Update(ctx, acct); err != nil {
		return nil, fmt.Errorf("wallet_service: release balance: %w", err)
	}

	txn := newTxn(acct, domain.TxTradeRelease, amount, before, positionID, orDefault(description, "margin released"))
	if err := tx.Transactions().Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("wallet_service: release balance: record transaction: %w", err)
	}
	return txn, nil
}

// ApplyPnL books realized profit or loss against the balance, maintains the
// wallet lifetime counters and the running daily loss, and fires a risk
// alert after commit when the loss crosses the 85%/100% thresholds.
func (s *Service) ApplyPnL(ctx context.Context, accountID uuid.UUID, pnlAmount decimal.Decimal, positionID *uuid.UUID, description string) (*domain.Transaction, error) {
	var (
		txn   *domain.Transaction
		alert *domain.RiskAlert
	)
	err := s.ledger.WithAccount(ctx, accountID, func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error {
		var err error
		txn, alert, err = s.ApplyPnLIn(ctx, tx, acct, pnlAmount, positionID, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.FireAlert(ctx, alert)
	return txn, nil
}

// ApplyPnLIn is ApplyPnL inside the caller's unit of work. The returned
// alert, if any, must be delivered by the caller after its transaction
// commits (use FireAlert).
func (s *Service) ApplyPnLIn(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account, pnlAmount decimal.Decimal, positionID *uuid.UUID, description string) (*domain.Transaction, *domain.RiskAlert, error) {
	wal, err := s.walletFor(ctx, tx, acct)
	if err != nil {
		return nil, nil, err
	}

	before := acct.Balance
	acct.Balance = acct.Balance.Add(pnlAmount)

	var alert *domain.RiskAlert
	if pnlAmount.IsNegative() {
		loss := pnlAmount.Abs()
		acct.ResetDailyLossIfStale(time.Now())
		acct.DailyLossCurrent = acct.DailyLossCurrent.Add(loss)
		wal.TotalLoss = wal.TotalLoss.Add(loss)
		alert = riskAlertFor(acct)
	} else {
		wal.TotalProfit = wal.TotalProfit.Add(pnlAmount)
	}

	if err := tx.Accounts().Update(ctx, acct); err != nil {
		return nil, nil, fmt.Errorf("wallet_service: apply pnl: %w", err)
	}
	if err := tx.Wallets().Update(ctx, wal); err != nil {
		return nil, nil, fmt.Errorf("wallet_service: apply pnl: update wallet: %w", err)
	}

	txn := newTxn(acct, domain.TxTradePnL, pnlAmount, before, positionID, orDefault(description, "realized pnl"))
	if err := tx.Transactions().Create(ctx, txn); err != nil {
		return nil, nil, fmt.Errorf("wallet_service: apply pnl: record transaction: %w", err)
	}
	return txn, alert, nil
}

// FireAlert delivers a risk alert through the sink, fire-and-forget. A nil
// alert is a no-op.
func (s *Service) FireAlert(ctx context.Context, alert *domain.RiskAlert) {
	if alert == nil || s.alerts == nil {
		return
	}
	if err := s.alerts.SendRiskAlert(ctx, *alert); err != nil {
		s.logger.WarnContext(ctx, "wallet_service: risk alert delivery failed",
			slog.String("account_id", alert.AccountID.String()),
			slog.String("level", string(alert.Level)),
			slog.String("error", err.Error()),
		)
	}
}

// riskAlertFor classifies the account's running daily loss against its
// limit: nil below 85%, warning from 85%, critical at or past the limit.
func riskAlertFor(acct *domain.Account) *domain.RiskAlert {
	limit := acct.DailyLossLimit()
	if !limit.IsPositive() {
		return nil
	}
	warnAt := limit.Mul(alertWarningPercent).Div(decimal.NewFromInt(100))

	var level domain.AlertLevel
	switch {
	case acct.DailyLossCurrent.GreaterThanOrEqual(limit):
		level = domain.AlertCritical
	case acct.DailyLossCurrent.GreaterThanOrEqual(warnAt):
		level = domain.AlertWarning
	default:
		return nil
	}
	return &domain.RiskAlert{
		AccountID: acct.ID,
		Level:     level,
		DailyLoss: acct.DailyLossCurrent,
		Limit:     limit,
		At:        time.Now(),
	}
}

// CheckDailyLossLimit reports whether the account still has daily-loss
// headroom. The stale running loss is zeroed atomically with the read so
// concurrent callers observe a consistent value.
func (s *Service) CheckDailyLossLimit(ctx context.Context, accountID uuid.UUID) (bool, error) {
	var ok bool
	err := s.ledger.WithAccount(ctx, accountID, func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error {
		if acct.ResetDailyLossIfStale(time.Now()) {
			if err := tx.Accounts().Update(ctx, acct); err != nil {
				return fmt.Errorf("wallet_service: reset daily loss: %w", err)
			}
		}
		limit := acct.DailyLossLimit()
		ok = !limit.IsPositive() || acct.DailyLossCurrent.LessThan(limit)
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Deposit credits the account and bumps the wallet's lifetime deposits.
func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, method string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, domain.Validation("deposit amount must be positive")
	}
	var txn *domain.Transaction
	err := s.ledger.WithAccount(ctx, accountID, func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error {
		wal, err := s.walletFor(ctx, tx, acct)
		if err != nil {
			return err
		}

		before := acct.Balance
		acct.Balance = acct.Balance.Add(amount)
		if err := tx.Accounts().Update(ctx, acct); err != nil {
			return fmt.Errorf("wallet_service: deposit: %w", err)
		}
		wal.TotalDeposits = wal.TotalDeposits.Add(amount)
		if err := tx.Wallets().Update(ctx, wal); err != nil {
			return fmt.Errorf("wallet_service: deposit: update wallet: %w", err)
		}

		txn = newTxn(acct, domain.TxDeposit, amount, before, nil, fmt.Sprintf("deposit via %s", method))
		if err := tx.Transactions().Create(ctx, txn); err != nil {
			return fmt.Errorf("wallet_service: deposit: record transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// WithdrawalFee computes the fee for a withdrawal: percent of amount,
// clamped to the [min, max] band.
func WithdrawalFee(amount decimal.Decimal) decimal.Decimal {
	fee := amount.Mul(withdrawFeePercent).Div(decimal.NewFromInt(100)).Round(2)
	if fee.LessThan(withdrawFeeMin) {
		return withdrawFeeMin
	}
	if fee.GreaterThan(withdrawFeeMax) {
		return withdrawFeeMax
	}
	return fee
}

// Withdraw debits amount plus fee from the account. It fails with
// InsufficientBalance when the available balance cannot cover both, and
// writes a withdrawal row plus a separate fee row.
func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, method string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, domain.Validation("withdrawal amount must be positive")
	}
	var txn *domain.Transaction
	err := s.ledger.WithAccount(ctx, accountID, func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error {
		if !acct.IsActive() {
			return domain.ErrAccountSuspended.WithMessage(
				fmt.Sprintf("account %s is %s", acct.Number, acct.Status))
		}

		wal, err := s.walletFor(ctx, tx, acct)
		if err != nil {
			return err
		}

		fee := WithdrawalFee(amount)
		total := amount.Add(fee)
		if acct.AvailableBalance().LessThan(total) {
			return domain.ErrInsufficientBalance.WithMessage(fmt.Sprintf(
				"insufficient balance: available %s, required %s", acct.AvailableBalance(), total))
		}

		before := acct.Balance
		acct.Balance = acct.Balance.Sub(amount)
		txn = newTxn(acct, domain.TxWithdrawal, amount.Neg(), before, nil, fmt.Sprintf("withdrawal via %s", method))
		if err := tx.Transactions().Create(ctx, txn); err != nil {
			return fmt.Errorf("wallet_service: withdraw: record transaction: %w", err)
		}

		feeBefore := acct.Balance
		acct.Balance = acct.Balance.Sub(fee)
		feeTxn := newTxn(acct, domain.TxFee, fee.Neg(), feeBefore, nil, "withdrawal fee")
		if err := tx.Transactions().Create(ctx, feeTxn); err != nil {
			return fmt.Errorf("wallet_service: withdraw: record fee: %w", err)
		}

		if err := tx.Accounts().Update(ctx, acct); err != nil {
			return fmt.Errorf("wallet_service: withdraw: %w", err)
		}
		wal.TotalWithdrawals = wal.TotalWithdrawals.Add(amount)
		wal.TotalFeesPaid = wal.TotalFeesPaid.Add(fee)
		if err := tx.Wallets().Update(ctx, wal); err != nil {
			return fmt.Errorf("wallet_service: withdraw: update wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// AuditReport is the outcome of recomputing one account's balance from its
// completed ledger rows.
type AuditReport struct {
	AccountID         uuid.UUID
	AccountNumber     string
	AccountBalance    decimal.Decimal
	InitialBalance    decimal.Decimal
	TransactionSum    decimal.Decimal
	TransactionCount  int64
	CalculatedBalance decimal.Decimal
	Difference        decimal.Decimal // stored − calculated
	IsConsistent      bool
}

// AuditBalance recomputes initialBalance + Σ(completed balance-affecting
// amounts) and compares it with the stored balance. The read is a
// non-locking snapshot; in-flight writes may shift it by one transaction.
func (s *Service) AuditBalance(ctx context.Context, accountID uuid.UUID, initialBalance decimal.Decimal) (AuditReport, error) {
	var report AuditReport
	err := s.ledger.View(ctx, func(ctx context.Context, tx domain.UnitOfWork) error {
		acct, err := tx.Accounts().Get(ctx, accountID)
		if err != nil {
			return fmt.Errorf("wallet_service: audit balance: %w", err)
		}
		sum, count, err := tx.Transactions().SumCompleted(ctx, accountID)
		if err != nil {
			return fmt.Errorf("wallet_service: audit balance: sum transactions: %w", err)
		}

		calculated := initialBalance.Add(sum)
		diff := acct.Balance.Sub(calculated)
		report = AuditReport{
			AccountID:         acct.ID,
			AccountNumber:     acct.Number,
			AccountBalance:    acct.Balance,
			InitialBalance:    initialBalance,
			TransactionSum:    sum,
			TransactionCount:  count,
			CalculatedBalance: calculated,
			Difference:        diff,
			IsConsistent:      diff.Abs().LessThanOrEqual(domain.AuditTolerance),
		}
		return nil
	})
	if err != nil {
		return AuditReport{}, err
	}
	return report, nil
}

// CorrectBalance overwrites the stored balance with the recomputed one. No
// ledger row is written: the point of the correction is to make the stored
// value match the transaction sum again. Callers gate this behind explicit
// authorization; it is never applied silently.
func (s *Service) CorrectBalance(ctx context.Context, accountID uuid.UUID, calculated decimal.Decimal) error {
	return s.ledger.WithAccount(ctx, accountID, func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error {
		previous := acct.Balance
		acct.Balance = calculated
		if err := tx.Accounts().Update(ctx, acct); err != nil {
			return fmt.Errorf("wallet_service: correct balance: %w", err)
		}
		s.logger.WarnContext(ctx, "wallet_service: balance corrected",
			slog.String("account_id", acct.ID.String()),
			slog.String("previous", previous.String()),
			slog.String("corrected", calculated.String()),
		)
		return nil
	})
}

// walletFor loads the account's wallet, creating the row on first use.
func (s *Service) walletFor(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) (*domain.Wallet, error) {
	wal, err := tx.Wallets().GetByAccount(ctx, acct.ID)
	if err == nil {
		return wal, nil
	}
	if domain.CodeOf(err) != domain.ErrNotFound.Code {
		return nil, fmt.Errorf("wallet_service: load wallet: %w", err)
	}
	wal = &domain.Wallet{ID: uuid.New(), AccountID: acct.ID}
	if err := tx.Wallets().Create(ctx, wal); err != nil {
		return nil, fmt.Errorf("wallet_service: create wallet: %w", err)
	}
	return wal, nil
}

func newTxn(acct *domain.Account, typ domain.TransactionType, amount, before decimal.Decimal, positionID *uuid.UUID, description string) *domain.Transaction {
	return &domain.Transaction{
		ID:            uuid.New(),
		AccountID:     acct.ID,
		Type:          typ,
		Status:        domain.TxCompleted,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  acct.Balance,
		PositionID:    positionID,
		Description:   description,
		CreatedAt:     time.Now(),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
