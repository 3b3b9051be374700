package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountKind separates paper-money accounts from accounts whose positions
// settle against the external ledger.
type AccountKind string

const (
	AccountDemo AccountKind = "demo"
	AccountReal AccountKind = "real"
)

// AccountStatus is the lifecycle state of a trading account. Only active
// accounts may lock balance or open trades; PnL settlement is allowed in any
// state so that closing positions can always complete.
type AccountStatus string

const (
	AccountPendingVerification AccountStatus = "pending_verification"
	AccountActive              AccountStatus = "active"
	AccountSuspended           AccountStatus = "suspended"
	AccountMarginCall          AccountStatus = "margin_call"
	AccountClosed              AccountStatus = "closed"
)

// RiskProfile selects the policy preset applied on top of the account's own
// limits.
type RiskProfile string

const (
	ProfileStandard     RiskProfile = "standard"
	ProfileConservative RiskProfile = "conservative"
)

// Account is the unit of balance custody. Balance is the settled total,
// LockedBalance the slice of it reserved by open positions; both are
// non-negative and LockedBalance never exceeds Balance.
type Account struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Number  string
	Kind    AccountKind
	Status  AccountStatus

	Balance       decimal.Decimal
	LockedBalance decimal.Decimal
	Currency      string

	MaxRiskPerTrade     decimal.Decimal // percent of balance, e.g. 2.00
	MaxDailyLoss        decimal.Decimal // absolute cap; zero means "use percent"
	MaxDailyLossPercent decimal.Decimal
	DailyLossCurrent    decimal.Decimal
	DailyLossDate       time.Time // day the running loss belongs to (UTC date)
	MaxLeverage         int
	Profile             RiskProfile

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AvailableBalance is the slice of Balance not reserved by open positions.
func (a *Account) AvailableBalance() decimal.Decimal {
	return a.Balance.Sub(a.LockedBalance)
}

// Equity is the account's liquidation value: settled balance plus the total
// unrealized PnL of its open positions.
func (a *Account) Equity(unrealized decimal.Decimal) decimal.Decimal {
	return a.Balance.Add(unrealized)
}

// IsActive reports whether the account may take on new exposure.
func (a *Account) IsActive() bool { return a.Status == AccountActive }

// DailyLossLimit resolves the effective daily-loss cap: the absolute limit
// when configured, otherwise MaxDailyLossPercent of the current balance.
func (a *Account) DailyLossLimit() decimal.Decimal {
	if a.MaxDailyLoss.IsPositive() {
		return a.MaxDailyLoss
	}
	return a.Balance.Mul(a.MaxDailyLossPercent).Div(decimal.NewFromInt(100))
}

// ResetDailyLossIfStale zeroes the running daily loss when its date is
// before today (UTC). It returns true when a reset happened, in which case
// the caller must persist the account.
func (a *Account) ResetDailyLossIfStale(now time.Time) bool {
	today := now.UTC().Truncate(24 * time.Hour)
	if !a.DailyLossDate.Before(today) {
		return false
	}
	a.DailyLossCurrent = decimal.Zero
	a.DailyLossDate = today
	return true
}

// Wallet carries the lifetime counters of an account. It never gates an
// operation; all guards read the Account.
type Wallet struct {
	ID        uuid.UUID
	AccountID uuid.UUID

	TotalDeposits    decimal.Decimal
	TotalWithdrawals decimal.Decimal
	TotalProfit      decimal.Decimal
	TotalLoss        decimal.Decimal
	TotalFeesPaid    decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}
