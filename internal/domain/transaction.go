package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger row. Trade locks and releases record
// availability changes (negative lock, positive release) and cancel out over
// a position's life; deposits, withdrawals, PnL and fees move the balance.
type TransactionType string

const (
	TxDeposit      TransactionType = "deposit"
	TxWithdrawal   TransactionType = "withdraw"
	TxTradeLock    TransactionType = "trade_lock"
	TxTradeRelease TransactionType = "trade_release"
	TxTradePnL     TransactionType = "trade_pnl"
	TxFee          TransactionType = "fee"
	TxCommission   TransactionType = "commission"
	TxRefund       TransactionType = "refund"
	TxAdjustment   TransactionType = "adjustment"
)

// TransactionStatus is the settlement state of a ledger row. Only completed
// rows count toward the audit ground truth.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxCancelled TransactionStatus = "cancelled"
)

// balanceAffecting lists the types whose completed amounts reconstruct the
// account balance from its initial deposit.
var balanceAffecting = map[TransactionType]bool{
	TxDeposit:    true,
	TxWithdrawal: true,
	TxTradePnL:   true,
	TxFee:        true,
	TxCommission: true,
	TxRefund:     true,
	TxAdjustment: true,
}

// Transaction is an append-only ledger row. Rows are never updated after
// completion; corrections are new adjustment rows.
type Transaction struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Type      TransactionType
	Status    TransactionStatus

	// Amount is signed: credits positive, debits negative.
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal

	PositionID  *uuid.UUID
	Reference   string
	Description string

	CreatedAt time.Time
}

// AffectsBalance reports whether this row's amount moves the settled
// balance (locks and releases only shuffle availability).
func (t *Transaction) AffectsBalance() bool {
	return balanceAffecting[t.Type]
}
