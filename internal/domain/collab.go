package domain

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quote is a point-in-time market snapshot for one symbol.
type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	At     time.Time
}

// Mid is the bid/ask midpoint.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// PriceFeed supplies current market prices. Implementations must return a
// MARKET_DATA_ERROR-coded failure (never a zero price) when a symbol is
// unknown or the snapshot is stale.
type PriceFeed interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// PriceSink receives quote updates, typically from a streaming source into
// a cache.
type PriceSink interface {
	PutQuote(ctx context.Context, q Quote) error
}

// LedgerSync mirrors realized PnL to the external system of record for real
// accounts. It returns the balance delta the external side applied; the
// caller verifies it matches the computed PnL and unwinds on disagreement.
type LedgerSync interface {
	ApplyPnL(ctx context.Context, accountID uuid.UUID, positionID uuid.UUID, pnl decimal.Decimal) (decimal.Decimal, error)
}

// AlertLevel grades a risk alert.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// RiskAlert reports an account approaching or breaching its daily-loss
// limit.
type RiskAlert struct {
	AccountID uuid.UUID
	Level     AlertLevel
	DailyLoss decimal.Decimal
	Limit     decimal.Decimal
	At        time.Time
}

// AlertSink delivers risk alerts. Delivery is fire-and-forget: callers log
// failures and move on.
type AlertSink interface {
	SendRiskAlert(ctx context.Context, a RiskAlert) error
}

// LockManager hands out distributed mutual exclusion for background jobs.
// Acquire returns ErrLockHeld when another holder owns the key; the release
// func is idempotent.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// BlobWriter archives generated artifacts (reconciliation reports) to
// object storage. PutMultipart is for payloads too large for a single
// request; partSize below the backend's minimum is clamped.
type BlobWriter interface {
	Put(ctx context.Context, key string, contentType string, body io.Reader) (location string, err error)
	PutMultipart(ctx context.Context, key string, contentType string, body io.Reader, partSize int64) (location string, err error)
}
