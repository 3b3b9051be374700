package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionStatus tracks a position from open through partial closes to
// fully closed. Status changes are monotonic.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionPartial PositionStatus = "PARTIAL"
	PositionClosed  PositionStatus = "CLOSED"
)

// fullCloseThreshold: a remaining size at or below this is treated as fully
// closed to absorb fixed-point dust.
var fullCloseThreshold = decimal.RequireFromString("0.0001")

// Position is an open or settled trade. Size and RemainingSize are in
// instrument units at 4 decimal places; StopLoss is mandatory at open.
type Position struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Symbol    string
	Side      Side
	Status    PositionStatus

	Size          decimal.Decimal
	RemainingSize decimal.Decimal
	EntryPrice    decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal // zero means none
	LockedMargin  decimal.Decimal
	RiskPercent   decimal.Decimal

	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal // last mark-to-market; zero once closed
	ClosePrice    decimal.Decimal // last fill price; zero until first close

	OpenedAt  time.Time
	ClosedAt  *time.Time
	UpdatedAt time.Time
}

// IsOpen reports whether any size remains.
func (p *Position) IsOpen() bool { return p.Status != PositionClosed }

// FullyClosedAfter reports whether closing sz leaves only dust behind.
func (p *Position) FullyClosedAfter(sz decimal.Decimal) bool {
	return p.RemainingSize.Sub(sz).LessThanOrEqual(fullCloseThreshold)
}

// StopHit reports whether price has breached the stop on this side.
func (p *Position) StopHit(price decimal.Decimal) bool {
	if p.Side == Buy {
		return price.LessThanOrEqual(p.StopLoss)
	}
	return price.GreaterThanOrEqual(p.StopLoss)
}

// TakeProfitHit reports whether price has reached the target, if one is set.
func (p *Position) TakeProfitHit(price decimal.Decimal) bool {
	if p.TakeProfit.IsZero() {
		return false
	}
	if p.Side == Buy {
		return price.GreaterThanOrEqual(p.TakeProfit)
	}
	return price.LessThanOrEqual(p.TakeProfit)
}

// PositionEvent classifies a position-log entry.
type PositionEvent string

const (
	EventOpen         PositionEvent = "OPEN"
	EventClose        PositionEvent = "CLOSE"
	EventPartialClose PositionEvent = "PARTIAL_CLOSE"
	EventStopHit      PositionEvent = "SL_HIT"
	EventTargetHit    PositionEvent = "TP_HIT"
	EventReset        PositionEvent = "RESET"
)

// PositionLog is an append-only trail of position lifecycle events, written
// after the financial transaction commits. It is observability, not ledger:
// a failed append never unwinds a settled trade.
type PositionLog struct {
	ID         uuid.UUID
	PositionID uuid.UUID
	AccountID  uuid.UUID
	Event      PositionEvent

	Size    decimal.Decimal
	Price   decimal.Decimal
	PnL     decimal.Decimal
	Comment string

	CreatedAt time.Time
}
