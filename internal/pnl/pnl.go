// Package pnl holds the pure trade arithmetic: realized profit and loss,
// position sizing and margin. Everything here is deterministic fixed-point
// math with no storage or market-data access.
package pnl

import (
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

const (
	// moneyPlaces is the scale of every monetary result.
	moneyPlaces int32 = 2
	// sizePlaces is the scale of position sizes in instrument units.
	sizePlaces int32 = 4
)

var hundred = decimal.NewFromInt(100)

// Realized computes the profit or loss of closing size units of a position
// at exitPrice, rounded to 2 decimal places (half away from zero). BUY earns
// when price rose, SELL when it fell.
func Realized(side domain.Side, entryPrice, exitPrice, size decimal.Decimal) decimal.Decimal {
	var perUnit decimal.Decimal
	if side == domain.Buy {
		perUnit = exitPrice.Sub(entryPrice)
	} else {
		perUnit = entryPrice.Sub(exitPrice)
	}
	return perUnit.Mul(size).Round(moneyPlaces)
}

// Unrealized is the mark-to-market profit or loss of the position's
// remaining size at currentPrice. A fully closed position has nothing at
// risk and always marks to zero.
func Unrealized(p *domain.Position, currentPrice decimal.Decimal) decimal.Decimal {
	if p.Status == domain.PositionClosed {
		return decimal.Zero
	}
	return Realized(p.Side, p.EntryPrice, currentPrice, p.RemainingSize)
}

// PositionSize converts a risk budget into instrument units: the account
// risks riskPercent of balance, spread over the stop distance. The result
// is truncated to 4 decimal places so the risked amount never exceeds the
// budget.
func PositionSize(balance, riskPercent, entryPrice, stopLoss decimal.Decimal) decimal.Decimal {
	dist := entryPrice.Sub(stopLoss).Abs()
	if dist.IsZero() {
		return decimal.Zero
	}
	riskAmount := balance.Mul(riskPercent).Div(hundred)
	return riskAmount.Div(dist).Truncate(sizePlaces)
}

// RiskAmount is the money at stake for an order: balance × riskPercent / 100.
func RiskAmount(balance, riskPercent decimal.Decimal) decimal.Decimal {
	return balance.Mul(riskPercent).Div(hundred).Round(moneyPlaces)
}

// Margin is the notional reserved while a position is open.
func Margin(size, entryPrice decimal.Decimal) decimal.Decimal {
	return size.Mul(entryPrice).Round(moneyPlaces)
}

// WorstCaseLoss is the loss realized if the position stops out exactly at
// the stop price.
func WorstCaseLoss(side domain.Side, entryPrice, stopLoss, size decimal.Decimal) decimal.Decimal {
	return Realized(side, entryPrice, stopLoss, size).Neg()
}
