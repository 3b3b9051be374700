// Package risk validates orders before any balance is touched: stop-loss
// placement, risk budget, stop distance, leverage, daily-loss headroom and
// margin sufficiency. Validation is pure; the engine never writes.
package risk

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
	"github.com/farrukhsid/brokerledger/internal/pnl"
)

// Order is a validated-input order request.
type Order struct {
	Symbol      string
	Side        domain.Side
	EntryPrice  decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal // zero means none
	RiskPercent decimal.Decimal
}

// Sized is the outcome of a successful validation: the computed position
// size and the margin the open must reserve.
type Sized struct {
	Size   decimal.Decimal
	Margin decimal.Decimal
}

// Engine runs the pre-trade rule chain and sizes the order.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger.With(slog.String("component", "risk_engine"))}
}

// ValidateAndSize runs every pre-trade check against acct and instr in a
// fixed order and returns the first failure. On success it returns the
// position size and required margin. acct must already be loaded under the
// caller's account lock; nothing here mutates it.
func (e *Engine) ValidateAndSize(acct *domain.Account, instr domain.Instrument, ord Order) (Sized, error) {
	policy := PolicyFor(acct.Profile)

	// 1. Side.
	if ord.Side != domain.Buy && ord.Side != domain.Sell {
		return Sized{}, domain.Validation(fmt.Sprintf("invalid side %q", ord.Side))
	}
	if !ord.EntryPrice.IsPositive() {
		return Sized{}, domain.Validation("entry price must be positive")
	}

	// 2. Stop loss: mandatory, on the loss side of entry.
	if !ord.StopLoss.IsPositive() {
		return Sized{}, domain.Validation("stop loss is mandatory")
	}
	if ord.Side == domain.Buy && ord.StopLoss.GreaterThanOrEqual(ord.EntryPrice) {
		return Sized{}, domain.Validation("stop loss must be below entry price for BUY")
	}
	if ord.Side == domain.Sell && ord.StopLoss.LessThanOrEqual(ord.EntryPrice) {
		return Sized{}, domain.Validation("stop loss must be above entry price for SELL")
	}

	// 3. Take profit: optional, on the profit side when present.
	if ord.TakeProfit.IsPositive() {
		if ord.Side == domain.Buy && ord.TakeProfit.LessThanOrEqual(ord.EntryPrice) {
			return Sized{}, domain.Validation("take profit must be above entry price for BUY")
		}
		if ord.Side == domain.Sell && ord.TakeProfit.GreaterThanOrEqual(ord.EntryPrice) {
			return Sized{}, domain.Validation("take profit must be below entry price for SELL")
		}
	}

	// 4. Risk percent within the account and policy ceilings.
	if !ord.RiskPercent.IsPositive() {
		return Sized{}, domain.Validation("risk percent must be positive")
	}
	if maxRisk := policy.maxRiskPercent(acct); maxRisk.IsPositive() && ord.RiskPercent.GreaterThan(maxRisk) {
		return Sized{}, domain.ErrRiskLimitExceeded.WithMessage(
			fmt.Sprintf("risk %s%% exceeds maximum %s%%", ord.RiskPercent, maxRisk))
	}

	// 5. Stop distance above the instrument minimum.
	dist := ord.EntryPrice.Sub(ord.StopLoss).Abs()
	if dist.LessThan(instr.MinStopDistance) {
		return Sized{}, domain.Validation(fmt.Sprintf(
			"stop distance %s below minimum %s for %s", dist, instr.MinStopDistance, instr.Symbol))
	}

	// 6. Leverage within the instrument-class ceiling.
	if acct.MaxLeverage > instr.MaxLeverage() {
		return Sized{}, domain.ErrRiskLimitExceeded.WithMessage(fmt.Sprintf(
			"account leverage 1:%d exceeds 1:%d allowed for %s", acct.MaxLeverage, instr.MaxLeverage(), instr.Class))
	}

	// 7. Daily-loss headroom: projecting the full risk budget as loss must
	// not breach the effective daily ceiling.
	if limit := policy.dailyLossLimit(acct); limit.IsPositive() {
		projected := acct.DailyLossCurrent.Add(pnl.RiskAmount(acct.Balance, ord.RiskPercent))
		if projected.GreaterThan(limit) {
			e.logger.Warn("risk_engine: daily loss headroom exhausted",
				slog.String("account_id", acct.ID.String()),
				slog.String("daily_loss", acct.DailyLossCurrent.String()),
				slog.String("projected", projected.String()),
				slog.String("limit", limit.String()),
			)
			return Sized{}, domain.ErrDailyLossLimit.WithMessage(fmt.Sprintf(
				"projected daily loss %s exceeds limit %s", projected, limit))
		}
	}

	// 8. Size the order and check the notional cap.
	size := pnl.PositionSize(acct.Balance, ord.RiskPercent, ord.EntryPrice, ord.StopLoss)
	if !size.IsPositive() {
		return Sized{}, domain.Validation("position size computes to zero")
	}
	margin := pnl.Margin(size, ord.EntryPrice)
	if policy.MaxPositionPercent.IsPositive() && acct.Balance.IsPositive() {
		notionalPct := margin.Div(acct.Balance).Mul(decimal.NewFromInt(100))
		if notionalPct.GreaterThan(policy.MaxPositionPercent) {
			return Sized{}, domain.ErrRiskLimitExceeded.WithMessage(fmt.Sprintf(
				"position notional %s%% of balance exceeds %s%% (%s policy)",
				notionalPct.Round(2), policy.MaxPositionPercent, policy.Name))
		}
	}

	// 9. Balance floors: absolute minimum, then margin coverage.
	if acct.Balance.LessThan(domain.MinTradeBalance) {
		return Sized{}, domain.ErrRiskLimitExceeded.WithMessage(fmt.Sprintf(
			"balance %s below minimum %s required to trade", acct.Balance, domain.MinTradeBalance))
	}
	if acct.AvailableBalance().LessThan(margin) {
		return Sized{}, domain.ErrRiskLimitExceeded.WithMessage(fmt.Sprintf(
			"required margin %s exceeds available balance %s", margin, acct.AvailableBalance()))
	}

	return Sized{Size: size, Margin: margin}, nil
}
