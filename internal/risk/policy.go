package risk

import (
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// Policy is a preset of risk ceilings applied on top of the account's own
// limits. A zero field defers to the account.
type Policy struct {
	Name string

	// MaxRiskPercent caps risk_percent per order.
	MaxRiskPercent decimal.Decimal
	// MaxPositionPercent caps the position notional as a percent of
	// balance.
	MaxPositionPercent decimal.Decimal
	// MaxDailyLossPercent tightens the account's daily-loss ceiling.
	MaxDailyLossPercent decimal.Decimal
}

var (
	// Standard applies only the account's own limits.
	Standard = Policy{Name: "standard"}

	// Conservative is the low-stress preset: 1% per trade, 10% notional,
	// 2% daily loss.
	Conservative = Policy{
		Name:                "conservative",
		MaxRiskPercent:      decimal.RequireFromString("1.0"),
		MaxPositionPercent:  decimal.RequireFromString("10.0"),
		MaxDailyLossPercent: decimal.RequireFromString("2.0"),
	}
)

// PolicyFor maps an account profile to its preset. Unknown profiles get
// Standard.
func PolicyFor(p domain.RiskProfile) Policy {
	if p == domain.ProfileConservative {
		return Conservative
	}
	return Standard
}

// maxRiskPercent resolves the effective per-order risk ceiling for acct.
func (p Policy) maxRiskPercent(acct *domain.Account) decimal.Decimal {
	limit := acct.MaxRiskPerTrade
	if p.MaxRiskPercent.IsPositive() && (limit.IsZero() || p.MaxRiskPercent.LessThan(limit)) {
		limit = p.MaxRiskPercent
	}
	return limit
}

// dailyLossLimit resolves the effective daily-loss ceiling for acct.
func (p Policy) dailyLossLimit(acct *domain.Account) decimal.Decimal {
	limit := acct.DailyLossLimit()
	if p.MaxDailyLossPercent.IsPositive() {
		tightened := acct.Balance.Mul(p.MaxDailyLossPercent).Div(decimal.NewFromInt(100))
		if limit.IsZero() || tightened.LessThan(limit) {
			limit = tightened
		}
	}
	return limit
}
