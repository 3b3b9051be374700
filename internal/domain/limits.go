package domain

import "github.com/shopspring/decimal"

// Trading floor values. These are platform-wide; per-account limits live on
// the Account.
var (
	// MinTradeBalance is the smallest balance an account needs before the
	// risk engine will consider an order.
	MinTradeBalance = decimal.RequireFromString("10.00")

	// MinCloseSize is the smallest partial-close size accepted.
	MinCloseSize = decimal.RequireFromString("0.0001")

	// DemoDefaultBalance is the starting (and reset) balance of demo
	// accounts.
	DemoDefaultBalance = decimal.RequireFromString("10000.00")

	// AuditTolerance is the largest |recorded − computed| balance drift
	// still considered consistent.
	AuditTolerance = decimal.RequireFromString("0.01")
)
