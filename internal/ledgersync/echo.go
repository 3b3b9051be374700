package ledgersync

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// Echo is a LedgerSync that agrees with every PnL it is given. It serves the
// sandbox mode, where there is no external system of record to mirror.
type Echo struct{}

// ApplyPnL returns pnl unchanged.
func (Echo) ApplyPnL(_ context.Context, _ uuid.UUID, _ uuid.UUID, pnl decimal.Decimal) (decimal.Decimal, error) {
	return pnl, nil
}

var _ domain.LedgerSync = Echo{}
