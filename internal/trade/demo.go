package trade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// ResetDemoAccount restores a demo account to its starting balance: open and
// partial positions are closed logically (no PnL is booked), margin locks
// are cleared, and the balance is set back to the default. History stays.
// Real accounts are rejected outright.
func (o *Orchestrator) ResetDemoAccount(ctx context.Context, accountID uuid.UUID) error {
	var reset []*domain.PositionLog
	err := o.ledger.WithAccount(ctx, accountID, func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error {
		if acct.Kind != domain.AccountDemo {
			return domain.ErrInvalidAccountKind.WithMessage(
				fmt.Sprintf("reset allowed only for demo accounts, account %s is %s", acct.Number, acct.Kind))
		}

		open, err := tx.Positions().ListOpenByAccount(ctx, acct.ID)
		if err != nil {
			return fmt.Errorf("trade: demo reset: list open positions: %w", err)
		}
		now := time.Now()
		for _, p := range open {
			p.Status = domain.PositionClosed
			p.RemainingSize = decimal.Zero
			p.LockedMargin = decimal.Zero
			p.UnrealizedPnL = decimal.Zero
			p.ClosedAt = &now
			p.UpdatedAt = now
			if err := tx.Positions().Update(ctx, p); err != nil {
				return fmt.Errorf("trade: demo reset: close position %s: %w", p.ID, err)
			}
			reset = append(reset, &domain.PositionLog{
				ID:         uuid.New(),
				PositionID: p.ID,
				AccountID:  acct.ID,
				Event:      domain.EventReset,
				Size:       p.Size,
				Price:      p.EntryPrice,
				Comment:    "demo account reset",
				CreatedAt:  now,
			})
		}

		// An adjustment row keeps the transaction-sum ground truth intact
		// across the reset.
		before := acct.Balance
		delta := domain.DemoDefaultBalance.Sub(before)
		acct.Balance = domain.DemoDefaultBalance
		acct.LockedBalance = decimal.Zero
		acct.DailyLossCurrent = decimal.Zero
		if err := tx.Accounts().Update(ctx, acct); err != nil {
			return fmt.Errorf("trade: demo reset: %w", err)
		}
		if !delta.IsZero() {
			txn := &domain.Transaction{
				ID:            uuid.New(),
				AccountID:     acct.ID,
				Type:          domain.TxAdjustment,
				Status:        domain.TxCompleted,
				Amount:        delta,
				BalanceBefore: before,
				BalanceAfter:  acct.Balance,
				Description:   "demo account reset",
				CreatedAt:     now,
			}
			if err := tx.Transactions().Create(ctx, txn); err != nil {
				return fmt.Errorf("trade: demo reset: record adjustment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, l := range reset {
		o.appendLog(ctx, l)
	}
	o.logger.InfoContext(ctx, "trade_orchestrator: demo account reset",
		slog.String("account_id", accountID.String()),
		slog.Int("positions_closed", len(reset)),
	)
	return nil
}
