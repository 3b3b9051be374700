// Package trade composes the risk engine, pnl math and wallet service into
// the open/close workflows. Each workflow is one unit of work on the ledger;
// any failure inside it unwinds every mutation. Position logs and
// notifications happen after commit and never unwind a settled trade.
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
	"github.com/farrukhsid/brokerledger/internal/pnl"
	"github.com/farrukhsid/brokerledger/internal/risk"
	"github.com/farrukhsid/brokerledger/internal/wallet"
)

// Notifier is the fire-and-forget notification surface the orchestrator
// publishes trade events to.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Notification event types.
const (
	EventTradeOpened = "trade_opened"
	EventTradeClosed = "trade_closed"
	EventSLHit       = "sl_hit"
	EventTPHit       = "tp_hit"
)

// OpenRequest is the input to Open.
type OpenRequest struct {
	AccountID   uuid.UUID
	Symbol      string
	Side        domain.Side
	EntryPrice  decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal // zero means none
	RiskPercent decimal.Decimal
}

// Orchestrator drives position lifecycle. It owns Position and PositionLog
// mutation; all money movement goes through the wallet service.
type Orchestrator struct {
	ledger      domain.Ledger
	wallet      *wallet.Service
	engine      *risk.Engine
	feed        domain.PriceFeed
	sync        domain.LedgerSync
	logs        domain.PositionLogStore
	notifier    Notifier
	instruments domain.Catalog
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. sync is required for real-account
// closes; notifier and logs may be nil.
func NewOrchestrator(
	ledger domain.Ledger,
	walletSvc *wallet.Service,
	engine *risk.Engine,
	feed domain.PriceFeed,
	sync domain.LedgerSync,
	logs domain.PositionLogStore,
	notifier Notifier,
	instruments domain.Catalog,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		ledger:      ledger,
		wallet:      walletSvc,
		engine:      engine,
		feed:        feed,
		sync:        sync,
		logs:        logs,
		notifier:    notifier,
		instruments: instruments,
		logger:      logger.With(slog.String("component", "trade_orchestrator")),
	}
}

// Open validates the order, reserves margin and creates the position, all in
// one unit of work on the account row. A failure at any step leaves no trace.
func (o *Orchestrator) Open(ctx context.Context, req OpenRequest) (*domain.Position, error) {
	instr, err := o.instruments.Get(req.Symbol)
	if err != nil {
		return nil, err
	}

	// Market data must be live before anything is locked.
	price, err := o.feed.GetPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("trade: open %s: %w", req.Symbol, err)
	}
	if !price.IsPositive() {
		return nil, domain.ErrMarketData.WithMessage(
			fmt.Sprintf("non-positive price %s for %s", price, req.Symbol))
	}

	var pos *domain.Position
	err = o.ledger.WithAccount(ctx, req.AccountID, func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error {
		if acct.ResetDailyLossIfStale(time.Now()) {
			if err := tx.Accounts().Update(ctx, acct); err != nil {
				return fmt.Errorf("trade: open: reset daily loss: %w", err)
			}
		}

		sized, err := o.engine.ValidateAndSize(acct, instr, risk.Order{
			Symbol:      req.Symbol,
			Side:        req.Side,
			EntryPrice:  req.EntryPrice,
			StopLoss:    req.StopLoss,
			TakeProfit:  req.TakeProfit,
			RiskPercent: req.RiskPercent,
		})
		if err != nil {
			return err
		}

		// Hedge prevention: no opposite-side exposure on the same symbol.
		opposite, err := tx.Positions().HasOpenOpposite(ctx, acct.ID, req.Symbol, req.Side)
		if err != nil {
			return fmt.Errorf("trade: open: hedge check: %w", err)
		}
		if opposite {
			return domain.Validation(fmt.Sprintf(
				"hedging is disabled: close the open %s position on %s first", req.Side.Opposite(), req.Symbol))
		}

		pos = &domain.Position{
			ID:            uuid.New(),
			AccountID:     acct.ID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Status:        domain.PositionOpen,
			Size:          sized.Size,
			RemainingSize: sized.Size,
			EntryPrice:    req.EntryPrice,
			StopLoss:      req.StopLoss,
			TakeProfit:    req.TakeProfit,
			LockedMargin:  sized.Margin,
			RiskPercent:   req.RiskPercent,
			OpenedAt:      time.Now(),
			UpdatedAt:     time.Now(),
		}

		// Margin is reserved in the same transaction that creates the
		// position; validation and reservation cannot race.
		if _, err := o.wallet.LockBalanceIn(ctx, tx, acct, sized.Margin, &pos.ID,
			fmt.Sprintf("margin for %s %s", req.Side, req.Symbol)); err != nil {
			return err
		}

		if err := tx.Positions().Create(ctx, pos); err != nil {
			return fmt.Errorf("trade: open: create position: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.appendLog(ctx, &domain.PositionLog{
		ID:         uuid.New(),
		PositionID: pos.ID,
		AccountID:  pos.AccountID,
		Event:      domain.EventOpen,
		Size:       pos.Size,
		Price:      pos.EntryPrice,
		CreatedAt:  time.Now(),
	})
	o.notify(ctx, EventTradeOpened, "Trade opened",
		fmt.Sprintf("%s %s size %s @ %s (SL %s)", pos.Side, pos.Symbol, pos.Size, pos.EntryPrice, pos.StopLoss))

	o.logger.InfoContext(ctx, "trade_orchestrator: position opened",
		slog.String("position_id", pos.ID.String()),
		slog.String("account_id", pos.AccountID.String()),
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.String("size", pos.Size.String()),
		slog.String("margin", pos.LockedMargin.String()),
	)
	return pos, nil
}

// Close settles all or part of a position at closingPrice. A zero closeSize
// closes the full remaining size. Demo and real accounts settle through
// separate paths; only the real path talks to the external ledger.
func (o *Orchestrator) Close(ctx context.Context, positionID uuid.UUID, closingPrice, closeSize decimal.Decimal) (*domain.Position, error) {
	kind, err := o.accountKindFor(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if kind == domain.AccountDemo {
		return o.closeDemo(ctx, positionID, closingPrice, closeSize)
	}
	return o.closeReal(ctx, positionID, closingPrice, closeSize)
}

// closeReal settles a real-account close. The realized PnL is mirrored to
// the external ledger inside the transaction; a mismatch unwinds everything.
func (o *Orchestrator) closeReal(ctx context.Context, positionID uuid.UUID, closingPrice, closeSize decimal.Decimal) (*domain.Position, error) {
	var (
		pos    *domain.Position
		result settleResult
		alert  *domain.RiskAlert
	)
	err := o.ledger.WithPosition(ctx, positionID, func(ctx context.Context, tx domain.UnitOfWork, p *domain.Position, acct *domain.Account) error {
		plan, err := planClose(p, closingPrice, closeSize)
		if err != nil {
			return err
		}

		applied, err := o.sync.ApplyPnL(ctx, acct.ID, p.ID, plan.realized)
		if err != nil {
			return fmt.Errorf("trade: close %s: external sync: %w", p.ID, err)
		}
		if !applied.Equal(plan.realized) {
			o.logger.ErrorContext(ctx, "trade_orchestrator: pnl sync mismatch",
				slog.String("position_id", p.ID.String()),
				slog.String("computed", plan.realized.String()),
				slog.String("applied", applied.String()),
			)
			return domain.ErrExternalSyncMismatch.WithMessage(fmt.Sprintf(
				"computed pnl %s but external ledger applied %s", plan.realized, applied))
		}

		r, a, err := o.settle(ctx, tx, p, acct, plan)
		if err != nil {
			return err
		}
		pos, result, alert = p, r, a
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.afterClose(ctx, pos, result, alert)
	return pos, nil
}

// closeDemo settles a demo-account close. Demo money never reaches the
// external ledger; there is no sync call on this path at all.
func (o *Orchestrator) closeDemo(ctx context.Context, positionID uuid.UUID, closingPrice, closeSize decimal.Decimal) (*domain.Position, error) {
	var (
		pos    *domain.Position
		result settleResult
		alert  *domain.RiskAlert
	)
	err := o.ledger.WithPosition(ctx, positionID, func(ctx context.Context, tx domain.UnitOfWork, p *domain.Position, acct *domain.Account) error {
		plan, err := planClose(p, closingPrice, closeSize)
		if err != nil {
			return err
		}
		r, a, err := o.settle(ctx, tx, p, acct, plan)
		if err != nil {
			return err
		}
		pos, result, alert = p, r, a
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.afterClose(ctx, pos, result, alert)
	return pos, nil
}

// closePlan is the validated, computed-but-not-applied outcome of a close.
type closePlan struct {
	closeSize decimal.Decimal
	price     decimal.Decimal
	realized  decimal.Decimal
	fullClose bool
	slHit     bool
	tpHit     bool
}

// planClose validates the close request against the locked position and
// computes the realized PnL without mutating anything.
func planClose(p *domain.Position, closingPrice, closeSize decimal.Decimal) (closePlan, error) {
	if p.Status == domain.PositionClosed {
		return closePlan{}, domain.Validation(fmt.Sprintf("position %s is already closed", p.ID))
	}
	if !closingPrice.IsPositive() {
		return closePlan{}, domain.ErrMarketData.WithMessage(
			fmt.Sprintf("invalid closing price %s", closingPrice))
	}

	if closeSize.IsZero() {
		closeSize = p.RemainingSize
	} else {
		if !closeSize.IsPositive() {
			return closePlan{}, domain.Validation("close size must be positive")
		}
		if closeSize.LessThan(domain.MinCloseSize) {
			return closePlan{}, domain.Validation(fmt.Sprintf(
				"close size %s below minimum %s", closeSize, domain.MinCloseSize))
		}
		if closeSize.GreaterThan(p.RemainingSize) {
			return closePlan{}, domain.Validation(fmt.Sprintf(
				"close size %s exceeds remaining %s", closeSize, p.RemainingSize))
		}
	}

	return closePlan{
		closeSize: closeSize,
		price:     closingPrice,
		realized:  pnl.Realized(p.Side, p.EntryPrice, closingPrice, closeSize),
		fullClose: p.FullyClosedAfter(closeSize),
		slHit:     p.StopHit(closingPrice),
		tpHit:     p.TakeProfitHit(closingPrice),
	}, nil
}

// settleResult carries what afterClose needs once the transaction commits.
type settleResult struct {
	plan closePlan
}

// settle applies an already-planned close inside the caller's unit of work:
// margin release, PnL booking, then the position mutation.
func (o *Orchestrator) settle(ctx context.Context, tx domain.UnitOfWork, p *domain.Position, acct *domain.Account, plan closePlan) (settleResult, *domain.RiskAlert, error) {
	release := p.LockedMargin
	if !plan.fullClose && p.RemainingSize.IsPositive() {
		release = p.LockedMargin.Mul(plan.closeSize).Div(p.RemainingSize).Round(2)
	}
	if release.IsPositive() {
		if _, err := o.wallet.ReleaseBalanceIn(ctx, tx, acct, release, &p.ID,
			fmt.Sprintf("margin released on close of %s", p.Symbol)); err != nil {
			return settleResult{}, nil, err
		}
	}

	var alert *domain.RiskAlert
	if !plan.realized.IsZero() {
		var err error
		_, alert, err = o.wallet.ApplyPnLIn(ctx, tx, acct, plan.realized, &p.ID,
			fmt.Sprintf("realized pnl on %s", p.Symbol))
		if err != nil {
			return settleResult{}, nil, err
		}
	}

	p.RealizedPnL = p.RealizedPnL.Add(plan.realized)
	p.ClosePrice = plan.price
	p.LockedMargin = p.LockedMargin.Sub(release)
	p.UpdatedAt = time.Now()
	if plan.fullClose {
		p.RemainingSize = decimal.Zero
		p.LockedMargin = decimal.Zero
		p.Status = domain.PositionClosed
		now := time.Now()
		p.ClosedAt = &now
	} else {
		p.RemainingSize = p.RemainingSize.Sub(plan.closeSize)
		p.Status = domain.PositionPartial
	}
	p.UnrealizedPnL = pnl.Unrealized(p, plan.price)

	if err := tx.Positions().Update(ctx, p); err != nil {
		return settleResult{}, nil, fmt.Errorf("trade: close: update position: %w", err)
	}
	return settleResult{plan: plan}, alert, nil
}

// afterClose runs the best-effort side effects of a committed close.
func (o *Orchestrator) afterClose(ctx context.Context, pos *domain.Position, result settleResult, alert *domain.RiskAlert) {
	o.wallet.FireAlert(ctx, alert)

	plan := result.plan
	event := domain.EventClose
	notifyEvent := EventTradeClosed
	switch {
	case plan.slHit:
		event = domain.EventStopHit
		notifyEvent = EventSLHit
	case plan.tpHit:
		event = domain.EventTargetHit
		notifyEvent = EventTPHit
	case !plan.fullClose:
		event = domain.EventPartialClose
	}

	o.appendLog(ctx, &domain.PositionLog{
		ID:         uuid.New(),
		PositionID: pos.ID,
		AccountID:  pos.AccountID,
		Event:      event,
		Size:       plan.closeSize,
		Price:      plan.price,
		PnL:        plan.realized,
		CreatedAt:  time.Now(),
	})
	o.notify(ctx, notifyEvent, "Trade closed", fmt.Sprintf(
		"%s %s closed %s @ %s, pnl %s (%s)", pos.Side, pos.Symbol, plan.closeSize, plan.price, plan.realized, pos.Status))

	o.logger.InfoContext(ctx, "trade_orchestrator: position closed",
		slog.String("position_id", pos.ID.String()),
		slog.String("event", string(event)),
		slog.String("close_size", plan.closeSize.String()),
		slog.String("pnl", plan.realized.String()),
		slog.String("status", string(pos.Status)),
	)
}

// MarkToMarket refreshes the unrealized PnL of every open position on the
// account against current prices and returns the account's equity: settled
// balance plus total unrealized. Symbols without a live price keep their
// last mark.
func (o *Orchestrator) MarkToMarket(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var equity decimal.Decimal
	err := o.ledger.WithAccount(ctx, accountID, func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error {
		open, err := tx.Positions().ListOpenByAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("trade: mark: list open positions: %w", err)
		}

		total := decimal.Zero
		for _, p := range open {
			price, err := o.feed.GetPrice(ctx, p.Symbol)
			if err != nil {
				total = total.Add(p.UnrealizedPnL)
				continue
			}
			mark := pnl.Unrealized(p, price)
			if !mark.Equal(p.UnrealizedPnL) {
				p.UnrealizedPnL = mark
				p.UpdatedAt = time.Now()
				if err := tx.Positions().Update(ctx, p); err != nil {
					return fmt.Errorf("trade: mark: update position %s: %w", p.ID, err)
				}
			}
			total = total.Add(mark)
		}
		equity = acct.Equity(total)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return equity, nil
}

// accountKindFor resolves the owning account's kind without taking locks.
func (o *Orchestrator) accountKindFor(ctx context.Context, positionID uuid.UUID) (domain.AccountKind, error) {
	var kind domain.AccountKind
	err := o.ledger.View(ctx, func(ctx context.Context, tx domain.UnitOfWork) error {
		p, err := tx.Positions().Get(ctx, positionID)
		if err != nil {
			if domain.CodeOf(err) == domain.ErrNotFound.Code {
				return domain.Validation(fmt.Sprintf("open position %s not found", positionID))
			}
			return fmt.Errorf("trade: close: load position: %w", err)
		}
		acct, err := tx.Accounts().Get(ctx, p.AccountID)
		if err != nil {
			return fmt.Errorf("trade: close: load account: %w", err)
		}
		kind = acct.Kind
		return nil
	})
	return kind, err
}

// appendLog writes a position log entry, best-effort.
func (o *Orchestrator) appendLog(ctx context.Context, l *domain.PositionLog) {
	if o.logs == nil {
		return
	}
	if err := o.logs.Append(ctx, l); err != nil {
		o.logger.WarnContext(ctx, "trade_orchestrator: position log append failed",
			slog.String("position_id", l.PositionID.String()),
			slog.String("event", string(l.Event)),
			slog.String("error", err.Error()),
		)
	}
}

// notify publishes a trade event, best-effort.
func (o *Orchestrator) notify(ctx context.Context, event, title, message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, title, message); err != nil {
		o.logger.WarnContext(ctx, "trade_orchestrator: notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
