package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// Ledger implements domain.Ledger over a pgx pool. Each WithAccount or
// WithPosition call is one database transaction holding FOR UPDATE locks on
// the named rows for the whole critical section; View runs lock-free against
// the pool.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given client.
func NewLedger(c *Client) *Ledger {
	return &Ledger{pool: c.Pool()}
}

// unitOfWork binds the repositories to one querier (a transaction, or the
// bare pool for reads).
type unitOfWork struct {
	accounts     *AccountStore
	wallets      *WalletStore
	transactions *TransactionStore
	positions    *PositionStore
}

func newUnitOfWork(q querier) *unitOfWork {
	return &unitOfWork{
		accounts:     &AccountStore{q: q},
		wallets:      &WalletStore{q: q},
		transactions: &TransactionStore{q: q},
		positions:    &PositionStore{q: q},
	}
}

func (u *unitOfWork) Accounts() domain.AccountRepo         { return u.accounts }
func (u *unitOfWork) Wallets() domain.WalletRepo           { return u.wallets }
func (u *unitOfWork) Transactions() domain.TransactionRepo { return u.transactions }
func (u *unitOfWork) Positions() domain.PositionRepo       { return u.positions }

// WithAccount runs fn inside a transaction with the account row exclusively
// locked. Returning nil commits; anything else rolls back.
func (l *Ledger) WithAccount(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error) error {
	return l.inTx(ctx, func(ctx context.Context, dbtx pgx.Tx) error {
		uow := newUnitOfWork(dbtx)
		acct, err := uow.accounts.getLocked(ctx, accountID)
		if err != nil {
			return err
		}
		return fn(ctx, uow, acct)
	})
}

// WithPosition runs fn inside a transaction with the position row locked
// first and its account row locked second. Lock order is fixed so concurrent
// closes and wallet operations cannot deadlock.
func (l *Ledger) WithPosition(ctx context.Context, positionID uuid.UUID, fn func(ctx context.Context, tx domain.UnitOfWork, pos *domain.Position, acct *domain.Account) error) error {
	return l.inTx(ctx, func(ctx context.Context, dbtx pgx.Tx) error {
		uow := newUnitOfWork(dbtx)
		pos, err := uow.positions.getLocked(ctx, positionID)
		if err != nil {
			return err
		}
		acct, err := uow.accounts.getLocked(ctx, pos.AccountID)
		if err != nil {
			return err
		}
		return fn(ctx, uow, pos, acct)
	})
}

// View runs fn against the pool without a surrounding transaction; reads see
// committed state only and never block writers.
func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx domain.UnitOfWork) error) error {
	return fn(ctx, newUnitOfWork(l.pool))
}

func (l *Ledger) inTx(ctx context.Context, fn func(ctx context.Context, dbtx pgx.Tx) error) error {
	dbtx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = dbtx.Rollback(ctx) }()

	if err := fn(ctx, dbtx); err != nil {
		return err
	}
	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ domain.Ledger     = (*Ledger)(nil)
	_ domain.UnitOfWork = (*unitOfWork)(nil)
)
