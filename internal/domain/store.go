package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ListOpts carries pagination and time-window filters for list queries.
// Zero values mean "no constraint"; stores apply a sane default limit.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountRepo persists accounts. Inside a unit of work, reads see the
// transaction's own writes.
type AccountRepo interface {
	Create(ctx context.Context, a *Account) error
	Update(ctx context.Context, a *Account) error
	Get(ctx context.Context, id uuid.UUID) (*Account, error)
	List(ctx context.Context, opts ListOpts) ([]*Account, error)
	ListByStatus(ctx context.Context, status AccountStatus, opts ListOpts) ([]*Account, error)
}

// WalletRepo persists the per-account lifetime counters.
type WalletRepo interface {
	Create(ctx context.Context, w *Wallet) error
	Update(ctx context.Context, w *Wallet) error
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*Wallet, error)
}

// TransactionRepo persists the append-only ledger rows.
type TransactionRepo interface {
	Create(ctx context.Context, t *Transaction) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, opts ListOpts) ([]*Transaction, error)
	// SumCompleted returns the sum of completed balance-affecting amounts
	// for an account, with the row count, for balance audits.
	SumCompleted(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, int64, error)
}

// PositionRepo persists positions.
type PositionRepo interface {
	Create(ctx context.Context, p *Position) error
	Update(ctx context.Context, p *Position) error
	Get(ctx context.Context, id uuid.UUID) (*Position, error)
	ListOpenByAccount(ctx context.Context, accountID uuid.UUID) ([]*Position, error)
	ListOpen(ctx context.Context, opts ListOpts) ([]*Position, error)
	// HasOpenOpposite reports whether the account holds an open or partial
	// position on symbol in the opposite direction of side.
	HasOpenOpposite(ctx context.Context, accountID uuid.UUID, symbol string, side Side) (bool, error)
}

// UnitOfWork exposes the repositories bound to one storage transaction.
type UnitOfWork interface {
	Accounts() AccountRepo
	Wallets() WalletRepo
	Transactions() TransactionRepo
	Positions() PositionRepo
}

// Ledger is the transactional boundary of the system. Each With* call runs
// fn inside a single storage transaction with the named rows exclusively
// locked; returning nil commits, returning an error rolls back everything.
// Two concurrent calls on the same account serialize.
type Ledger interface {
	// WithAccount locks the account row for the duration of fn.
	WithAccount(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, tx UnitOfWork, acct *Account) error) error
	// WithPosition locks the position row, then its account row, for the
	// duration of fn.
	WithPosition(ctx context.Context, positionID uuid.UUID, fn func(ctx context.Context, tx UnitOfWork, pos *Position, acct *Account) error) error
	// View runs fn read-only, without row locks.
	View(ctx context.Context, fn func(ctx context.Context, tx UnitOfWork) error) error
}

// PositionLogStore appends lifecycle events outside the financial
// transaction.
type PositionLogStore interface {
	Append(ctx context.Context, l *PositionLog) error
	ListByPosition(ctx context.Context, positionID uuid.UUID, opts ListOpts) ([]*PositionLog, error)
}

// AuditEntry is a persisted operational event with free-form detail.
type AuditEntry struct {
	ID        uuid.UUID
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore is the append-only operational audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, event string, opts ListOpts) ([]*AuditEntry, error)
}
