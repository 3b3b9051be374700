// Package memory is an in-process implementation of the domain ledger with
// the same locking contract as the postgres one: one exclusive lock per
// account held across the whole unit of work, all writes staged and applied
// only on commit. It backs tests and the sandbox mode.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// Ledger implements domain.Ledger in memory.
type Ledger struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]domain.Account
	wallets      map[uuid.UUID]domain.Wallet // keyed by wallet ID
	walletByAcct map[uuid.UUID]uuid.UUID
	transactions []domain.Transaction
	positions    map[uuid.UUID]domain.Position

	// locks holds one single-slot semaphore per account so lock waits can
	// honor context cancellation.
	locks map[uuid.UUID]chan struct{}
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts:     make(map[uuid.UUID]domain.Account),
		wallets:      make(map[uuid.UUID]domain.Wallet),
		walletByAcct: make(map[uuid.UUID]uuid.UUID),
		positions:    make(map[uuid.UUID]domain.Position),
		locks:        make(map[uuid.UUID]chan struct{}),
	}
}

// SeedAccount inserts an account directly, for tests and sandbox bootstrap.
func (l *Ledger) SeedAccount(a *domain.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[a.ID] = *a
}

// acquire takes the account's exclusive lock, waiting until the lock is free
// or ctx is done. A timed-out waiter leaves no trace.
func (l *Ledger) acquire(ctx context.Context, accountID uuid.UUID) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[accountID]
	if !ok {
		lock = make(chan struct{}, 1)
		l.locks[accountID] = lock
	}
	l.mu.Unlock()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("memory: lock account %s: %w", accountID, ctx.Err())
	}
}

// WithAccount runs fn with the account's lock held; staged writes apply only
// when fn returns nil.
func (l *Ledger) WithAccount(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context, tx domain.UnitOfWork, acct *domain.Account) error) error {
	release, err := l.acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()

	uow := newTxn(l)
	acct, err := uow.accounts().Get(ctx, accountID)
	if err != nil {
		return err
	}
	if err := fn(ctx, uow, acct); err != nil {
		return err
	}
	// fn mutates acct in place; its final state wins over staged copies.
	uow.stagedAccounts[acct.ID] = *acct
	uow.commit()
	return nil
}

// WithPosition locks the owning account (positions share their account's
// critical section), then runs fn over staged copies.
func (l *Ledger) WithPosition(ctx context.Context, positionID uuid.UUID, fn func(ctx context.Context, tx domain.UnitOfWork, pos *domain.Position, acct *domain.Account) error) error {
	l.mu.Lock()
	p, ok := l.positions[positionID]
	l.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}

	release, err := l.acquire(ctx, p.AccountID)
	if err != nil {
		return err
	}
	defer release()

	uow := newTxn(l)
	pos, err := uow.positions().Get(ctx, positionID)
	if err != nil {
		return err
	}
	acct, err := uow.accounts().Get(ctx, pos.AccountID)
	if err != nil {
		return err
	}
	if err := fn(ctx, uow, pos, acct); err != nil {
		return err
	}
	uow.stagedPositions[pos.ID] = *pos
	uow.stagedAccounts[acct.ID] = *acct
	uow.commit()
	return nil
}

// View runs fn over the committed state without locks.
func (l *Ledger) View(ctx context.Context, fn func(ctx context.Context, tx domain.UnitOfWork) error) error {
	return fn(ctx, newTxn(l))
}

// txn stages writes until commit. Reads prefer staged entities so a unit of
// work sees its own writes.
type txn struct {
	l *Ledger

	stagedAccounts  map[uuid.UUID]domain.Account
	stagedWallets   map[uuid.UUID]domain.Wallet
	stagedPositions map[uuid.UUID]domain.Position
	stagedTxns      []domain.Transaction
}

func newTxn(l *Ledger) *txn {
	return &txn{
		l:               l,
		stagedAccounts:  make(map[uuid.UUID]domain.Account),
		stagedWallets:   make(map[uuid.UUID]domain.Wallet),
		stagedPositions: make(map[uuid.UUID]domain.Position),
	}
}

func (t *txn) commit() {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	for id, a := range t.stagedAccounts {
		t.l.accounts[id] = a
	}
	for id, w := range t.stagedWallets {
		t.l.wallets[id] = w
		t.l.walletByAcct[w.AccountID] = id
	}
	for id, p := range t.stagedPositions {
		t.l.positions[id] = p
	}
	t.l.transactions = append(t.l.transactions, t.stagedTxns...)
}

func (t *txn) Accounts() domain.AccountRepo         { return t.accounts() }
func (t *txn) Wallets() domain.WalletRepo           { return t.wallets() }
func (t *txn) Transactions() domain.TransactionRepo { return t.transactions() }
func (t *txn) Positions() domain.PositionRepo       { return t.positions() }

func (t *txn) accounts() *accountRepo         { return &accountRepo{t} }
func (t *txn) wallets() *walletRepo           { return &walletRepo{t} }
func (t *txn) transactions() *transactionRepo { return &transactionRepo{t} }
func (t *txn) positions() *positionRepo       { return &positionRepo{t} }

type accountRepo struct{ t *txn }

func (r *accountRepo) Create(_ context.Context, a *domain.Account) error {
	if _, err := r.Get(context.Background(), a.ID); err == nil {
		return domain.ErrAlreadyExists
	}
	r.t.stagedAccounts[a.ID] = *a
	return nil
}

func (r *accountRepo) Update(_ context.Context, a *domain.Account) error {
	r.t.stagedAccounts[a.ID] = *a
	return nil
}

func (r *accountRepo) Get(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	if a, ok := r.t.stagedAccounts[id]; ok {
		cp := a
		return &cp, nil
	}
	r.t.l.mu.Lock()
	defer r.t.l.mu.Unlock()
	a, ok := r.t.l.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := a
	return &cp, nil
}

func (r *accountRepo) List(_ context.Context, opts domain.ListOpts) ([]*domain.Account, error) {
	r.t.l.mu.Lock()
	defer r.t.l.mu.Unlock()
	var out []*domain.Account
	for _, a := range r.t.l.accounts {
		cp := a
		out = append(out, &cp)
	}
	return clip(out, opts), nil
}

func (r *accountRepo) ListByStatus(_ context.Context, status domain.AccountStatus, opts domain.ListOpts) ([]*domain.Account, error) {
	r.t.l.mu.Lock()
	defer r.t.l.mu.Unlock()
	var out []*domain.Account
	for _, a := range r.t.l.accounts {
		if a.Status == status {
			cp := a
			out = append(out, &cp)
		}
	}
	return clip(out, opts), nil
}

type walletRepo struct{ t *txn }

func (r *walletRepo) Create(_ context.Context, w *domain.Wallet) error {
	r.t.stagedWallets[w.ID] = *w
	return nil
}

func (r *walletRepo) Update(_ context.Context, w *domain.Wallet) error {
	r.t.stagedWallets[w.ID] = *w
	return nil
}

func (r *walletRepo) GetByAccount(_ context.Context, accountID uuid.UUID) (*domain.Wallet, error) {
	for _, w := range r.t.stagedWallets {
		if w.AccountID == accountID {
			cp := w
			return &cp, nil
		}
	}
	r.t.l.mu.Lock()
	defer r.t.l.mu.Unlock()
	id, ok := r.t.l.walletByAcct[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	w := r.t.l.wallets[id]
	cp := w
	return &cp, nil
}

type transactionRepo struct{ t *txn }

func (r *transactionRepo) Create(_ context.Context, txn *domain.Transaction) error {
	r.t.stagedTxns = append(r.t.stagedTxns, *txn)
	return nil
}

func (r *transactionRepo) ListByAccount(_ context.Context, accountID uuid.UUID, opts domain.ListOpts) ([]*domain.Transaction, error) {
	r.t.l.mu.Lock()
	defer r.t.l.mu.Unlock()
	var out []*domain.Transaction
	for i := len(r.t.l.transactions) - 1; i >= 0; i-- {
		txn := r.t.l.transactions[i]
		if txn.AccountID != accountID {
			continue
		}
		if opts.Since != nil && txn.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && txn.CreatedAt.After(*opts.Until) {
			continue
		}
		cp := txn
		out = append(out, &cp)
	}
	return clip(out, opts), nil
}

func (r *transactionRepo) SumCompleted(_ context.Context, accountID uuid.UUID) (decimal.Decimal, int64, error) {
	sum := decimal.Zero
	var count int64
	add := func(txn domain.Transaction) {
		if txn.AccountID == accountID && txn.Status == domain.TxCompleted && txn.AffectsBalance() {
			sum = sum.Add(txn.Amount)
			count++
		}
	}
	r.t.l.mu.Lock()
	for _, txn := range r.t.l.transactions {
		add(txn)
	}
	r.t.l.mu.Unlock()
	for _, txn := range r.t.stagedTxns {
		add(txn)
	}
	return sum, count, nil
}

type positionRepo struct{ t *txn }

func (r *positionRepo) Create(_ context.Context, p *domain.Position) error {
	r.t.stagedPositions[p.ID] = *p
	return nil
}

func (r *positionRepo) Update(_ context.Context, p *domain.Position) error {
	r.t.stagedPositions[p.ID] = *p
	return nil
}

func (r *positionRepo) Get(_ context.Context, id uuid.UUID) (*domain.Position, error) {
	if p, ok := r.t.stagedPositions[id]; ok {
		cp := p
		return &cp, nil
	}
	r.t.l.mu.Lock()
	defer r.t.l.mu.Unlock()
	p, ok := r.t.l.positions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (r *positionRepo) ListOpenByAccount(_ context.Context, accountID uuid.UUID) ([]*domain.Position, error) {
	r.t.l.mu.Lock()
	defer r.t.l.mu.Unlock()
	var out []*domain.Position
	for _, p := range r.t.l.positions {
		if p.AccountID == accountID && p.Status != domain.PositionClosed {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *positionRepo) ListOpen(_ context.Context, opts domain.ListOpts) ([]*domain.Position, error) {
	r.t.l.mu.Lock()
	defer r.t.l.mu.Unlock()
	var out []*domain.Position
	for _, p := range r.t.l.positions {
		if p.Status != domain.PositionClosed {
			cp := p
			out = append(out, &cp)
		}
	}
	return clip(out, opts), nil
}

func (r *positionRepo) HasOpenOpposite(_ context.Context, accountID uuid.UUID, symbol string, side domain.Side) (bool, error) {
	check := func(p domain.Position) bool {
		return p.AccountID == accountID && p.Symbol == symbol &&
			p.Side == side.Opposite() && p.Status != domain.PositionClosed
	}
	for _, p := range r.t.stagedPositions {
		if check(p) {
			return true, nil
		}
	}
	r.t.l.mu.Lock()
	defer r.t.l.mu.Unlock()
	for _, p := range r.t.l.positions {
		if check(p) {
			return true, nil
		}
	}
	return false, nil
}

func clip[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(in) {
		in = in[:opts.Limit]
	}
	return in
}

// PositionLogStore is an in-memory append-only event trail.
type PositionLogStore struct {
	mu   sync.Mutex
	logs []domain.PositionLog
}

// NewPositionLogStore creates an empty log store.
func NewPositionLogStore() *PositionLogStore { return &PositionLogStore{} }

// Append records one event.
func (s *PositionLogStore) Append(_ context.Context, l *domain.PositionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *l)
	return nil
}

// ListByPosition returns a position's events, oldest first.
func (s *PositionLogStore) ListByPosition(_ context.Context, positionID uuid.UUID, opts domain.ListOpts) ([]*domain.PositionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.PositionLog
	for i := range s.logs {
		if s.logs[i].PositionID == positionID {
			cp := s.logs[i]
			out = append(out, &cp)
		}
	}
	return clip(out, opts), nil
}

// AuditStore is an in-memory append-only audit log.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty audit store.
func NewAuditStore() *AuditStore { return &AuditStore{} }

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        uuid.New(),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

// List returns entries, newest first, optionally filtered by event name.
func (s *AuditStore) List(_ context.Context, event string, opts domain.ListOpts) ([]*domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if event != "" && s.entries[i].Event != event {
			continue
		}
		cp := s.entries[i]
		out = append(out, &cp)
	}
	return clip(out, opts), nil
}

// Compile-time interface checks.
var (
	_ domain.Ledger           = (*Ledger)(nil)
	_ domain.UnitOfWork       = (*txn)(nil)
	_ domain.PositionLogStore = (*PositionLogStore)(nil)
	_ domain.AuditStore       = (*AuditStore)(nil)
)
