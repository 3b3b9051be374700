package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// AccountStore implements domain.AccountRepo.
type AccountStore struct {
	q querier
}

const accountSelectCols = `id, owner_id, number, kind, status, balance, locked_balance,
	currency, max_risk_per_trade, max_daily_loss, max_daily_loss_percent,
	daily_loss_current, daily_loss_date, max_leverage, profile, created_at, updated_at`

func scanAccountRow(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var kind, status, profile string

	err := row.Scan(
		&a.ID, &a.OwnerID, &a.Number, &kind, &status,
		&a.Balance, &a.LockedBalance, &a.Currency,
		&a.MaxRiskPerTrade, &a.MaxDailyLoss, &a.MaxDailyLossPercent,
		&a.DailyLossCurrent, &a.DailyLossDate,
		&a.MaxLeverage, &profile,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Kind = domain.AccountKind(kind)
	a.Status = domain.AccountStatus(status)
	a.Profile = domain.RiskProfile(profile)
	return &a, nil
}

func scanAccountRows(rows pgx.Rows) ([]*domain.Account, error) {
	var accounts []*domain.Account
	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Create inserts a new account.
func (s *AccountStore) Create(ctx context.Context, a *domain.Account) error {
	const query = `
		INSERT INTO accounts (
			id, owner_id, number, kind, status, balance, locked_balance,
			currency, max_risk_per_trade, max_daily_loss, max_daily_loss_percent,
			daily_loss_current, daily_loss_date, max_leverage, profile,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, NOW(), NOW()
		)`

	_, err := s.q.Exec(ctx, query,
		a.ID, a.OwnerID, a.Number, string(a.Kind), string(a.Status),
		a.Balance, a.LockedBalance, a.Currency,
		a.MaxRiskPerTrade, a.MaxDailyLoss, a.MaxDailyLossPercent,
		a.DailyLossCurrent, a.DailyLossDate, a.MaxLeverage, string(a.Profile),
	)
	if err != nil {
		return fmt.Errorf("postgres: create account %s: %w", a.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of an account.
func (s *AccountStore) Update(ctx context.Context, a *domain.Account) error {
	const query = `
		UPDATE accounts SET
			status                 = $2,
			balance                = $3,
			locked_balance         = $4,
			max_risk_per_trade     = $5,
			max_daily_loss         = $6,
			max_daily_loss_percent = $7,
			daily_loss_current     = $8,
			daily_loss_date        = $9,
			max_leverage           = $10,
			profile                = $11,
			updated_at             = NOW()
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		a.ID, string(a.Status),
		a.Balance, a.LockedBalance,
		a.MaxRiskPerTrade, a.MaxDailyLoss, a.MaxDailyLossPercent,
		a.DailyLossCurrent, a.DailyLossDate,
		a.MaxLeverage, string(a.Profile),
	)
	if err != nil {
		return fmt.Errorf("postgres: update account %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a single account by its ID.
func (s *AccountStore) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE id = $1`, id)

	a, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

// getLocked loads the account row under FOR UPDATE, blocking concurrent
// units of work on the same account until this one finishes.
func (s *AccountStore) getLocked(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE id = $1 FOR UPDATE`, id)

	a, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: lock account %s: %w", id, err)
	}
	return a, nil
}

// List returns accounts with pagination.
func (s *AccountStore) List(ctx context.Context, opts domain.ListOpts) ([]*domain.Account, error) {
	query := `SELECT ` + accountSelectCols + ` FROM accounts ORDER BY created_at`
	args := []any{}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	accounts, err := scanAccountRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan accounts: %w", err)
	}
	return accounts, nil
}

// ListByStatus returns accounts in the given status with pagination.
func (s *AccountStore) ListByStatus(ctx context.Context, status domain.AccountStatus, opts domain.ListOpts) ([]*domain.Account, error) {
	query := `SELECT ` + accountSelectCols + ` FROM accounts WHERE status = $1 ORDER BY created_at`
	args := []any{string(status)}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", len(args)+1)
		args = append(args, opts.Offset)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts by status: %w", err)
	}
	defer rows.Close()

	accounts, err := scanAccountRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan accounts by status: %w", err)
	}
	return accounts, nil
}

var _ domain.AccountRepo = (*AccountStore)(nil)
