package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// PositionStore implements domain.PositionRepo.
type PositionStore struct {
	q querier
}

const positionSelectCols = `id, account_id, symbol, side, status, size, remaining_size,
	entry_price, stop_loss, take_profit, locked_margin, risk_percent,
	realized_pnl, unrealized_pnl, close_price, opened_at, closed_at, updated_at`

func scanPositionRow(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var side, status string

	err := row.Scan(
		&p.ID, &p.AccountID, &p.Symbol, &side, &status,
		&p.Size, &p.RemainingSize,
		&p.EntryPrice, &p.StopLoss, &p.TakeProfit,
		&p.LockedMargin, &p.RiskPercent,
		&p.RealizedPnL, &p.UnrealizedPnL, &p.ClosePrice,
		&p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	return &p, nil
}

func scanPositionRows(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p *domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, account_id, symbol, side, status, size, remaining_size,
			entry_price, stop_loss, take_profit, locked_margin, risk_percent,
			realized_pnl, unrealized_pnl, close_price, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18
		)`

	_, err := s.q.Exec(ctx, query,
		p.ID, p.AccountID, p.Symbol, string(p.Side), string(p.Status),
		p.Size, p.RemainingSize,
		p.EntryPrice, p.StopLoss, p.TakeProfit,
		p.LockedMargin, p.RiskPercent,
		p.RealizedPnL, p.UnrealizedPnL, p.ClosePrice,
		p.OpenedAt, p.ClosedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	const query = `
		UPDATE positions SET
			status         = $2,
			remaining_size = $3,
			stop_loss      = $4,
			take_profit    = $5,
			locked_margin  = $6,
			realized_pnl   = $7,
			unrealized_pnl = $8,
			close_price    = $9,
			closed_at      = $10,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		p.ID, string(p.Status), p.RemainingSize,
		p.StopLoss, p.TakeProfit, p.LockedMargin,
		p.RealizedPnL, p.UnrealizedPnL, p.ClosePrice, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get retrieves a single position by its ID.
func (s *PositionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// getLocked loads the position row under FOR UPDATE.
func (s *PositionStore) getLocked(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1 FOR UPDATE`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: lock position %s: %w", id, err)
	}
	return p, nil
}

// ListOpenByAccount returns an account's OPEN and PARTIAL positions.
func (s *PositionStore) ListOpenByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.Position, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account_id = $1 AND status IN ('OPEN', 'PARTIAL')
		 ORDER BY opened_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions for account: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListOpen returns all OPEN and PARTIAL positions across accounts.
func (s *PositionStore) ListOpen(ctx context.Context, opts domain.ListOpts) ([]*domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status IN ('OPEN', 'PARTIAL') ORDER BY opened_at`
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
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// HasOpenOpposite reports whether the account holds open exposure on symbol
// in the direction opposite to side.
func (s *PositionStore) HasOpenOpposite(ctx context.Context, accountID uuid.UUID, symbol string, side domain.Side) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM positions
			WHERE account_id = $1 AND symbol = $2 AND side = $3
			  AND status IN ('OPEN', 'PARTIAL')
		)`

	var exists bool
	if err := s.q.QueryRow(ctx, query, accountID, symbol, string(side.Opposite())).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: check opposite position: %w", err)
	}
	return exists, nil
}

var _ domain.PositionRepo = (*PositionStore)(nil)
