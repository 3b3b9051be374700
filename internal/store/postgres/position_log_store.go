package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// PositionLogStore implements domain.PositionLogStore. It runs on the bare
// pool, not inside units of work: log entries are written after the
// financial transaction commits and must not be dragged into its rollback.
type PositionLogStore struct {
	pool *pgxpool.Pool
}

// NewPositionLogStore creates a PositionLogStore backed by the given client.
func NewPositionLogStore(c *Client) *PositionLogStore {
	return &PositionLogStore{pool: c.Pool()}
}

// Append writes one lifecycle event. Entries are never updated or deleted.
func (s *PositionLogStore) Append(ctx context.Context, l *domain.PositionLog) error {
	const query = `
		INSERT INTO position_logs (
			id, position_id, account_id, event, size, price, pnl, comment, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		l.ID, l.PositionID, l.AccountID, string(l.Event),
		l.Size, l.Price, l.PnL, l.Comment, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append position log %s: %w", l.ID, err)
	}
	return nil
}

// ListByPosition returns a position's event trail, oldest first.
func (s *PositionLogStore) ListByPosition(ctx context.Context, positionID uuid.UUID, opts domain.ListOpts) ([]*domain.PositionLog, error) {
	query := `
		SELECT id, position_id, account_id, event, size, price, pnl, comment, created_at
		FROM position_logs WHERE position_id = $1 ORDER BY created_at`
	args := []any{positionID}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position logs: %w", err)
	}
	defer rows.Close()

	var logs []*domain.PositionLog
	for rows.Next() {
		var l domain.PositionLog
		var event string
		if err := rows.Scan(
			&l.ID, &l.PositionID, &l.AccountID, &event,
			&l.Size, &l.Price, &l.PnL, &l.Comment, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position log: %w", err)
		}
		l.Event = domain.PositionEvent(event)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan position logs: %w", err)
	}
	return logs, nil
}

var _ domain.PositionLogStore = (*PositionLogStore)(nil)
