package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// TransactionStore implements domain.TransactionRepo. Rows are append-only;
// there is deliberately no Update.
type TransactionStore struct {
	q querier
}

const transactionSelectCols = `id, account_id, type, status, amount,
	balance_before, balance_after, position_id, reference, description, created_at`

// balanceAffectingTypes mirrors domain.Transaction.AffectsBalance for the
// SQL side of the audit sum.
const balanceAffectingTypes = `('deposit', 'withdraw', 'trade_pnl', 'fee', 'commission', 'refund', 'adjustment')`

// Create appends a ledger row.
func (s *TransactionStore) Create(ctx context.Context, t *domain.Transaction) error {
	const query = `
		INSERT INTO transactions (
			id, account_id, type, status, amount,
			balance_before, balance_after, position_id, reference, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.q.Exec(ctx, query,
		t.ID, t.AccountID, string(t.Type), string(t.Status), t.Amount,
		t.BalanceBefore, t.BalanceAfter, t.PositionID, t.Reference, t.Description, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create transaction %s: %w", t.ID, err)
	}
	return nil
}

// ListByAccount returns an account's ledger rows, newest first.
func (s *TransactionStore) ListByAccount(ctx context.Context, accountID uuid.UUID, opts domain.ListOpts) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionSelectCols + ` FROM transactions WHERE account_id = $1`
	args := []any{accountID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	txns, err := scanTransactionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transactions: %w", err)
	}
	return txns, nil
}

// SumCompleted returns the sum and count of completed balance-affecting
// amounts for an account; locks and releases are availability shuffles and
// excluded.
func (s *TransactionStore) SumCompleted(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM transactions
		WHERE account_id = $1 AND status = 'completed' AND type IN ` + balanceAffectingTypes

	var sum decimal.Decimal
	var count int64
	if err := s.q.QueryRow(ctx, query, accountID).Scan(&sum, &count); err != nil {
		return decimal.Zero, 0, fmt.Errorf("postgres: sum transactions for %s: %w", accountID, err)
	}
	return sum, count, nil
}

func scanTransactionRows(rows pgx.Rows) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var typ, status string

		if err := rows.Scan(
			&t.ID, &t.AccountID, &typ, &status, &t.Amount,
			&t.BalanceBefore, &t.BalanceAfter, &t.PositionID, &t.Reference, &t.Description, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Type = domain.TransactionType(typ)
		t.Status = domain.TransactionStatus(status)
		txns = append(txns, &t)
	}
	return txns, rows.Err()
}

var _ domain.TransactionRepo = (*TransactionStore)(nil)
