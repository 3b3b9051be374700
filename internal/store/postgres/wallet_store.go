package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// WalletStore implements domain.WalletRepo.
type WalletStore struct {
	q querier
}

const walletSelectCols = `id, account_id, total_deposits, total_withdrawals,
	total_profit, total_loss, total_fees_paid, created_at, updated_at`

// Create inserts a new wallet.
func (s *WalletStore) Create(ctx context.Context, w *domain.Wallet) error {
	const query = `
		INSERT INTO wallets (
			id, account_id, total_deposits, total_withdrawals,
			total_profit, total_loss, total_fees_paid, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`

	_, err := s.q.Exec(ctx, query,
		w.ID, w.AccountID,
		w.TotalDeposits, w.TotalWithdrawals,
		w.TotalProfit, w.TotalLoss, w.TotalFeesPaid,
	)
	if err != nil {
		return fmt.Errorf("postgres: create wallet %s: %w", w.ID, err)
	}
	return nil
}

// Update replaces the wallet's lifetime counters.
func (s *WalletStore) Update(ctx context.Context, w *domain.Wallet) error {
	const query = `
		UPDATE wallets SET
			total_deposits    = $2,
			total_withdrawals = $3,
			total_profit      = $4,
			total_loss        = $5,
			total_fees_paid   = $6,
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := s.q.Exec(ctx, query,
		w.ID,
		w.TotalDeposits, w.TotalWithdrawals,
		w.TotalProfit, w.TotalLoss, w.TotalFeesPaid,
	)
	if err != nil {
		return fmt.Errorf("postgres: update wallet %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByAccount retrieves the wallet belonging to an account.
func (s *WalletStore) GetByAccount(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+walletSelectCols+` FROM wallets WHERE account_id = $1`, accountID)

	var w domain.Wallet
	err := row.Scan(
		&w.ID, &w.AccountID,
		&w.TotalDeposits, &w.TotalWithdrawals,
		&w.TotalProfit, &w.TotalLoss, &w.TotalFeesPaid,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get wallet for account %s: %w", accountID, err)
	}
	return &w, nil
}

var _ domain.WalletRepo = (*WalletStore)(nil)
