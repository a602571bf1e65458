package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/pkg/database"
)

// WalletsRepository stores the cached balance of every user wallet.
type WalletsRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewWalletsRepository(logger *slog.Logger, pg *database.Postgres) *WalletsRepository {
	return &WalletsRepository{logger: logger, db: pg.DBGetter}
}

func (r *WalletsRepository) scanWallet(ctx context.Context, query string, userID int64) (*entities.Wallet, error) {
	var wallet entities.Wallet
	err := r.db(ctx).QueryRow(ctx, query, userID).Scan(
		&wallet.UserID,
		&wallet.Balance,
		&wallet.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet of user %d: %w", userID, err)
	}
	return &wallet, nil
}

// FindWallet returns nil when the user has no wallet yet.
func (r *WalletsRepository) FindWallet(ctx context.Context, userID int64) (*entities.Wallet, error) {
	return r.scanWallet(ctx, "SELECT user_id, balance::text, updated_at FROM wallets WHERE user_id = $1", userID)
}

// LockWallet creates the wallet on first use and locks its row for the rest of the transaction.
func (r *WalletsRepository) LockWallet(ctx context.Context, userID int64) (*entities.Wallet, error) {
	_, err := r.db(ctx).Exec(ctx, "INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet of user %d: %w", userID, err)
	}

	wallet, err := r.scanWallet(ctx, "SELECT user_id, balance::text, updated_at FROM wallets WHERE user_id = $1 FOR UPDATE", userID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, fmt.Errorf("wallet of user %d vanished after creation", userID)
	}
	return wallet, nil
}

func (r *WalletsRepository) UpdateBalance(ctx context.Context, wallet *entities.Wallet) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE wallets SET balance = $2, updated_at = $3 WHERE user_id = $1",
		wallet.UserID, wallet.Balance.String(), wallet.UpdatedAt)
	return err
}
