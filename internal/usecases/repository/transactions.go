package repository

import (
	"context"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/pkg/database"
)

const transactionColumns = "transaction_id, user_id, type, amount::text AS amount, description, reference_id, created_at"

// TransactionsRepository is the append-only wallet ledger.
type TransactionsRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewTransactionsRepository(logger *slog.Logger, pg *database.Postgres) *TransactionsRepository {
	return &TransactionsRepository{logger: logger, db: pg.DBGetter}
}

func (r *TransactionsRepository) InsertTransaction(ctx context.Context, transaction *entities.WalletTransaction) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO wallet_transactions (transaction_id, user_id, type, amount, description, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		transaction.TransactionID,
		transaction.UserID,
		transaction.Type,
		transaction.Amount.String(),
		transaction.Description,
		transaction.ReferenceID,
		transaction.CreatedAt,
	)
	return err
}

// FindTransactionsByUser returns the newest entries first.
func (r *TransactionsRepository) FindTransactionsByUser(ctx context.Context, userID int64, limit int) ([]entities.WalletTransaction, error) {
	return r.findMany(ctx, transactionsByUserQuery(userID, limit))
}

func (r *TransactionsRepository) FindTransactionsByReference(ctx context.Context, referenceID string) ([]entities.WalletTransaction, error) {
	q := psql.Select(transactionColumns).
		From("wallet_transactions").
		Where(sq.Eq{"reference_id": referenceID}).
		OrderBy("created_at", "transaction_id")
	return r.findMany(ctx, q)
}

func (r *TransactionsRepository) SumTransactions(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db(ctx).QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0)::text FROM wallet_transactions WHERE user_id = $1", userID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger of user %d: %w", userID, err)
	}
	return sum, nil
}

func (r *TransactionsRepository) findMany(ctx context.Context, q sq.SelectBuilder) ([]entities.WalletTransaction, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build ledger query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	transactions, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.WalletTransaction])
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to collect wallet transactions rows", "error", err)
		return nil, err
	}
	return transactions, nil
}

func transactionsByUserQuery(userID int64, limit int) sq.SelectBuilder {
	q := psql.Select(transactionColumns).
		From("wallet_transactions").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "transaction_id DESC")
	return withLimit(q, limit)
}
