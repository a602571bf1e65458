package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/pkg/database"
)

const payoutColumns = `payout_id, seller_id, amount::text, destination_address, status,
	transaction_hash, failure_reason, requested_at, processing_at, completed_at`

type PayoutsRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewPayoutsRepository(logger *slog.Logger, pg *database.Postgres) *PayoutsRepository {
	return &PayoutsRepository{logger: logger, db: pg.DBGetter}
}

func scanPayout(row pgx.Row) (entities.Payout, error) {
	var p entities.Payout
	err := row.Scan(
		&p.PayoutID,
		&p.SellerID,
		&p.Amount,
		&p.DestinationAddress,
		&p.Status,
		&p.TransactionHash,
		&p.FailureReason,
		&p.RequestedAt,
		&p.ProcessingAt,
		&p.CompletedAt,
	)
	return p, err
}

func (r *PayoutsRepository) findOne(ctx context.Context, query, payoutID string) (*entities.Payout, error) {
	payout, err := scanPayout(r.db(ctx).QueryRow(ctx, query, payoutID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *PayoutsRepository) findMany(ctx context.Context, q sq.SelectBuilder) ([]entities.Payout, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build payouts query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	payouts, err := collect(rows, scanPayout)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to collect payouts rows", "error", err)
		return nil, err
	}
	return payouts, nil
}

func (r *PayoutsRepository) InsertPayout(ctx context.Context, payout *entities.Payout) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payouts (payout_id, seller_id, amount, destination_address, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		payout.PayoutID,
		payout.SellerID,
		payout.Amount.String(),
		payout.DestinationAddress,
		payout.Status,
		payout.RequestedAt,
	)
	return err
}

func (r *PayoutsRepository) FindPayout(ctx context.Context, payoutID string) (*entities.Payout, error) {
	return r.findOne(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE payout_id = $1", payoutID)
}

func (r *PayoutsRepository) LockPayout(ctx context.Context, payoutID string) (*entities.Payout, error) {
	return r.findOne(ctx, "SELECT "+payoutColumns+" FROM payouts WHERE payout_id = $1 FOR UPDATE", payoutID)
}

func (r *PayoutsRepository) UpdatePayout(ctx context.Context, payout *entities.Payout) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE payouts SET status = $2, transaction_hash = $3, failure_reason = $4, processing_at = $5, completed_at = $6
		WHERE payout_id = $1`,
		payout.PayoutID,
		payout.Status,
		payout.TransactionHash,
		payout.FailureReason,
		payout.ProcessingAt,
		payout.CompletedAt,
	)
	return err
}

func (r *PayoutsRepository) FindPayoutsBySeller(ctx context.Context, sellerID int64, limit int) ([]entities.Payout, error) {
	q := psql.Select(payoutColumns).
		From("payouts").
		Where(sq.Eq{"seller_id": sellerID}).
		OrderBy("requested_at DESC")
	return r.findMany(ctx, withLimit(q, limit))
}

func (r *PayoutsRepository) FindPayoutsByStatus(ctx context.Context, status entities.PayoutStatus, limit int) ([]entities.Payout, error) {
	q := psql.Select(payoutColumns).
		From("payouts").
		Where(sq.Eq{"status": status}).
		OrderBy("requested_at")
	return r.findMany(ctx, withLimit(q, limit))
}

func (r *PayoutsRepository) SumOutstandingPayouts(ctx context.Context, sellerID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM payouts
		WHERE seller_id = $1 AND status IN ('pending', 'processing')`, sellerID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum outstanding payouts of seller %d: %w", sellerID, err)
	}
	return sum, nil
}
