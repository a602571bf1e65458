package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/pkg/database"
)

const orderColumns = `order_id, buyer_id, seller_id, product_id, amount::text, payment_method, status,
	external_payment_id, crypto_currency, crypto_amount::text, payment_address,
	platform_commission::text, seller_payout::text, referrer_commission::text, referrer_id,
	download_count, file_delivered, delivered_at, created_at, paid_at, completed_at`

type OrdersRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewOrdersRepository(logger *slog.Logger, pg *database.Postgres) *OrdersRepository {
	return &OrdersRepository{logger: logger, db: pg.DBGetter}
}

func scanOrder(row pgx.Row) (entities.Order, error) {
	var o entities.Order
	err := row.Scan(
		&o.OrderID,
		&o.BuyerID,
		&o.SellerID,
		&o.ProductID,
		&o.Amount,
		&o.PaymentMethod,
		&o.Status,
		&o.ExternalPaymentID,
		&o.CryptoCurrency,
		&o.CryptoAmount,
		&o.PaymentAddress,
		&o.PlatformCommission,
		&o.SellerPayout,
		&o.ReferrerCommission,
		&o.ReferrerID,
		&o.DownloadCount,
		&o.FileDelivered,
		&o.DeliveredAt,
		&o.CreatedAt,
		&o.PaidAt,
		&o.CompletedAt,
	)
	return o, err
}

func (r *OrdersRepository) findOne(ctx context.Context, query string, args ...any) (*entities.Order, error) {
	order, err := scanOrder(r.db(ctx).QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrdersRepository) findMany(ctx context.Context, q sq.SelectBuilder) ([]entities.Order, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build orders query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	orders, err := collect(rows, scanOrder)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to collect orders rows", "error", err)
		return nil, err
	}
	return orders, nil
}

func (r *OrdersRepository) InsertOrder(ctx context.Context, order *entities.Order) error {
	query := `INSERT INTO orders (order_id, buyer_id, seller_id, product_id, amount, payment_method, status,
		external_payment_id, crypto_currency, crypto_amount, payment_address,
		platform_commission, seller_payout, referrer_commission, referrer_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db(ctx).Exec(ctx, query,
		order.OrderID,
		order.BuyerID,
		order.SellerID,
		order.ProductID,
		order.Amount.String(),
		order.PaymentMethod,
		order.Status,
		order.ExternalPaymentID,
		order.CryptoCurrency,
		order.CryptoAmount,
		order.PaymentAddress,
		order.PlatformCommission.String(),
		order.SellerPayout.String(),
		order.ReferrerCommission.String(),
		order.ReferrerID,
		order.CreatedAt,
	)
	return err
}

func (r *OrdersRepository) FindOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_id = $1", orderID)
}

// LockOrder must run inside a transaction; the row stays locked until it ends.
func (r *OrdersRepository) LockOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_id = $1 FOR UPDATE", orderID)
}

func (r *OrdersRepository) LockOrderByExternalID(ctx context.Context, externalPaymentID string) (*entities.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE external_payment_id = $1 FOR UPDATE", externalPaymentID)
}

func (r *OrdersRepository) UpdateOrderStatus(ctx context.Context, order *entities.Order) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE orders SET status = $2, paid_at = $3, completed_at = $4 WHERE order_id = $1",
		order.OrderID, order.Status, order.PaidAt, order.CompletedAt)
	return err
}

func (r *OrdersRepository) UpdateOrderPayment(ctx context.Context, order *entities.Order) error {
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE orders SET external_payment_id = $2, crypto_currency = $3, crypto_amount = $4, payment_address = $5
		WHERE order_id = $1`,
		order.OrderID, order.ExternalPaymentID, order.CryptoCurrency, order.CryptoAmount, order.PaymentAddress)
	return err
}

func (r *OrdersRepository) UpdateOrderDelivery(ctx context.Context, order *entities.Order) error {
	_, err := r.db(ctx).Exec(ctx,
		"UPDATE orders SET file_delivered = $2, delivered_at = $3, download_count = $4 WHERE order_id = $1",
		order.OrderID, order.FileDelivered, order.DeliveredAt, order.DownloadCount)
	return err
}

func (r *OrdersRepository) FindOrdersByBuyer(ctx context.Context, buyerID int64, limit int) ([]entities.Order, error) {
	return r.findMany(ctx, ordersByPartyQuery("buyer_id", buyerID, limit))
}

func (r *OrdersRepository) FindOrdersBySeller(ctx context.Context, sellerID int64, limit int) ([]entities.Order, error) {
	return r.findMany(ctx, ordersByPartyQuery("seller_id", sellerID, limit))
}

func (r *OrdersRepository) FindUndeliveredOrders(ctx context.Context, paidAfter, paidBefore time.Time, limit int) ([]entities.Order, error) {
	return r.findMany(ctx, undeliveredOrdersQuery(paidAfter, paidBefore, limit))
}

// FindStalePendingOrders returns abandoned wallet orders. Crypto orders stay pending until
// the provider reports a terminal status, the buyer may still be paying.
func (r *OrdersRepository) FindStalePendingOrders(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Order, error) {
	return r.findMany(ctx, stalePendingOrdersQuery(createdBefore, limit))
}

func ordersByPartyQuery(column string, userID int64, limit int) sq.SelectBuilder {
	q := psql.Select(orderColumns).
		From("orders").
		Where(sq.Eq{column: userID}).
		OrderBy("created_at DESC", "order_id DESC")
	return withLimit(q, limit)
}

func stalePendingOrdersQuery(createdBefore time.Time, limit int) sq.SelectBuilder {
	q := psql.Select(orderColumns).
		From("orders").
		Where(sq.Eq{
			"status":         string(entities.OrderStatusPending),
			"payment_method": string(entities.PaymentMethodWallet),
		}).
		Where(sq.Lt{"created_at": createdBefore}).
		OrderBy("created_at")
	return withLimit(q, limit)
}

func undeliveredOrdersQuery(paidAfter, paidBefore time.Time, limit int) sq.SelectBuilder {
	q := psql.Select(orderColumns).
		From("orders").
		Where(sq.Eq{
			"status":         []string{string(entities.OrderStatusPaid), string(entities.OrderStatusCompleted)},
			"file_delivered": false,
		}).
		Where(sq.Gt{"paid_at": paidAfter}).
		Where(sq.Lt{"paid_at": paidBefore}).
		OrderBy("paid_at")
	return withLimit(q, limit)
}
