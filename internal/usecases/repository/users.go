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

// UsersRepository reads identities and the product catalogue. Both are owned by the
// bot service; the only write here is the sales counter.
type UsersRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewUsersRepository(logger *slog.Logger, pg *database.Postgres) *UsersRepository {
	return &UsersRepository{logger: logger, db: pg.DBGetter}
}

func (r *UsersRepository) findUser(ctx context.Context, query string, arg any) (*entities.User, error) {
	var user entities.User
	err := r.db(ctx).QueryRow(ctx, query, arg).Scan(
		&user.UserID,
		&user.IsSeller,
		&user.PayoutAddress,
		&user.PartnerCode,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

func (r *UsersRepository) FindUser(ctx context.Context, userID int64) (*entities.User, error) {
	return r.findUser(ctx, "SELECT user_id, is_seller, payout_address, partner_code FROM users WHERE user_id = $1", userID)
}

func (r *UsersRepository) FindUserByPartnerCode(ctx context.Context, partnerCode string) (*entities.User, error) {
	return r.findUser(ctx, "SELECT user_id, is_seller, payout_address, partner_code FROM users WHERE partner_code = $1", partnerCode)
}

func (r *UsersRepository) FindProduct(ctx context.Context, productID string) (*entities.Product, error) {
	var product entities.Product
	err := r.db(ctx).QueryRow(ctx,
		"SELECT product_id, seller_id, title, price::text, is_available, sales_count FROM products WHERE product_id = $1",
		productID).Scan(
		&product.ProductID,
		&product.SellerID,
		&product.Title,
		&product.Price,
		&product.IsAvailable,
		&product.SalesCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product %s: %w", productID, err)
	}
	return &product, nil
}

func (r *UsersRepository) RecordSale(ctx context.Context, productID string) error {
	tag, err := r.db(ctx).Exec(ctx, "UPDATE products SET sales_count = sales_count + 1 WHERE product_id = $1", productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Sale recorded for unknown product", "product_id", productID)
	}
	return nil
}
