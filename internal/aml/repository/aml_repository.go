package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/digital-marketplace/backend/internal/aml/entities"
	"github.com/sand/digital-marketplace/backend/pkg/database"
)

// AMLRepository stores payout screening verdicts and caches external address assessments.
type AMLRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewAMLRepository(logger *slog.Logger, pg *database.Postgres) *AMLRepository {
	return &AMLRepository{logger: logger, db: pg.DBGetter}
}

func (r *AMLRepository) SaveScreeningResult(ctx context.Context, result *entities.ScreeningResult) error {
	query := `INSERT INTO payout_screenings
		(seller_id, address, amount, risk_level, risk_score, approved, requires_review, notes, services_used, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db(ctx).Exec(ctx, query,
		result.SellerID,
		result.Address,
		result.Amount.String(),
		result.RiskLevel,
		result.RiskScore,
		result.Approved,
		result.RequiresReview,
		result.Notes,
		result.ServicesUsed,
		result.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save screening result: %w", err)
	}
	return nil
}

func (r *AMLRepository) SaveAddressRiskInfo(ctx context.Context, riskInfo *entities.AddressRiskInfo) error {
	query := `INSERT INTO address_risk_info
		(address, risk_level, risk_score, last_checked, category, source, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO UPDATE
		SET risk_level = $2, risk_score = $3, last_checked = $4, category = $5, source = $6, tags = $7`

	_, err := r.db(ctx).Exec(ctx, query,
		riskInfo.Address,
		riskInfo.RiskLevel,
		riskInfo.RiskScore,
		time.Now(),
		riskInfo.Category,
		riskInfo.Source,
		riskInfo.Tags,
	)
	if err != nil {
		return fmt.Errorf("failed to save address risk info: %w", err)
	}
	return nil
}

// GetAddressRiskInfo returns nil when the address has never been assessed.
func (r *AMLRepository) GetAddressRiskInfo(ctx context.Context, address string) (*entities.AddressRiskInfo, error) {
	query := `SELECT address, risk_level, risk_score, last_checked, category, source, tags
		FROM address_risk_info
		WHERE address = $1`

	var riskInfo entities.AddressRiskInfo
	var tags []string

	err := r.db(ctx).QueryRow(ctx, query, address).Scan(
		&riskInfo.Address,
		&riskInfo.RiskLevel,
		&riskInfo.RiskScore,
		&riskInfo.LastChecked,
		&riskInfo.Category,
		&riskInfo.Source,
		&tags,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get address risk info: %w", err)
	}

	riskInfo.Tags = tags
	return &riskInfo, nil
}
