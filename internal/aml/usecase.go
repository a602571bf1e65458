package aml

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/aml/entities"
)

const externalCacheTTL = 24 * time.Hour

type LocalChecker interface {
	CheckPayout(ctx context.Context, sellerID int64, address string, amount decimal.Decimal) (*entities.ScreeningResult, error)
}

type ExternalChecker interface {
	IsEnabled() bool
	CheckAddress(ctx context.Context, address string) (*entities.AddressRiskInfo, error)
}

type Repository interface {
	SaveScreeningResult(ctx context.Context, result *entities.ScreeningResult) error
	SaveAddressRiskInfo(ctx context.Context, riskInfo *entities.AddressRiskInfo) error
	GetAddressRiskInfo(ctx context.Context, address string) (*entities.AddressRiskInfo, error)
}

// AMLService screens payout destinations. The local check always runs; the external
// provider runs in parallel when configured and the stricter verdict wins.
type AMLService struct {
	logger   *slog.Logger
	local    LocalChecker
	external ExternalChecker
	repo     Repository
}

// NewAMLService accepts nil external and repo.
func NewAMLService(logger *slog.Logger, local LocalChecker, external ExternalChecker, repo Repository) *AMLService {
	return &AMLService{logger: logger, local: local, external: external, repo: repo}
}

func (s *AMLService) ScreenPayout(ctx context.Context, sellerID int64, address string, amount decimal.Decimal) (*entities.ScreeningResult, error) {
	var (
		wg          sync.WaitGroup
		externalErr error
		externalRes *entities.AddressRiskInfo
	)

	if s.external != nil && s.external.IsEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			externalRes, externalErr = s.checkExternal(ctx, address)
		}()
	}

	result, err := s.local.CheckPayout(ctx, sellerID, address, amount)
	wg.Wait()
	if err != nil {
		return nil, fmt.Errorf("local AML check failed: %w", err)
	}

	if externalErr != nil {
		// the local verdict stands, but a human should look at it
		s.logger.ErrorContext(ctx, "External AML check failed", "address", address, "error", externalErr)
		result.RequiresReview = true
		result.Notes += "; external check unavailable"
	}
	if externalRes != nil {
		result.ServicesUsed = append(result.ServicesUsed, externalRes.Source)
		if externalRes.RiskScore > result.RiskScore {
			result.RiskScore = externalRes.RiskScore
			result.RiskLevel = externalRes.RiskLevel
			result.Approved = externalRes.RiskScore < entities.HighRiskScore
			result.RequiresReview = result.RequiresReview || externalRes.RiskScore >= entities.ReviewRiskScore
			result.Notes += fmt.Sprintf("; %s risk: %.2f", externalRes.Source, externalRes.RiskScore)
		}
	}

	if s.repo != nil {
		if err = s.repo.SaveScreeningResult(ctx, result); err != nil {
			s.logger.ErrorContext(ctx, "Failed to save screening result", "address", address, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "Payout destination screened",
		"seller_id", sellerID,
		"address", address,
		"risk_level", result.RiskLevel,
		"risk_score", result.RiskScore,
		"approved", result.Approved,
		"requires_review", result.RequiresReview)

	return result, nil
}

func (s *AMLService) checkExternal(ctx context.Context, address string) (*entities.AddressRiskInfo, error) {
	if s.repo != nil {
		cached, err := s.repo.GetAddressRiskInfo(ctx, address)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to get cached address risk info", "address", address, "error", err)
		} else if cached != nil && time.Since(cached.LastChecked) < externalCacheTTL {
			return cached, nil
		}
	}

	info, err := s.external.CheckAddress(ctx, address)
	if err != nil {
		return nil, err
	}

	if s.repo != nil {
		if err = s.repo.SaveAddressRiskInfo(ctx, info); err != nil {
			s.logger.ErrorContext(ctx, "Failed to cache address risk info", "address", address, "error", err)
		}
	}
	return info, nil
}
