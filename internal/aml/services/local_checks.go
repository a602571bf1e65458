package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/aml/entities"
)

const defaultThreshold = 5000

// LocalAMLService screens addresses against a configured deny list and simple heuristics,
// without calling any external API.
type LocalAMLService struct {
	logger *slog.Logger

	knownRiskyAddresses map[string]float64
	threshold           decimal.Decimal
}

func NewLocalAMLService(logger *slog.Logger, thresholdAmount string, denyList []string) *LocalAMLService {
	threshold, err := decimal.NewFromString(thresholdAmount)
	if err != nil || !threshold.IsPositive() {
		threshold = decimal.NewFromInt(defaultThreshold)
	}

	risky := make(map[string]float64, len(denyList))
	for _, address := range denyList {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		risky[normalize(address)] = 0.9
	}

	logger.Info("Initialized local AML service", "threshold", threshold.String(), "known_risky_addresses", len(risky))

	return &LocalAMLService{
		logger:              logger,
		knownRiskyAddresses: risky,
		threshold:           threshold,
	}
}

// EVM addresses are case-insensitive, base58 addresses are not.
func normalize(address string) string {
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}

func (s *LocalAMLService) CheckAddress(ctx context.Context, address string) (*entities.AddressRiskInfo, error) {
	key := normalize(address)

	category := "heuristic"
	riskScore, known := s.knownRiskyAddresses[key]
	if known {
		category = "deny_list"
	} else {
		riskScore = s.analyzeAddressPattern(strings.ToLower(key))
	}

	info := &entities.AddressRiskInfo{
		Address:     address,
		RiskLevel:   entities.LevelForScore(riskScore),
		RiskScore:   riskScore,
		LastChecked: time.Now(),
		Category:    category,
		Source:      "local_aml",
	}

	s.logger.DebugContext(ctx, "Address risk analysis completed", "address", address, "risk_score", riskScore, "category", category)
	return info, nil
}

func (s *LocalAMLService) analyzeAddressPattern(address string) float64 {
	if strings.Contains(address, "000000") {
		return 0.4
	}
	if strings.Contains(address, "dead") || strings.Contains(address, "beef") {
		return 0.3
	}
	return 0.1
}

// CheckPayout combines the destination risk with the amount risk.
func (s *LocalAMLService) CheckPayout(ctx context.Context, sellerID int64, address string, amount decimal.Decimal) (*entities.ScreeningResult, error) {
	addressRisk, err := s.CheckAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to check destination address: %w", err)
	}

	amountRisk := s.checkAmount(amount)
	score := max(addressRisk.RiskScore, amountRisk)

	return &entities.ScreeningResult{
		SellerID:       sellerID,
		Address:        address,
		Amount:         amount,
		RiskLevel:      entities.LevelForScore(score),
		RiskScore:      score,
		Approved:       score < entities.HighRiskScore,
		RequiresReview: score >= entities.ReviewRiskScore,
		Notes:          fmt.Sprintf("Destination risk: %.2f (%s), amount risk: %.2f", addressRisk.RiskScore, addressRisk.Category, amountRisk),
		CheckedAt:      time.Now(),
		ServicesUsed:   []string{"local_aml"},
	}, nil
}

func (s *LocalAMLService) checkAmount(amount decimal.Decimal) float64 {
	if amount.LessThan(s.threshold) {
		return 0.2
	}

	ratio := amount.Div(s.threshold).InexactFloat64()
	if ratio > 10 {
		return 0.9
	}
	return 0.5 + 0.04*ratio
}
