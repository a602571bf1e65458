package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// Score thresholds shared by every screening source.
const (
	HighRiskScore   = 0.7
	MediumRiskScore = 0.4
	ReviewRiskScore = 0.5
)

func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= HighRiskScore:
		return RiskLevelHigh
	case score >= MediumRiskScore:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// AddressRiskInfo is the risk assessment of a single address by one source.
type AddressRiskInfo struct {
	Address     string    `json:"address"`
	RiskLevel   RiskLevel `json:"risk_level"`
	RiskScore   float64   `json:"risk_score"`
	LastChecked time.Time `json:"last_checked"`
	Category    string    `json:"category,omitempty"`
	Source      string    `json:"source,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// ScreeningResult is the combined verdict for a payout destination.
type ScreeningResult struct {
	SellerID       int64           `json:"seller_id"`
	Address        string          `json:"address"`
	Amount         decimal.Decimal `json:"amount"`
	RiskLevel      RiskLevel       `json:"risk_level"`
	RiskScore      float64         `json:"risk_score"`
	Approved       bool            `json:"approved"`
	RequiresReview bool            `json:"requires_review"`
	Notes          string          `json:"notes,omitempty"`
	CheckedAt      time.Time       `json:"checked_at"`
	ServicesUsed   []string        `json:"services_used,omitempty"`
}
