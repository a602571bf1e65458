package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sand/digital-marketplace/backend/internal/aml/entities"
)

const defaultAMLBotURL = "https://api.amlbot.com/v1"

// AMLBotService checks addresses through the AMLBot API. Disabled without an API key.
type AMLBotService struct {
	logger    *slog.Logger
	apiKey    string
	apiURL    string
	client    *http.Client
	isEnabled bool
}

func NewAMLBotService(logger *slog.Logger, apiKey, apiURL string, timeout time.Duration) *AMLBotService {
	isEnabled := apiKey != ""
	if !isEnabled {
		logger.Warn("AMLBot service is disabled due to missing credentials")
	}

	if apiURL == "" {
		apiURL = defaultAMLBotURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &AMLBotService{
		logger:    logger,
		apiKey:    apiKey,
		apiURL:    strings.TrimRight(apiURL, "/"),
		client:    &http.Client{Timeout: timeout},
		isEnabled: isEnabled,
	}
}

func (s *AMLBotService) IsEnabled() bool {
	return s.isEnabled
}

type amlBotResponse struct {
	Score    float64  `json:"score"`
	Risk     string   `json:"risk"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

func (s *AMLBotService) CheckAddress(ctx context.Context, address string) (*entities.AddressRiskInfo, error) {
	form := url.Values{}
	form.Add("address", address)
	form.Add("api_key", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/address/check", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create AMLBot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to AMLBot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("AMLBot API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result amlBotResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode AMLBot response: %w", err)
	}

	info := &entities.AddressRiskInfo{
		Address:     address,
		RiskLevel:   entities.LevelForScore(result.Score),
		RiskScore:   result.Score,
		LastChecked: time.Now(),
		Category:    result.Category,
		Source:      "amlbot",
		Tags:        result.Tags,
	}

	s.logger.InfoContext(ctx, "AMLBot check completed", "address", address, "risk_level", info.RiskLevel, "risk_score", info.RiskScore)
	return info, nil
}
