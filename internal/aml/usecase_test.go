package aml

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/digital-marketplace/backend/internal/aml/entities"
	"github.com/sand/digital-marketplace/backend/internal/aml/services"
)

const (
	cleanAddress   = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	blockedAddress = "0x52908400098527886E0F7030069857D2E4169EE7"
)

type fakeExternal struct {
	info  *entities.AddressRiskInfo
	err   error
	calls int
}

func (f *fakeExternal) IsEnabled() bool { return true }

func (f *fakeExternal) CheckAddress(_ context.Context, _ string) (*entities.AddressRiskInfo, error) {
	f.calls++
	return f.info, f.err
}

type memoryRepo struct {
	saved []*entities.ScreeningResult
	cache map[string]*entities.AddressRiskInfo
}

func (m *memoryRepo) SaveScreeningResult(_ context.Context, result *entities.ScreeningResult) error {
	m.saved = append(m.saved, result)
	return nil
}

func (m *memoryRepo) SaveAddressRiskInfo(_ context.Context, info *entities.AddressRiskInfo) error {
	m.cache[info.Address] = info
	return nil
}

func (m *memoryRepo) GetAddressRiskInfo(_ context.Context, address string) (*entities.AddressRiskInfo, error) {
	return m.cache[address], nil
}

func newLocal() *services.LocalAMLService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return services.NewLocalAMLService(logger, "1000", []string{blockedAddress})
}

func TestScreenPayoutLocalOnly(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewAMLService(logger, newLocal(), nil, nil)

	result, err := svc.ScreenPayout(context.Background(), 1, cleanAddress, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, entities.RiskLevelLow, result.RiskLevel)

	// deny list matching ignores EVM checksum casing
	result, err = svc.ScreenPayout(context.Background(), 1, "0x52908400098527886e0f7030069857d2e4169ee7", decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, entities.RiskLevelHigh, result.RiskLevel)

	result, err = svc.ScreenPayout(context.Background(), 1, cleanAddress, decimal.NewFromInt(20000))
	require.NoError(t, err)
	assert.False(t, result.Approved)
}

func TestScreenPayoutExternalStricterVerdictWins(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	external := &fakeExternal{info: &entities.AddressRiskInfo{
		Address: cleanAddress, RiskScore: 0.85, RiskLevel: entities.RiskLevelHigh, Source: "amlbot", LastChecked: time.Now(),
	}}
	repo := &memoryRepo{cache: map[string]*entities.AddressRiskInfo{}}
	svc := NewAMLService(logger, newLocal(), external, repo)

	result, err := svc.ScreenPayout(context.Background(), 1, cleanAddress, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Contains(t, result.ServicesUsed, "amlbot")
	require.Len(t, repo.saved, 1)

	// second screening is served from the cache
	_, err = svc.ScreenPayout(context.Background(), 1, cleanAddress, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.Equal(t, 1, external.calls)
}

func TestScreenPayoutExternalFailureFlagsReview(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewAMLService(logger, newLocal(), &fakeExternal{err: errors.New("timeout")}, nil)

	result, err := svc.ScreenPayout(context.Background(), 1, cleanAddress, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.True(t, result.RequiresReview)
}
