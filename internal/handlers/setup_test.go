package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sand/digital-marketplace/backend/internal/auth"
	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/events"
	"github.com/sand/digital-marketplace/backend/internal/ratelimit"
	"github.com/sand/digital-marketplace/backend/internal/usecases"
	"github.com/sand/digital-marketplace/backend/internal/usecases/mocked"
)

const (
	testAdminToken = "admin-secret"
	testIPNSecret  = "ipn-secret"
	testJWTSecret  = "jwt-secret"
)

type stubProvider struct{}

func (stubProvider) CreatePayment(_ context.Context, orderID string, amount decimal.Decimal, payCurrency string) (*entities.CryptoPayment, error) {
	return &entities.CryptoPayment{
		ExternalPaymentID: "np_" + orderID,
		PayAddress:        "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE",
		PayCurrency:       payCurrency,
		PayAmount:         amount,
	}, nil
}

type nopDeliverer struct{}

func (nopDeliverer) DeliverProduct(context.Context, int64, string, string, string) error {
	return nil
}

type handlerEnv struct {
	store    *mocked.Store
	router   *mux.Router
	manager  *Manager
	orders   *usecases.OrderService
	payments *usecases.PaymentService
	wallets  *usecases.WalletService
	tokens   *auth.Tokens
}

func newHandlerEnv(t *testing.T, adminToken string, limiter ratelimit.Limiter) *handlerEnv {
	t.Helper()
	return newHandlerEnvWithAccess(t, Access{AdminToken: adminToken}, limiter)
}

// newHandlerEnvWithAccess signs user tokens with testJWTSecret unless access names other tokens.
func newHandlerEnvWithAccess(t *testing.T, access Access, limiter ratelimit.Limiter) *handlerEnv {
	t.Helper()
	if access.Tokens == nil {
		access.Tokens = auth.NewTokens(testJWTSecret, "marketplace", time.Hour)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := mocked.NewStore()
	store.SeedDemoData(logger)

	rates, err := usecases.ParseCommissionRates("0.05", "0.10")
	require.NoError(t, err)

	manager := NewWebSocketManager(logger, nil)
	publisher := events.NewMulti(logger).Add("websocket", manager)

	wallets := usecases.NewWalletService(logger, store, store, store)
	transactions := usecases.NewTransactionService(logger, store, store, store)
	orders := usecases.NewOrderService(logger, store, store, store, store, stubProvider{}, publisher, rates, "usdttrc20")
	payments := usecases.NewPaymentService(logger, store, orders, wallets, nopDeliverer{}, publisher)
	payouts := usecases.NewPayoutService(logger, store, store, store, wallets, nil, publisher, decimal.RequireFromString("10"))

	router := mux.NewRouter()
	NewHTTPHandler(logger, orders, payments, wallets, transactions, payouts, store, access, limiter).RegisterRoutes(router)
	NewWebhookHandler(logger, payments, testIPNSecret, 0).RegisterRoutes(router)
	NewWebSocketHandler(logger, orders, manager).RegisterRoutes(router)

	return &handlerEnv{
		store:    store,
		router:   router,
		manager:  manager,
		orders:   orders,
		payments: payments,
		wallets:  wallets,
		tokens:   access.Tokens,
	}
}

// as returns the Authorization header of userID for env.do.
func (env *handlerEnv) as(t *testing.T, userID int64) []string {
	t.Helper()
	token, _, err := env.tokens.Issue(userID)
	require.NoError(t, err)
	return []string{"Authorization", bearerPrefix + token}
}

func (env *handlerEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *handlerEnv) createOrder(t *testing.T, method entities.PaymentMethod, productID string) *entities.Order {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/orders", map[string]any{
		"buyer_id":       mocked.DemoBuyerID,
		"product_id":     productID,
		"payment_method": method,
	}, env.as(t, mocked.DemoBuyerID)...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[entities.Order](t, rec)
}

func (env *handlerEnv) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	balance, err := env.wallets.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) *T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return &v
}

func requireDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func requireAmount(t *testing.T, amount string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(amount)
	require.NoError(t, err)
	return value
}
