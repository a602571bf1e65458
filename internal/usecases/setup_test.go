package usecases

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"

	amlentities "github.com/sand/digital-marketplace/backend/internal/aml/entities"
	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/events"
	"github.com/sand/digital-marketplace/backend/internal/usecases/mocked"
)

const (
	sellerID   int64 = 10
	buyerID    int64 = 20
	referrerID int64 = 30
	otherID    int64 = 40

	productID      = "PRD_1"
	evmAddress     = "0x52908400098527886E0F7030069857D2E4169EE7"
	solanaAddress  = "So11111111111111111111111111111111111111112"
	partnerCode    = "REF30"
	productPrice   = "40.00"
	platformRate   = "0.05"
	referrerRate   = "0.10"
	minPayoutValue = "10"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(t events.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fakeDeliverer struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (d *fakeDeliverer) DeliverProduct(_ context.Context, _ int64, orderID, _, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, orderID)
	return d.err
}

func (d *fakeDeliverer) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type fakeProvider struct {
	err error
}

func (p *fakeProvider) CreatePayment(_ context.Context, orderID string, amount decimal.Decimal, payCurrency string) (*entities.CryptoPayment, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &entities.CryptoPayment{
		ExternalPaymentID: "np_" + orderID,
		PayAddress:        "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE",
		PayCurrency:       payCurrency,
		PayAmount:         amount.Mul(decimal.RequireFromString("1.01")),
	}, nil
}

type fakeScreener struct {
	rejected map[string]bool
	err      error
}

func (s *fakeScreener) ScreenPayout(_ context.Context, sellerID int64, address string, amount decimal.Decimal) (*amlentities.ScreeningResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &amlentities.ScreeningResult{SellerID: sellerID, Address: address, Amount: amount, Approved: !s.rejected[address]}, nil
}

type testEnv struct {
	store     *mocked.Store
	publisher *recordingPublisher
	deliverer *fakeDeliverer
	screener  *fakeScreener

	wallets      *WalletService
	transactions *TransactionService
	orders       *OrderService
	payments     *PaymentService
	payouts      *PayoutService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := mocked.NewStore()
	store.AddUser(entities.User{UserID: sellerID, IsSeller: true, PayoutAddress: pointy.String(evmAddress)})
	store.AddUser(entities.User{UserID: buyerID})
	store.AddUser(entities.User{UserID: referrerID, PartnerCode: pointy.String(partnerCode)})
	store.AddUser(entities.User{UserID: otherID, IsSeller: true})
	store.AddProduct(entities.Product{ProductID: productID, SellerID: sellerID, Title: "e-book", Price: decimal.RequireFromString(productPrice), IsAvailable: true})
	store.AddProduct(entities.Product{ProductID: "PRD_OFF", SellerID: sellerID, Title: "retired", Price: decimal.RequireFromString("5"), IsAvailable: false})

	rates, err := ParseCommissionRates(platformRate, referrerRate)
	require.NoError(t, err)

	env := &testEnv{
		store:     store,
		publisher: &recordingPublisher{},
		deliverer: &fakeDeliverer{},
		screener:  &fakeScreener{rejected: map[string]bool{}},
	}
	env.wallets = NewWalletService(logger, store, store, store)
	env.transactions = NewTransactionService(logger, store, store, store)
	env.orders = NewOrderService(logger, store, store, store, store, &fakeProvider{}, env.publisher, rates, "usdttrc20")
	env.payments = NewPaymentService(logger, store, env.orders, env.wallets, env.deliverer, env.publisher)
	env.payouts = NewPayoutService(logger, store, store, store, env.wallets, env.screener, env.publisher, decimal.RequireFromString(minPayoutValue))

	return env
}

func (env *testEnv) deposit(t *testing.T, userID int64, amount string) {
	t.Helper()
	_, err := env.wallets.Deposit(context.Background(), userID, decimal.RequireFromString(amount), "top up", "")
	require.NoError(t, err)
}

func (env *testEnv) createOrder(t *testing.T, method entities.PaymentMethod, partner string) *entities.Order {
	t.Helper()
	order, err := env.orders.CreateOrder(context.Background(), CreateOrderRequest{
		BuyerID:       buyerID,
		ProductID:     productID,
		PaymentMethod: method,
		PartnerCode:   partner,
	})
	require.NoError(t, err)
	return order
}

func (env *testEnv) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	balance, err := env.wallets.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func (env *testEnv) requireBalance(t *testing.T, userID int64, expected string) {
	t.Helper()
	actual := env.balance(t, userID)
	require.True(t, decimal.RequireFromString(expected).Equal(actual), "user %d balance: expected %s, got %s", userID, expected, actual)
}

func (env *testEnv) requireLedgerConsistent(t *testing.T, userIDs ...int64) {
	t.Helper()
	for _, userID := range userIDs {
		report, err := env.transactions.VerifyLedger(context.Background(), userID)
		require.NoError(t, err)
		require.True(t, report.Consistent, "user %d: balance %s, ledger %s", userID, report.Balance, report.LedgerSum)
	}
}

func requireDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

var errBoom = errors.New("boom")
