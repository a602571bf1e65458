package usecases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/events"
)

func finishedEvent(order *entities.Order) entities.PaymentEvent {
	return entities.PaymentEvent{
		ExternalPaymentID: *order.ExternalPaymentID,
		Status:            entities.ProviderStatusFinished,
		Currency:          "usdttrc20",
		Amount:            decimal.RequireFromString("40.40"),
		Address:           "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE",
	}
}

func TestWalletPaymentSplitsProceeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deposit(t, buyerID, "100")

	order := env.createOrder(t, entities.PaymentMethodWallet, "")
	requireDecimal(t, "2.00", order.PlatformCommission)
	requireDecimal(t, "38.00", order.SellerPayout)

	paid, err := env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.NoError(t, err)

	assert.Equal(t, entities.OrderStatusCompleted, paid.Status)
	assert.True(t, paid.FileDelivered)
	env.requireBalance(t, buyerID, "60")
	env.requireBalance(t, sellerID, "38")

	product, err := env.store.FindProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 1, product.SalesCount)

	assert.Equal(t, 1, env.publisher.count(events.OrderPaid))
	assert.Equal(t, 1, env.publisher.count(events.OrderCompleted))
	assert.Equal(t, []string{order.OrderID}, env.deliverer.calls)
	env.requireLedgerConsistent(t, buyerID, sellerID)
}

func TestWalletPaymentRetryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deposit(t, buyerID, "100")
	order := env.createOrder(t, entities.PaymentMethodWallet, "")

	_, err := env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.NoError(t, err)

	again, err := env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderStatusCompleted, again.Status)

	env.requireBalance(t, buyerID, "60")
	env.requireBalance(t, sellerID, "38")
	assert.Equal(t, 1, env.publisher.count(events.OrderPaid))
}

func TestWalletPaymentWithReferrer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deposit(t, buyerID, "40")

	order := env.createOrder(t, entities.PaymentMethodWallet, partnerCode)
	require.NotNil(t, order.ReferrerID)
	assert.Equal(t, referrerID, *order.ReferrerID)

	_, err := env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.NoError(t, err)

	env.requireBalance(t, buyerID, "0")
	env.requireBalance(t, sellerID, "34")
	env.requireBalance(t, referrerID, "4")
	env.requireLedgerConsistent(t, buyerID, sellerID, referrerID)
}

func TestWalletPaymentInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deposit(t, buyerID, "10")
	order := env.createOrder(t, entities.PaymentMethodWallet, "")

	_, err := env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.ErrorIs(t, err, entities.ErrInsufficientFunds)

	stored, err := env.orders.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderStatusPending, stored.Status)
	env.requireBalance(t, buyerID, "10")
	env.requireBalance(t, sellerID, "0")
}

func TestWalletPaymentRejectsCryptoAndCancelledOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deposit(t, buyerID, "100")

	crypto := env.createOrder(t, entities.PaymentMethodCrypto, "")
	_, err := env.payments.ProcessWalletPayment(ctx, crypto.OrderID)
	require.ErrorIs(t, err, entities.ErrValidation)

	order := env.createOrder(t, entities.PaymentMethodWallet, "")
	_, err = env.orders.CancelOrder(ctx, order.OrderID, buyerID)
	require.NoError(t, err)
	_, err = env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.ErrorIs(t, err, entities.ErrInvalidState)

	_, err = env.payments.ProcessWalletPayment(ctx, "ORD_MISSING")
	require.ErrorIs(t, err, entities.ErrNotFound)
	env.requireBalance(t, buyerID, "100")
}

func TestWalletPaymentRollsBackOnPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deposit(t, buyerID, "100")
	order := env.createOrder(t, entities.PaymentMethodWallet, "")

	env.store.FailNext("RecordSale", errBoom)
	_, err := env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.True(t, errors.Is(err, errBoom))

	stored, err := env.orders.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderStatusPending, stored.Status)
	env.requireBalance(t, buyerID, "100")
	env.requireBalance(t, sellerID, "0")
	env.requireLedgerConsistent(t, buyerID, sellerID)
}

func TestFailedDeliveryLeavesOrderPaidForRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deposit(t, buyerID, "100")
	order := env.createOrder(t, entities.PaymentMethodWallet, "")

	env.deliverer.fail(errBoom)
	paid, err := env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderStatusPaid, paid.Status)
	assert.False(t, paid.FileDelivered)
	env.requireBalance(t, sellerID, "38")

	env.deliverer.fail(nil)
	delivered, err := env.payments.DeliverOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderStatusCompleted, delivered.Status)
	assert.True(t, delivered.FileDelivered)
	require.NotNil(t, delivered.DeliveredAt)

	// delivering again is a no-op
	_, err = env.payments.DeliverOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Len(t, env.deliverer.calls, 2)
}

func TestDeliverUnpaidOrderFails(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, entities.PaymentMethodWallet, "")

	_, err := env.payments.DeliverOrder(context.Background(), order.OrderID)
	require.ErrorIs(t, err, entities.ErrInvalidState)
	assert.Empty(t, env.deliverer.calls)
}

func TestCryptoWebhookPaysOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t, entities.PaymentMethodCrypto, partnerCode)
	require.NotNil(t, order.ExternalPaymentID)

	paid, outcome, err := env.payments.ProcessCryptoWebhook(ctx, finishedEvent(order))
	require.NoError(t, err)
	assert.Equal(t, WebhookPaid, outcome)
	assert.Equal(t, entities.OrderStatusCompleted, paid.Status)
	require.NotNil(t, paid.CryptoCurrency)
	assert.Equal(t, "usdttrc20", *paid.CryptoCurrency)
	requireDecimal(t, "40.40", paid.CryptoAmount.Decimal)

	again, outcome, err := env.payments.ProcessCryptoWebhook(ctx, finishedEvent(order))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, outcome)
	assert.Equal(t, order.OrderID, again.OrderID)

	env.requireBalance(t, sellerID, "34")
	env.requireBalance(t, referrerID, "4")
	env.requireBalance(t, buyerID, "0")

	credits, err := env.transactions.GetTransactionsByReference(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Len(t, credits, 2)
	env.requireLedgerConsistent(t, sellerID, referrerID)
}

func TestConcurrentDuplicateWebhooksCreditOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t, entities.PaymentMethodCrypto, "")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[string]int{}
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outcome, err := env.payments.ProcessCryptoWebhook(ctx, finishedEvent(order))
			assert.NoError(t, err)
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[WebhookPaid])
	assert.Equal(t, 9, outcomes[WebhookDuplicate])
	env.requireBalance(t, sellerID, "38")
	env.requireLedgerConsistent(t, sellerID)
}

func TestCryptoWebhookFailureCancelsPendingOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t, entities.PaymentMethodCrypto, "")

	event := finishedEvent(order)
	event.Status = entities.ProviderStatusExpired
	cancelled, outcome, err := env.payments.ProcessCryptoWebhook(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, WebhookCancelled, outcome)
	assert.Equal(t, entities.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 1, env.publisher.count(events.OrderCancelled))

	// a late success for a cancelled order is reported, nobody gets credited
	late, outcome, err := env.payments.ProcessCryptoWebhook(ctx, finishedEvent(order))
	require.NoError(t, err)
	assert.Equal(t, WebhookLatePayment, outcome)
	assert.Equal(t, entities.OrderStatusCancelled, late.Status)
	assert.Equal(t, 1, env.publisher.count(events.OrderLatePayment))
	env.requireBalance(t, sellerID, "0")
}

func TestSlowCryptoPaymentSurvivesStaleOrderCleanup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t, entities.PaymentMethodCrypto, "")

	env.orders.now = func() time.Time { return time.Now().Add(49 * time.Hour) }
	expired, err := env.orders.ExpireStaleOrders(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	paid, outcome, err := env.payments.ProcessCryptoWebhook(ctx, finishedEvent(order))
	require.NoError(t, err)
	assert.Equal(t, WebhookPaid, outcome)
	assert.Equal(t, entities.OrderStatusCompleted, paid.Status)
	env.requireBalance(t, sellerID, "38")
	env.requireLedgerConsistent(t, sellerID)
}

func TestLatePaymentForExpiredOrderIsReported(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t, entities.PaymentMethodCrypto, "")

	_, ok, err := env.orders.ExpireOrder(ctx, order.OrderID)
	require.NoError(t, err)
	require.True(t, ok)

	// replays of the late notification are reported again and never credit
	for range 2 {
		late, outcome, err := env.payments.ProcessCryptoWebhook(ctx, finishedEvent(order))
		require.NoError(t, err)
		assert.Equal(t, WebhookLatePayment, outcome)
		assert.Equal(t, entities.OrderStatusCancelled, late.Status)
	}
	assert.Equal(t, 2, env.publisher.count(events.OrderLatePayment))
	assert.Equal(t, 0, env.publisher.count(events.OrderPaid))
	env.requireBalance(t, sellerID, "0")
	env.requireBalance(t, buyerID, "0")
}

func TestCryptoWebhookFailureAfterPaymentIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.createOrder(t, entities.PaymentMethodCrypto, "")

	_, _, err := env.payments.ProcessCryptoWebhook(ctx, finishedEvent(order))
	require.NoError(t, err)

	event := finishedEvent(order)
	event.Status = entities.ProviderStatusFailed
	unchanged, outcome, err := env.payments.ProcessCryptoWebhook(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, outcome)
	assert.Equal(t, entities.OrderStatusCompleted, unchanged.Status)
	env.requireBalance(t, sellerID, "38")
}

func TestCryptoWebhookIgnoresIntermediateStatuses(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, entities.PaymentMethodCrypto, "")

	event := finishedEvent(order)
	event.Status = "confirming"
	result, outcome, err := env.payments.ProcessCryptoWebhook(context.Background(), event)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, WebhookIgnored, outcome)

	stored, err := env.orders.GetOrder(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderStatusPending, stored.Status)
}

func TestCryptoWebhookUnknownPayment(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.payments.ProcessCryptoWebhook(context.Background(), entities.PaymentEvent{
		ExternalPaymentID: "np_unknown",
		Status:            entities.ProviderStatusFinished,
	})
	require.ErrorIs(t, err, entities.ErrNotFound)

	_, _, err = env.payments.ProcessCryptoWebhook(context.Background(), entities.PaymentEvent{Status: entities.ProviderStatusFinished})
	require.ErrorIs(t, err, entities.ErrValidation)
}

func TestDisbursePayoutsRequiresPaidOrder(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, entities.PaymentMethodWallet, "")

	err := env.payments.DisbursePayouts(context.Background(), order)
	require.ErrorIs(t, err, entities.ErrInvalidState)
	env.requireBalance(t, sellerID, "0")
}

func TestRefundOrderReversesLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deposit(t, buyerID, "100")
	order := env.createOrder(t, entities.PaymentMethodWallet, partnerCode)
	_, err := env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.NoError(t, err)

	refunded, err := env.payments.RefundOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderStatusRefunded, refunded.Status)

	env.requireBalance(t, buyerID, "100")
	env.requireBalance(t, sellerID, "0")
	env.requireBalance(t, referrerID, "0")
	env.requireLedgerConsistent(t, buyerID, sellerID, referrerID)

	_, err = env.payments.RefundOrder(ctx, order.OrderID)
	require.ErrorIs(t, err, entities.ErrInvalidState)
}

func TestRefundFailsAtomicallyWhenSellerCashedOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deposit(t, buyerID, "40")
	order := env.createOrder(t, entities.PaymentMethodWallet, "")
	_, err := env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.NoError(t, err)

	_, err = env.payouts.CreatePayoutRequest(ctx, sellerID, decimal.NewFromInt(38), "")
	require.NoError(t, err)

	_, err = env.payments.RefundOrder(ctx, order.OrderID)
	require.ErrorIs(t, err, entities.ErrInsufficientFunds)

	stored, err := env.orders.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, entities.OrderStatusCompleted, stored.Status)
	env.requireBalance(t, buyerID, "0")
	env.requireLedgerConsistent(t, buyerID, sellerID)
}
