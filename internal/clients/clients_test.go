package clients

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestCreatePayment(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"payment_id": 5524759814, "pay_address": "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE", "pay_amount": 40.4, "pay_currency": "usdttrc20"}`))
	}))
	defer server.Close()

	client := NewNowPaymentsClient(discard, server.URL+"/", "secret-key", "https://shop.example/webhook/payment", "usd", time.Second)
	payment, err := client.CreatePayment(context.Background(), "ORD_1", decimal.RequireFromString("40.00"), "USDTTRC20")
	require.NoError(t, err)

	assert.Equal(t, "5524759814", payment.ExternalPaymentID)
	assert.Equal(t, "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE", payment.PayAddress)
	assert.Equal(t, "usdttrc20", payment.PayCurrency)
	assert.True(t, decimal.RequireFromString("40.4").Equal(payment.PayAmount))

	assert.Equal(t, 40.0, received["price_amount"])
	assert.Equal(t, "ORD_1", received["order_id"])
	assert.Equal(t, "usd", received["price_currency"])
	assert.Equal(t, "usdttrc20", received["pay_currency"])
	assert.Equal(t, "https://shop.example/webhook/payment", received["ipn_callback_url"])
}

func TestCreatePaymentProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code": "CURRENCY_NOT_SUPPORTED", "message": "pay_currency is not supported"}`))
	}))
	defer server.Close()

	client := NewNowPaymentsClient(discard, server.URL, "key", "", "usd", time.Second)
	_, err := client.CreatePayment(context.Background(), "ORD_1", decimal.NewFromInt(5), "doge")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CURRENCY_NOT_SUPPORTED")
}

func TestCreatePaymentIncompleteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"payment_id": "77"}`))
	}))
	defer server.Close()

	client := NewNowPaymentsClient(discard, server.URL, "key", "", "usd", time.Second)
	_, err := client.CreatePayment(context.Background(), "ORD_1", decimal.NewFromInt(5), "btc")
	require.Error(t, err)
}

func TestDeliverProduct(t *testing.T) {
	var received deliveryRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer bot-token", r.Header.Get("Authorization"))
		assert.Equal(t, "ORD_1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewDeliveryClient(discard, server.URL, "bot-token", time.Second)
	require.NoError(t, client.DeliverProduct(context.Background(), 20, "ORD_1", "PRD_1", "np_1"))

	assert.Equal(t, deliveryRequest{BuyerID: 20, OrderID: "ORD_1", ProductID: "PRD_1", ExternalPaymentID: "np_1"}, received)
}

func TestDeliverProductFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "buyer blocked the bot", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewDeliveryClient(discard, server.URL, "", time.Second)
	err := client.DeliverProduct(context.Background(), 20, "ORD_1", "PRD_1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
