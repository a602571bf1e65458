package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
)

// NowPaymentsClient opens crypto payments for orders through the NOWPayments API.
type NowPaymentsClient struct {
	logger        *slog.Logger
	apiURL        string
	apiKey        string
	callbackURL   string
	priceCurrency string
	client        *http.Client
}

func NewNowPaymentsClient(logger *slog.Logger, apiURL, apiKey, callbackURL, priceCurrency string, timeout time.Duration) *NowPaymentsClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &NowPaymentsClient{
		logger:        logger,
		apiURL:        strings.TrimRight(apiURL, "/"),
		apiKey:        apiKey,
		callbackURL:   callbackURL,
		priceCurrency: priceCurrency,
		client:        &http.Client{Timeout: timeout},
	}
}

type createPaymentRequest struct {
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	PayCurrency      string      `json:"pay_currency"`
	OrderID          string      `json:"order_id"`
	OrderDescription string      `json:"order_description"`
	IPNCallbackURL   string      `json:"ipn_callback_url,omitempty"`
}

type createPaymentResponse struct {
	PaymentID   json.Number     `json:"payment_id"`
	PayAddress  string          `json:"pay_address"`
	PayAmount   decimal.Decimal `json:"pay_amount"`
	PayCurrency string          `json:"pay_currency"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *NowPaymentsClient) CreatePayment(ctx context.Context, orderID string, amount decimal.Decimal, payCurrency string) (*entities.CryptoPayment, error) {
	payCurrency = strings.ToLower(strings.TrimSpace(payCurrency))

	body, err := json.Marshal(createPaymentRequest{
		PriceAmount:      json.Number(amount.String()),
		PriceCurrency:    c.priceCurrency,
		PayCurrency:      payCurrency,
		OrderID:          orderID,
		OrderDescription: "Order " + orderID,
		IPNCallbackURL:   c.callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/payment", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.InfoContext(ctx, "Creating crypto payment", "order_id", orderID, "pay_currency", payCurrency, "amount", amount.String())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send payment request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("payment provider returned %d (%s): %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("payment provider returned %d: %s", resp.StatusCode, string(raw))
	}

	var payment createPaymentResponse
	if err = json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, fmt.Errorf("failed to decode payment response: %w", err)
	}
	if payment.PaymentID == "" || payment.PayAddress == "" {
		return nil, fmt.Errorf("payment provider response is missing payment_id or pay_address")
	}
	if payment.PayCurrency == "" {
		payment.PayCurrency = payCurrency
	}

	c.logger.InfoContext(ctx, "Crypto payment created", "order_id", orderID, "payment_id", payment.PaymentID.String())

	return &entities.CryptoPayment{
		ExternalPaymentID: payment.PaymentID.String(),
		PayAddress:        payment.PayAddress,
		PayCurrency:       payment.PayCurrency,
		PayAmount:         payment.PayAmount,
	}, nil
}
