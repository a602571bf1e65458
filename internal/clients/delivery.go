package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DeliveryClient asks the bot service to send a purchased file to its buyer.
// The order id doubles as the idempotency key, so the receiver can drop repeats.
type DeliveryClient struct {
	logger *slog.Logger
	url    string
	token  string
	client *http.Client
}

func NewDeliveryClient(logger *slog.Logger, url, token string, timeout time.Duration) *DeliveryClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DeliveryClient{
		logger: logger,
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type deliveryRequest struct {
	BuyerID           int64  `json:"buyer_id"`
	OrderID           string `json:"order_id"`
	ProductID         string `json:"product_id"`
	ExternalPaymentID string `json:"external_payment_id,omitempty"`
}

func (c *DeliveryClient) DeliverProduct(ctx context.Context, buyerID int64, orderID, productID, externalPaymentID string) error {
	body, err := json.Marshal(deliveryRequest{
		BuyerID:           buyerID,
		OrderID:           orderID,
		ProductID:         productID,
		ExternalPaymentID: externalPaymentID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode delivery request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", orderID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send delivery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("delivery service returned %d: %s", resp.StatusCode, string(raw))
	}

	c.logger.InfoContext(ctx, "File delivered", "order_id", orderID, "buyer_id", buyerID, "product_id", productID)
	return nil
}
