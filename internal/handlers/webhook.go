package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/metrics"
)

const (
	signatureHeader = "X-Nowpayments-Sig"
	maxWebhookBody  = 64 << 10
)

type WebhookProcessor interface {
	ProcessCryptoWebhook(ctx context.Context, event entities.PaymentEvent) (*entities.Order, string, error)
}

// WebhookHandler receives payment provider notifications. Once the signature and the
// body are valid it always answers 200 so the provider does not retry on business errors.
type WebhookHandler struct {
	logger    *slog.Logger
	payments  WebhookProcessor
	ipnSecret []byte
	timeout   time.Duration
}

func NewWebhookHandler(logger *slog.Logger, payments WebhookProcessor, ipnSecret string, timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger,
		payments:  payments,
		ipnSecret: []byte(ipnSecret),
		timeout:   timeout,
	}
}

func (h *WebhookHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhook/payment", h.HandlePayment).Methods("POST")
}

type webhookResponse struct {
	OK bool `json:"ok"`
}

func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	defer func() {
		metrics.WebhookDuration.Observe(time.Since(started).Seconds())
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("malformed").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	if !h.validSignature(body, r.Header.Get(signatureHeader)) {
		metrics.WebhookEvents.WithLabelValues("invalid_signature").Inc()
		h.logger.WarnContext(r.Context(), "Webhook signature mismatch", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
		return
	}

	var event entities.PaymentEvent
	if err = json.Unmarshal(body, &event); err != nil {
		metrics.WebhookEvents.WithLabelValues("malformed").Inc()
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed payload"})
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	_, outcome, err := h.payments.ProcessCryptoWebhook(ctx, event)
	if err != nil {
		outcome = "error"
		if errors.Is(err, entities.ErrNotFound) {
			outcome = "unknown_payment"
		}
		// The transaction has rolled back at this point, so answering 200 leaves no partial state.
		h.logger.ErrorContext(ctx, "Webhook processing failed",
			"external_payment_id", event.ExternalPaymentID,
			"status", event.Status,
			"error", err)
		metrics.WebhookEvents.WithLabelValues(outcome).Inc()
		writeJSON(w, http.StatusOK, webhookResponse{OK: false})
		return
	}

	metrics.WebhookEvents.WithLabelValues(outcome).Inc()
	writeJSON(w, http.StatusOK, webhookResponse{OK: true})
}

// validSignature fails closed when no secret is configured.
func (h *WebhookHandler) validSignature(body []byte, signature string) bool {
	if len(h.ipnSecret) == 0 || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, sign(h.ipnSecret, body))
}

func sign(secret, body []byte) []byte {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
