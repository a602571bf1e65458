package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sand/digital-marketplace/backend/internal/auth"
	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/ratelimit"
	"github.com/sand/digital-marketplace/backend/internal/usecases"
)

var (
	_ OrderService       = (*usecases.OrderService)(nil)
	_ PaymentService     = (*usecases.PaymentService)(nil)
	_ WalletService      = (*usecases.WalletService)(nil)
	_ TransactionService = (*usecases.TransactionService)(nil)
	_ PayoutService      = (*usecases.PayoutService)(nil)
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPHandler struct {
	logger             *slog.Logger
	orderService       OrderService
	paymentService     PaymentService
	walletService      WalletService
	transactionService TransactionService
	payoutService      PayoutService
	pinger             Pinger

	adminToken     string
	tokens         *auth.Tokens
	trustedProxies []netip.Prefix
	limiter        ratelimit.Limiter
}

// Access holds what the API checks before it lets a request through.
type Access struct {
	AdminToken     string
	Tokens         *auth.Tokens
	TrustedProxies []netip.Prefix
}

// NewHTTPHandler accepts a nil limiter, which disables rate limiting. An empty admin
// token locks the admin routes, missing user tokens lock the user routes.
func NewHTTPHandler(
	logger *slog.Logger,
	orderService OrderService,
	paymentService PaymentService,
	walletService WalletService,
	transactionService TransactionService,
	payoutService PayoutService,
	pinger Pinger,
	access Access,
	limiter ratelimit.Limiter,
) *HTTPHandler {
	return &HTTPHandler{
		logger:             logger,
		orderService:       orderService,
		paymentService:     paymentService,
		walletService:      walletService,
		transactionService: transactionService,
		payoutService:      payoutService,
		pinger:             pinger,
		adminToken:         access.AdminToken,
		tokens:             access.Tokens,
		trustedProxies:     access.TrustedProxies,
		limiter:            limiter,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.NewRoute().Subrouter()
	if h.limiter != nil {
		api.Use(h.rateLimit)
	}

	// Orders
	api.Handle("/orders", h.authenticated(h.CreateOrder)).Methods("POST")
	api.HandleFunc("/orders/{orderId}", h.GetOrder).Methods("GET")
	api.Handle("/orders/{orderId}/pay", h.authenticated(h.PayOrder)).Methods("POST")
	api.Handle("/orders/{orderId}/cancel", h.authenticated(h.CancelOrder)).Methods("POST")
	api.Handle("/orders/{orderId}/download", h.authenticated(h.RecordDownload)).Methods("POST")
	api.HandleFunc("/buyers/{userId:[0-9]+}/orders", h.GetBuyerOrders).Methods("GET")
	api.HandleFunc("/sellers/{userId:[0-9]+}/orders", h.GetSellerOrders).Methods("GET")
	api.HandleFunc("/sellers/{userId:[0-9]+}/stats", h.GetSellerStats).Methods("GET")

	// Wallets
	api.Handle("/wallets/transfer", h.authenticated(h.Transfer)).Methods("POST")
	api.HandleFunc("/wallets/{userId:[0-9]+}", h.GetWallet).Methods("GET")
	api.HandleFunc("/wallets/{userId:[0-9]+}/transactions", h.GetTransactions).Methods("GET")

	// Payouts
	api.Handle("/payouts", h.authenticated(h.CreatePayout)).Methods("POST")
	api.Handle("/payouts/{payoutId}/cancel", h.authenticated(h.CancelPayout)).Methods("POST")
	api.HandleFunc("/sellers/{userId:[0-9]+}/payouts", h.GetSellerPayouts).Methods("GET")
	api.HandleFunc("/sellers/{userId:[0-9]+}/available-balance", h.GetAvailableBalance).Methods("GET")

	// Admin
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(h.adminOnly)
	admin.HandleFunc("/orders/{orderId}/refund", h.RefundOrder).Methods("POST")
	admin.HandleFunc("/payouts/pending", h.GetPendingPayouts).Methods("GET")
	admin.HandleFunc("/payouts/{payoutId}/start", h.StartPayout).Methods("POST")
	admin.HandleFunc("/payouts/{payoutId}/complete", h.CompletePayout).Methods("POST")
	admin.HandleFunc("/payouts/{payoutId}/fail", h.FailPayout).Methods("POST")
	admin.HandleFunc("/wallets/{userId:[0-9]+}/deposit", h.Deposit).Methods("POST")
	admin.HandleFunc("/wallets/{userId:[0-9]+}/verify", h.VerifyLedger).Methods("GET")
	admin.HandleFunc("/users/{userId:[0-9]+}/token", h.IssueToken).Methods("POST")
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.ErrorContext(r.Context(), "Health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
	Retry string `json:"retry,omitempty"`
}

// writeError maps error kinds to status codes. Only validation and business errors
// reach the client verbatim; anything else is logged and hidden.
func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *entities.Error
	message := err.Error()
	if errors.As(err, &domainErr) {
		message = domainErr.Msg
	}

	switch {
	case errors.Is(err, entities.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: message})
	case errors.Is(err, entities.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: message})
	case errors.Is(err, entities.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorResponse{Error: message})
	case errors.Is(err, entities.ErrInsufficientFunds):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: message, Retry: "top up the wallet and retry"})
	case errors.Is(err, entities.ErrPayment):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: message, Retry: "retry in a few minutes"})
	default:
		h.logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return entities.Validationf("invalid request body: %v", err)
	}
	return nil
}

func pathUserID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["userId"]
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, entities.Validationf("invalid user id %q", raw)
	}
	return userID, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, entities.Validationf("invalid limit %q", raw)
	}
	return limit, nil
}
