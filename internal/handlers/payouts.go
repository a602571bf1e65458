package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
)

type PayoutService interface {
	CreatePayoutRequest(ctx context.Context, sellerID int64, amount decimal.Decimal, address string) (*entities.Payout, error)
	Cancel(ctx context.Context, payoutID string, sellerID int64) (*entities.Payout, error)
	AvailableBalance(ctx context.Context, sellerID int64) (*entities.PayoutBalance, error)
	ListSellerPayouts(ctx context.Context, sellerID int64, limit int) ([]entities.Payout, error)
	ListPending(ctx context.Context, limit int) ([]entities.Payout, error)
	StartProcessing(ctx context.Context, payoutID string) (*entities.Payout, error)
	Complete(ctx context.Context, payoutID, txHash string) (*entities.Payout, error)
	Fail(ctx context.Context, payoutID, reason string) (*entities.Payout, error)
}

type createPayoutRequest struct {
	SellerID int64           `json:"seller_id"`
	Amount   decimal.Decimal `json:"amount"`
	Address  string          `json:"address"`
}

type cancelPayoutRequest struct {
	SellerID int64 `json:"seller_id"`
}

type completePayoutRequest struct {
	TransactionHash string `json:"transaction_hash"`
}

type failPayoutRequest struct {
	Reason string `json:"reason"`
}

func (h *HTTPHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	var req createPayoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	sellerID, ok := h.actingUser(w, r, req.SellerID)
	if !ok {
		return
	}

	payout, err := h.payoutService.CreatePayoutRequest(r.Context(), sellerID, req.Amount, req.Address)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payout)
}

func (h *HTTPHandler) CancelPayout(w http.ResponseWriter, r *http.Request) {
	var req cancelPayoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	sellerID, ok := h.actingUser(w, r, req.SellerID)
	if !ok {
		return
	}

	payout, err := h.payoutService.Cancel(r.Context(), mux.Vars(r)["payoutId"], sellerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

func (h *HTTPHandler) GetSellerPayouts(w http.ResponseWriter, r *http.Request) {
	sellerID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payouts, err := h.payoutService.ListSellerPayouts(r.Context(), sellerID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if payouts == nil {
		payouts = []entities.Payout{}
	}
	writeJSON(w, http.StatusOK, payouts)
}

func (h *HTTPHandler) GetAvailableBalance(w http.ResponseWriter, r *http.Request) {
	sellerID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	balance, err := h.payoutService.AvailableBalance(r.Context(), sellerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *HTTPHandler) GetPendingPayouts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payouts, err := h.payoutService.ListPending(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if payouts == nil {
		payouts = []entities.Payout{}
	}
	writeJSON(w, http.StatusOK, payouts)
}

func (h *HTTPHandler) StartPayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.payoutService.StartProcessing(r.Context(), mux.Vars(r)["payoutId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

func (h *HTTPHandler) CompletePayout(w http.ResponseWriter, r *http.Request) {
	var req completePayoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	payout, err := h.payoutService.Complete(r.Context(), mux.Vars(r)["payoutId"], req.TransactionHash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

func (h *HTTPHandler) FailPayout(w http.ResponseWriter, r *http.Request) {
	var req failPayoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	payout, err := h.payoutService.Fail(r.Context(), mux.Vars(r)["payoutId"], req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}
