package handlers

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/usecases"
)

type WalletService interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Deposit(ctx context.Context, userID int64, amount decimal.Decimal, description, referenceID string) (*entities.Wallet, error)
	Transfer(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal, description string) (*entities.Wallet, *entities.Wallet, error)
}

type TransactionService interface {
	GetTransactionsByUser(ctx context.Context, userID int64, limit int) ([]entities.WalletTransaction, error)
	VerifyLedger(ctx context.Context, userID int64) (*usecases.LedgerReport, error)
}

type walletResponse struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

type transferRequest struct {
	FromUserID  int64           `json:"from_user_id"`
	ToUserID    int64           `json:"to_user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type depositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id"`
}

func (h *HTTPHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	balance, err := h.walletService.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{UserID: userID, Balance: balance})
}

func (h *HTTPHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	transactions, err := h.transactionService.GetTransactionsByUser(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if transactions == nil {
		transactions = []entities.WalletTransaction{}
	}
	writeJSON(w, http.StatusOK, transactions)
}

func (h *HTTPHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	fromUserID, ok := h.actingUser(w, r, req.FromUserID)
	if !ok {
		return
	}
	if req.Description == "" {
		req.Description = "Wallet transfer"
	}

	from, to, err := h.walletService.Transfer(r.Context(), fromUserID, req.ToUserID, req.Amount, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]walletResponse{
		"from": {UserID: from.UserID, Balance: from.Balance},
		"to":   {UserID: to.UserID, Balance: to.Balance},
	})
}

func (h *HTTPHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req depositRequest
	if err = decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Description == "" {
		req.Description = "Manual deposit"
	}

	wallet, err := h.walletService.Deposit(r.Context(), userID, req.Amount, req.Description, req.ReferenceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "Manual deposit", "user_id", userID, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, walletResponse{UserID: wallet.UserID, Balance: wallet.Balance})
}

func (h *HTTPHandler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	report, err := h.transactionService.VerifyLedger(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
