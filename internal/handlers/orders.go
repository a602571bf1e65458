package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/usecases"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req usecases.CreateOrderRequest) (*entities.Order, error)
	GetOrder(ctx context.Context, orderID string) (*entities.Order, error)
	CancelOrder(ctx context.Context, orderID string, buyerID int64) (*entities.Order, error)
	RecordDownload(ctx context.Context, orderID string, buyerID int64) (*entities.Order, error)
	GetBuyerOrders(ctx context.Context, buyerID int64, limit int) ([]entities.Order, error)
	GetSellerOrders(ctx context.Context, sellerID int64, limit int) ([]entities.Order, error)
	GetSellerStats(ctx context.Context, sellerID int64) (*entities.SellerStats, error)
}

type PaymentService interface {
	ProcessWalletPayment(ctx context.Context, orderID string) (*entities.Order, error)
	ProcessCryptoWebhook(ctx context.Context, event entities.PaymentEvent) (*entities.Order, string, error)
	RefundOrder(ctx context.Context, orderID string) (*entities.Order, error)
}

type buyerRequest struct {
	BuyerID int64 `json:"buyer_id"`
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req usecases.CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	buyerID, ok := h.actingUser(w, r, req.BuyerID)
	if !ok {
		return
	}
	req.BuyerID = buyerID

	order, err := h.orderService.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.GetOrder(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) PayOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	order, err := h.orderService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, ok := h.actingUser(w, r, order.BuyerID); !ok {
		return
	}

	order, err = h.paymentService.ProcessWalletPayment(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req buyerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	buyerID, ok := h.actingUser(w, r, req.BuyerID)
	if !ok {
		return
	}

	order, err := h.orderService.CancelOrder(r.Context(), mux.Vars(r)["orderId"], buyerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) RecordDownload(w http.ResponseWriter, r *http.Request) {
	var req buyerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	buyerID, ok := h.actingUser(w, r, req.BuyerID)
	if !ok {
		return
	}

	order, err := h.orderService.RecordDownload(r.Context(), mux.Vars(r)["orderId"], buyerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	order, err := h.paymentService.RefundOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "Order refunded by admin", "order_id", orderID)
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) GetBuyerOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, h.orderService.GetBuyerOrders)
}

func (h *HTTPHandler) GetSellerOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, h.orderService.GetSellerOrders)
}

func (h *HTTPHandler) listOrders(w http.ResponseWriter, r *http.Request, list func(context.Context, int64, int) ([]entities.Order, error)) {
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

	orders, err := list(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []entities.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *HTTPHandler) GetSellerStats(w http.ResponseWriter, r *http.Request) {
	sellerID, err := pathUserID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	stats, err := h.orderService.GetSellerStats(r.Context(), sellerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
