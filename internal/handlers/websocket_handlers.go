package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sand/digital-marketplace/backend/internal/entities"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*entities.Order, error)
}

type WebSocketHandler struct {
	logger           *slog.Logger
	orders           OrderReader
	websocketManager *Manager
}

func NewWebSocketHandler(
	logger *slog.Logger,
	orders OrderReader,
	websocketManager *Manager,
) *WebSocketHandler {
	return &WebSocketHandler{
		logger:           logger,
		orders:           orders,
		websocketManager: websocketManager,
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/orders/{orderId}", h.HandleConnection).Methods("GET")
}

type orderSnapshot struct {
	Type  string          `json:"type"`
	Order *entities.Order `json:"order"`
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	// Check if the order exists
	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "order not found"})
			return
		}
		h.logger.ErrorContext(r.Context(), "Error loading order", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	conn, err := h.websocketManager.Upgrade(w, r)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}

	h.logger.Info("New WebSocket connection", "order_id", orderID)

	if err = h.websocketManager.Subscribe(orderID, conn, orderSnapshot{Type: "order.snapshot", Order: order}); err != nil {
		h.logger.Error("Error adding subscriber", "error", err)
		h.websocketManager.Unsubscribe(orderID, conn)
		return
	}

	// Keep connection open and handle disconnection
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			h.logger.Info("WebSocket connection closed", "order_id", orderID, "error", readErr)
			h.websocketManager.Unsubscribe(orderID, conn)
			return
		}
	}
}
