package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/events"
	"github.com/sand/digital-marketplace/backend/internal/metrics"
)

type UndeliveredOrderFinder interface {
	UndeliveredOrders(ctx context.Context, grace, horizon time.Duration, limit int) ([]entities.Order, error)
}

type OrderDeliverer interface {
	DeliverOrder(ctx context.Context, orderID string) (*entities.Order, error)
}

type RecoveryConfig struct {
	Interval  time.Duration
	Grace     time.Duration
	Horizon   time.Duration
	BatchSize int
}

// RecoveryResult summarises one recovery pass.
type RecoveryResult struct {
	Found     int
	Delivered int
	Failed    []string
}

// DeliveryRecovery retries file delivery for orders that were paid but never delivered,
// for example because the delivery service was down when the payment landed.
type DeliveryRecovery struct {
	logger    *slog.Logger
	orders    UndeliveredOrderFinder
	deliverer OrderDeliverer
	publisher events.Publisher
	config    RecoveryConfig
}

func NewDeliveryRecovery(
	logger *slog.Logger,
	orders UndeliveredOrderFinder,
	deliverer OrderDeliverer,
	publisher events.Publisher,
	config RecoveryConfig,
) *DeliveryRecovery {
	return &DeliveryRecovery{
		logger:    logger,
		orders:    orders,
		deliverer: deliverer,
		publisher: publisher,
		config:    config,
	}
}

func (dr *DeliveryRecovery) Start(ctx context.Context) {
	dr.logger.Info("Starting delivery recovery worker",
		"interval", dr.config.Interval.String(),
		"grace", dr.config.Grace.String(),
		"horizon", dr.config.Horizon.String())

	if _, err := dr.RunOnce(ctx); err != nil {
		dr.logger.Error("Initial delivery recovery failed", "error", err)
	}

	ticker := time.NewTicker(dr.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dr.logger.Info("Delivery recovery worker stopped")
			return
		case <-ticker.C:
			if _, err := dr.RunOnce(ctx); err != nil {
				dr.logger.Error("Delivery recovery failed", "error", err)
			}
		}
	}
}

// RunOnce delivers one batch. A failing order is logged and skipped; only a failed
// lookup aborts the pass.
func (dr *DeliveryRecovery) RunOnce(ctx context.Context) (*RecoveryResult, error) {
	orders, err := dr.orders.UndeliveredOrders(ctx, dr.config.Grace, dr.config.Horizon, dr.config.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &RecoveryResult{Found: len(orders)}
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		if _, err = dr.deliverer.DeliverOrder(ctx, order.OrderID); err != nil {
			dr.logger.Warn("Recovery delivery failed", "order_id", order.OrderID, "buyer_id", order.BuyerID, "error", err)
			result.Failed = append(result.Failed, order.OrderID)
			continue
		}
		result.Delivered++
	}

	pending := result.Found - result.Delivered
	metrics.RecoveryPending.Set(float64(pending))

	if result.Found == 0 {
		dr.logger.Debug("No undelivered orders")
		return result, nil
	}

	dr.logger.Info("Delivery recovery pass finished",
		"found", result.Found,
		"delivered", result.Delivered,
		"failed", len(result.Failed))

	if pending > 0 && dr.publisher != nil {
		report := events.Event{
			Type:   events.RecoveryReport,
			Key:    "delivery-recovery",
			Status: "undelivered",
			Amount: decimal.Zero,
			Data: map[string]any{
				"found":     result.Found,
				"delivered": result.Delivered,
				"failed":    result.Failed,
			},
			Timestamp: time.Now(),
		}
		if err = dr.publisher.Publish(ctx, report); err != nil {
			dr.logger.Error("Failed to publish recovery report", "error", err)
		}
	}
	return result, nil
}
