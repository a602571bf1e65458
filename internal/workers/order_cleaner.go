package workers

import (
	"context"
	"log/slog"
	"time"
)

type OrderExpirer interface {
	ExpireStaleOrders(ctx context.Context, olderThan time.Duration) (int, error)
}

// OrderCleaner worker cancels pending orders nobody paid for. Orders are never deleted.
type OrderCleaner struct {
	logger       *slog.Logger
	orderService OrderExpirer

	// Duration after which a pending order is considered abandoned
	expirationDuration time.Duration

	// How often to run the cleanup process
	cleanupInterval time.Duration
}

func NewOrderCleaner(
	logger *slog.Logger,
	orderService OrderExpirer,
	expirationDuration time.Duration,
	cleanupInterval time.Duration,
) *OrderCleaner {
	return &OrderCleaner{
		logger:             logger,
		orderService:       orderService,
		expirationDuration: expirationDuration,
		cleanupInterval:    cleanupInterval,
	}
}

// Start begins the periodic cleanup of stale orders
func (oc *OrderCleaner) Start(ctx context.Context) {
	oc.logger.Info("Starting order cleaner worker",
		"expiration_time", oc.expirationDuration.String(),
		"cleanup_interval", oc.cleanupInterval.String())

	// Run an initial cleanup immediately
	if err := oc.cleanupStaleOrders(ctx); err != nil {
		oc.logger.Error("Initial order cleanup failed", "error", err)
	}

	ticker := time.NewTicker(oc.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			oc.logger.Info("Order cleaner worker stopped")
			return
		case <-ticker.C:
			if err := oc.cleanupStaleOrders(ctx); err != nil {
				oc.logger.Error("Order cleanup failed", "error", err)
			}
		}
	}
}

func (oc *OrderCleaner) cleanupStaleOrders(ctx context.Context) error {
	oc.logger.Debug("Starting cleanup of stale orders", "older_than", oc.expirationDuration.String())

	count, err := oc.orderService.ExpireStaleOrders(ctx, oc.expirationDuration)
	if err != nil {
		return err
	}

	if count > 0 {
		oc.logger.Info("Expired stale orders", "count", count, "older_than", oc.expirationDuration.String())
	} else {
		oc.logger.Debug("No stale orders to expire")
	}

	return nil
}
