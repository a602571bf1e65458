package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/metrics"
)

type Type string

const (
	OrderCreated   Type = "order.created"
	OrderPaid      Type = "order.paid"
	OrderCompleted Type = "order.completed"
	OrderCancelled Type = "order.cancelled"
	OrderRefunded  Type = "order.refunded"

	// OrderLatePayment reports provider funds that arrived for an order that is no longer payable.
	OrderLatePayment Type = "order.late_payment"

	PayoutRequested  Type = "payout.requested"
	PayoutProcessing Type = "payout.processing"
	PayoutCompleted  Type = "payout.completed"
	PayoutFailed     Type = "payout.failed"
	PayoutCancelled  Type = "payout.cancelled"

	RecoveryReport Type = "delivery.recovery_report"
)

// Event is a domain notification emitted after the unit of work that caused it has committed.
type Event struct {
	Type      Type            `json:"type"`
	Key       string          `json:"key"`
	UserID    int64           `json:"user_id,omitempty"`
	Status    string          `json:"status,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Data      map[string]any  `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e Event) IsOrderEvent() bool {
	switch e.Type {
	case OrderCreated, OrderPaid, OrderCompleted, OrderCancelled, OrderRefunded, OrderLatePayment:
		return true
	}
	return false
}

func (e Event) Marshal() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.Type, err)
	}
	return payload, nil
}

func NewOrderEvent(t Type, order *entities.Order) Event {
	return Event{
		Type:   t,
		Key:    order.OrderID,
		UserID: order.BuyerID,
		Status: string(order.Status),
		Amount: order.Amount,
		Data: map[string]any{
			"seller_id":      order.SellerID,
			"product_id":     order.ProductID,
			"payment_method": order.PaymentMethod,
			"file_delivered": order.FileDelivered,
		},
		Timestamp: time.Now(),
	}
}

func NewPayoutEvent(t Type, payout *entities.Payout) Event {
	data := map[string]any{"destination_address": payout.DestinationAddress}
	if payout.TransactionHash != nil {
		data["transaction_hash"] = *payout.TransactionHash
	}
	if payout.FailureReason != nil {
		data["failure_reason"] = *payout.FailureReason
	}
	return Event{
		Type:      t,
		Key:       payout.PayoutID,
		UserID:    payout.SellerID,
		Status:    string(payout.Status),
		Amount:    payout.Amount,
		Data:      data,
		Timestamp: time.Now(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to the service log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "domain event", "type", event.Type, "key", event.Key, "status", event.Status, "amount", event.Amount.String())
	return nil
}

type sink struct {
	name      string
	publisher Publisher
}

// Multi fans an event out to every sink. A failing sink does not stop the others.
type Multi struct {
	logger *slog.Logger
	sinks  []sink
}

func NewMulti(logger *slog.Logger) *Multi {
	return &Multi{logger: logger}
}

func (m *Multi) Add(name string, publisher Publisher) *Multi {
	m.sinks = append(m.sinks, sink{name: name, publisher: publisher})
	return m
}

func (m *Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.publisher.Publish(ctx, event); err != nil {
			metrics.EventPublishErrors.WithLabelValues(s.name).Inc()
			m.logger.ErrorContext(ctx, "failed to publish event", "sink", s.name, "type", event.Type, "key", event.Key, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
