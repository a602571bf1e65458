package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/events"
	"github.com/sand/digital-marketplace/backend/internal/metrics"
)

// Deliverer hands the purchased file to the buyer.
type Deliverer interface {
	DeliverProduct(ctx context.Context, buyerID int64, orderID, productID, externalPaymentID string) error
}

// Webhook outcomes, also used as metric labels.
const (
	WebhookPaid      = "paid"
	WebhookDuplicate = "duplicate"
	WebhookCancelled = "cancelled"
	WebhookIgnored   = "ignored"

	// WebhookLatePayment marks funds received for a cancelled or refunded order. Nothing is
	// credited, the payment is left for manual reconciliation.
	WebhookLatePayment = "late_payment"
)

// PaymentService settles orders against the wallet ledger. Flipping an order to paid
// and crediting the seller and referrer always happen in one transaction while the
// order row is locked, so a retried payment or a replayed webhook finds the order
// already paid and credits nothing.
type PaymentService struct {
	logger     *slog.Logger
	transactor Transactor
	orders     *OrderService
	wallets    *WalletService
	deliverer  Deliverer
	publisher  EventPublisher
}

func NewPaymentService(
	logger *slog.Logger,
	transactor Transactor,
	orders *OrderService,
	wallets *WalletService,
	deliverer Deliverer,
	publisher EventPublisher,
) *PaymentService {
	return &PaymentService{
		logger:     logger,
		transactor: transactor,
		orders:     orders,
		wallets:    wallets,
		deliverer:  deliverer,
		publisher:  publisher,
	}
}

// ProcessWalletPayment pays a wallet order from the buyer's balance. Paying an order
// that is already paid returns it unchanged.
func (ps *PaymentService) ProcessWalletPayment(ctx context.Context, orderID string) (*entities.Order, error) {
	var (
		order       *entities.Order
		alreadyPaid bool
	)

	err := ps.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		o, err := ps.orders.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.PaymentMethod != entities.PaymentMethodWallet {
			return entities.Validationf("order %s is not payable from the wallet", orderID)
		}
		if o.IsPaid() {
			order, alreadyPaid = o, true
			return nil
		}
		if o.Status != entities.OrderStatusPending {
			return entities.InvalidStatef("order %s is %s and cannot be paid", orderID, o.Status)
		}

		ok, err := ps.wallets.HasSufficientFunds(ctx, o.BuyerID, o.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return entities.InsufficientFundsf("insufficient wallet balance to pay %s for order %s", o.Amount, orderID)
		}

		if _, err = ps.wallets.Withdraw(ctx, o.BuyerID, o.Amount, fmt.Sprintf("Payment for order %s", orderID), orderID); err != nil {
			return err
		}
		if err = ps.orders.MarkOrderPaid(ctx, o, nil); err != nil {
			return err
		}
		if err = ps.DisbursePayouts(ctx, o); err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	if alreadyPaid {
		ps.logger.InfoContext(ctx, "Order already paid", "order_id", orderID, "status", order.Status)
		return order, nil
	}

	ps.logger.InfoContext(ctx, "Order paid from wallet", "order_id", orderID, "buyer_id", order.BuyerID, "amount", order.Amount.String())
	return ps.afterPaid(ctx, order), nil
}

// ProcessCryptoWebhook applies a payment provider notification. It returns the outcome
// label and the affected order, which is nil for ignored statuses.
func (ps *PaymentService) ProcessCryptoWebhook(ctx context.Context, event entities.PaymentEvent) (*entities.Order, string, error) {
	event.ExternalPaymentID = strings.TrimSpace(event.ExternalPaymentID)
	if event.ExternalPaymentID == "" {
		return nil, "", entities.Validationf("external_payment_id is required")
	}

	status := strings.ToLower(event.Status)
	switch status {
	case entities.ProviderStatusFinished, entities.ProviderStatusFailed, entities.ProviderStatusExpired:
	default:
		ps.logger.InfoContext(ctx, "Ignoring provider status", "external_payment_id", event.ExternalPaymentID, "status", event.Status)
		return nil, WebhookIgnored, nil
	}

	var (
		order   *entities.Order
		outcome string
	)
	err := ps.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		o, err := ps.orders.LockOrderByExternalID(ctx, event.ExternalPaymentID)
		if err != nil {
			return err
		}
		order = o

		if status == entities.ProviderStatusFinished {
			if o.IsPaid() {
				outcome = WebhookDuplicate
				return nil
			}
			if o.Status != entities.OrderStatusPending {
				outcome = WebhookLatePayment
				return nil
			}
			if err = ps.orders.MarkOrderPaid(ctx, o, &event); err != nil {
				return err
			}
			if err = ps.DisbursePayouts(ctx, o); err != nil {
				return err
			}
			outcome = WebhookPaid
			return nil
		}

		if o.Status != entities.OrderStatusPending {
			if o.IsPaid() {
				ps.logger.WarnContext(ctx, "Provider reports failure for a paid order",
					"order_id", o.OrderID, "external_payment_id", event.ExternalPaymentID, "status", status)
			}
			outcome = WebhookIgnored
			return nil
		}
		if err = ps.orders.CancelLockedOrder(ctx, o); err != nil {
			return err
		}
		outcome = WebhookCancelled
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	ps.logger.InfoContext(ctx, "Payment notification applied",
		"order_id", order.OrderID,
		"external_payment_id", event.ExternalPaymentID,
		"status", status,
		"outcome", outcome)

	switch outcome {
	case WebhookPaid:
		order = ps.afterPaid(ctx, order)
	case WebhookCancelled:
		ps.publish(ctx, events.NewOrderEvent(events.OrderCancelled, order))
	case WebhookLatePayment:
		ps.logger.ErrorContext(ctx, "Payment received for an order that is no longer payable",
			"order_id", order.OrderID,
			"order_status", order.Status,
			"external_payment_id", event.ExternalPaymentID,
			"amount", event.Amount.String(),
			"currency", event.Currency)
		latePayment := events.NewOrderEvent(events.OrderLatePayment, order)
		latePayment.Data["paid_amount"] = event.Amount.String()
		latePayment.Data["paid_currency"] = event.Currency
		latePayment.Data["external_payment_id"] = event.ExternalPaymentID
		ps.publish(ctx, latePayment)
	}
	return order, outcome, nil
}

// DisbursePayouts credits the seller and the referrer for a paid order. It must run
// in the transaction that flipped the order to paid.
func (ps *PaymentService) DisbursePayouts(ctx context.Context, order *entities.Order) error {
	if !order.IsPaid() {
		return entities.InvalidStatef("cannot disburse unpaid order %s", order.OrderID)
	}

	return ps.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if order.SellerPayout.IsPositive() {
			description := fmt.Sprintf("Sale of product %s (order %s)", order.ProductID, order.OrderID)
			if _, err := ps.wallets.AddCommission(ctx, order.SellerID, order.SellerPayout, description, order.OrderID); err != nil {
				return fmt.Errorf("failed to credit seller: %w", err)
			}
		}
		if order.ReferrerID != nil && order.ReferrerCommission.IsPositive() {
			description := fmt.Sprintf("Referral commission for order %s", order.OrderID)
			if _, err := ps.wallets.AddCommission(ctx, *order.ReferrerID, order.ReferrerCommission, description, order.OrderID); err != nil {
				return fmt.Errorf("failed to credit referrer: %w", err)
			}
		}
		return nil
	})
}

// RefundOrder returns the full amount to the buyer's wallet and claws back the seller
// and referrer credits. It fails as a whole when either has already cashed out.
func (ps *PaymentService) RefundOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	var order *entities.Order
	err := ps.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		o, err := ps.orders.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err = ps.orders.RefundLockedOrder(ctx, o); err != nil {
			return err
		}

		description := fmt.Sprintf("Refund of order %s", orderID)
		if o.SellerPayout.IsPositive() {
			if _, err = ps.wallets.ClawBack(ctx, o.SellerID, o.SellerPayout, description, orderID); err != nil {
				return fmt.Errorf("failed to claw back seller payout: %w", err)
			}
		}
		if o.ReferrerID != nil && o.ReferrerCommission.IsPositive() {
			if _, err = ps.wallets.ClawBack(ctx, *o.ReferrerID, o.ReferrerCommission, description, orderID); err != nil {
				return fmt.Errorf("failed to claw back referrer commission: %w", err)
			}
		}
		if _, err = ps.wallets.Refund(ctx, o.BuyerID, o.Amount, description, orderID); err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	ps.logger.InfoContext(ctx, "Order refunded", "order_id", orderID, "buyer_id", order.BuyerID, "amount", order.Amount.String())
	ps.publish(ctx, events.NewOrderEvent(events.OrderRefunded, order))
	return order, nil
}

// DeliverOrder sends the file of a paid order and completes it. The delivery call runs
// outside any transaction; an order that is already delivered is returned as is.
func (ps *PaymentService) DeliverOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	order, err := ps.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPaid() {
		return nil, entities.InvalidStatef("order %s is %s and cannot be delivered", orderID, order.Status)
	}
	if order.FileDelivered {
		return order, nil
	}

	externalPaymentID := ""
	if order.ExternalPaymentID != nil {
		externalPaymentID = *order.ExternalPaymentID
	}

	if err = ps.deliverer.DeliverProduct(ctx, order.BuyerID, order.OrderID, order.ProductID, externalPaymentID); err != nil {
		metrics.Deliveries.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to deliver order %s: %w", orderID, err)
	}
	metrics.Deliveries.WithLabelValues("delivered").Inc()

	order, err = ps.orders.MarkDelivered(ctx, orderID)
	if err != nil {
		return nil, err
	}

	ps.logger.InfoContext(ctx, "Order delivered", "order_id", orderID, "buyer_id", order.BuyerID)
	ps.publish(ctx, events.NewOrderEvent(events.OrderCompleted, order))
	return order, nil
}

// afterPaid runs once the payment has committed. A failed delivery leaves the order
// paid and undelivered for the recovery job.
func (ps *PaymentService) afterPaid(ctx context.Context, order *entities.Order) *entities.Order {
	ps.publish(ctx, events.NewOrderEvent(events.OrderPaid, order))

	delivered, err := ps.DeliverOrder(ctx, order.OrderID)
	if err != nil {
		ps.logger.ErrorContext(ctx, "Delivery after payment failed, leaving it to recovery", "order_id", order.OrderID, "error", err)
		return order
	}
	return delivered
}

func (ps *PaymentService) publish(ctx context.Context, event events.Event) {
	if err := ps.publisher.Publish(ctx, event); err != nil {
		ps.logger.ErrorContext(ctx, "Failed to publish payment event", "type", event.Type, "key", event.Key, "error", err)
	}
}
