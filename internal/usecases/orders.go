package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/events"
	"github.com/sand/digital-marketplace/backend/internal/metrics"
	"github.com/sand/digital-marketplace/backend/internal/shared"
)

const staleOrdersBatch = 500

type OrdersRepository interface {
	InsertOrder(ctx context.Context, order *entities.Order) error
	// FindOrder and the Lock variants return nil when the order does not exist.
	FindOrder(ctx context.Context, orderID string) (*entities.Order, error)
	LockOrder(ctx context.Context, orderID string) (*entities.Order, error)
	LockOrderByExternalID(ctx context.Context, externalPaymentID string) (*entities.Order, error)
	UpdateOrderStatus(ctx context.Context, order *entities.Order) error
	UpdateOrderPayment(ctx context.Context, order *entities.Order) error
	UpdateOrderDelivery(ctx context.Context, order *entities.Order) error
	// FindOrdersByBuyer and FindOrdersBySeller return newest first; limit 0 means no limit.
	FindOrdersByBuyer(ctx context.Context, buyerID int64, limit int) ([]entities.Order, error)
	FindOrdersBySeller(ctx context.Context, sellerID int64, limit int) ([]entities.Order, error)
	FindUndeliveredOrders(ctx context.Context, paidAfter, paidBefore time.Time, limit int) ([]entities.Order, error)
	FindStalePendingOrders(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Order, error)
}

type UsersRepository interface {
	// FindUser and FindUserByPartnerCode return nil when nothing matches.
	FindUser(ctx context.Context, userID int64) (*entities.User, error)
	FindUserByPartnerCode(ctx context.Context, partnerCode string) (*entities.User, error)
}

type ProductsRepository interface {
	FindProduct(ctx context.Context, productID string) (*entities.Product, error)
	RecordSale(ctx context.Context, productID string) error
}

// CryptoPaymentProvider opens an on-chain payment for an order.
type CryptoPaymentProvider interface {
	CreatePayment(ctx context.Context, orderID string, amount decimal.Decimal, payCurrency string) (*entities.CryptoPayment, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type CommissionRates struct {
	Platform decimal.Decimal
	Referrer decimal.Decimal
}

func ParseCommissionRates(platform, referrer string) (CommissionRates, error) {
	platformRate, err := decimal.NewFromString(platform)
	if err != nil {
		return CommissionRates{}, fmt.Errorf("invalid platform commission rate %q: %w", platform, err)
	}
	referrerRate, err := decimal.NewFromString(referrer)
	if err != nil {
		return CommissionRates{}, fmt.Errorf("invalid referrer commission rate %q: %w", referrer, err)
	}
	return CommissionRates{Platform: platformRate, Referrer: referrerRate}, nil
}

type CreateOrderRequest struct {
	BuyerID       int64                  `json:"buyer_id"`
	ProductID     string                 `json:"product_id"`
	PaymentMethod entities.PaymentMethod `json:"payment_method"`
	PartnerCode   string                 `json:"partner_code,omitempty"`
	PayCurrency   string                 `json:"pay_currency,omitempty"`
}

// OrderService owns order state transitions. Methods that take an *entities.Order
// expect it to be locked by the caller's transaction.
type OrderService struct {
	logger             *slog.Logger
	transactor         Transactor
	orders             OrdersRepository
	products           ProductsRepository
	users              UsersRepository
	provider           CryptoPaymentProvider
	publisher          EventPublisher
	rates              CommissionRates
	defaultPayCurrency string
	now                func() time.Time
}

// NewOrderService accepts a nil provider; crypto orders are then rejected.
func NewOrderService(
	logger *slog.Logger,
	transactor Transactor,
	orders OrdersRepository,
	products ProductsRepository,
	users UsersRepository,
	provider CryptoPaymentProvider,
	publisher EventPublisher,
	rates CommissionRates,
	defaultPayCurrency string,
) *OrderService {
	return &OrderService{
		logger:             logger,
		transactor:         transactor,
		orders:             orders,
		products:           products,
		users:              users,
		provider:           provider,
		publisher:          publisher,
		rates:              rates,
		defaultPayCurrency: defaultPayCurrency,
		now:                time.Now,
	}
}

func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*entities.Order, error) {
	if !req.PaymentMethod.Valid() {
		return nil, entities.Validationf("unsupported payment method %q", req.PaymentMethod)
	}

	product, err := s.products.FindProduct(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	if product == nil {
		return nil, entities.NotFoundf("product %s not found", req.ProductID)
	}
	if !product.IsAvailable {
		return nil, entities.Validationf("product %s is not available", req.ProductID)
	}

	buyer, err := s.users.FindUser(ctx, req.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find buyer: %w", err)
	}
	if buyer == nil {
		return nil, entities.NotFoundf("user %d not found", req.BuyerID)
	}
	if product.SellerID == buyer.UserID {
		return nil, entities.Validationf("cannot buy your own product")
	}

	order := &entities.Order{
		OrderID:       shared.NewOrderID(),
		BuyerID:       buyer.UserID,
		SellerID:      product.SellerID,
		ProductID:     product.ProductID,
		Amount:        product.Price,
		PaymentMethod: req.PaymentMethod,
		Status:        entities.OrderStatusPending,
		CreatedAt:     s.now(),
	}

	if order.ReferrerID, err = s.resolveReferrer(ctx, req.PartnerCode, order); err != nil {
		return nil, err
	}
	if err = order.CalculateCommissions(s.rates.Platform, s.rates.Referrer); err != nil {
		return nil, err
	}

	// the provider is called before the insert so no transaction waits on the network
	if order.PaymentMethod == entities.PaymentMethodCrypto {
		if err = s.openCryptoPayment(ctx, order, req.PayCurrency); err != nil {
			return nil, err
		}
	}

	if err = s.orders.InsertOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	metrics.OrderTransitions.WithLabelValues(string(order.Status)).Inc()
	s.logger.InfoContext(ctx, "Order created",
		"order_id", order.OrderID,
		"buyer_id", order.BuyerID,
		"product_id", order.ProductID,
		"amount", order.Amount.String(),
		"payment_method", order.PaymentMethod)
	s.publish(ctx, events.NewOrderEvent(events.OrderCreated, order))

	return order, nil
}

// resolveReferrer ignores unknown codes and self-referrals; a bad code never blocks a purchase.
func (s *OrderService) resolveReferrer(ctx context.Context, partnerCode string, order *entities.Order) (*int64, error) {
	partnerCode = strings.TrimSpace(partnerCode)
	if partnerCode == "" {
		return nil, nil
	}

	referrer, err := s.users.FindUserByPartnerCode(ctx, partnerCode)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve partner code: %w", err)
	}
	if referrer == nil {
		s.logger.WarnContext(ctx, "Unknown partner code", "partner_code", partnerCode, "buyer_id", order.BuyerID)
		return nil, nil
	}
	if referrer.UserID == order.BuyerID || referrer.UserID == order.SellerID {
		s.logger.WarnContext(ctx, "Ignoring self referral", "partner_code", partnerCode, "referrer_id", referrer.UserID)
		return nil, nil
	}
	return &referrer.UserID, nil
}

func (s *OrderService) openCryptoPayment(ctx context.Context, order *entities.Order, payCurrency string) error {
	if s.provider == nil {
		return entities.Paymentf("crypto payments are not configured")
	}
	if payCurrency == "" {
		payCurrency = s.defaultPayCurrency
	}

	payment, err := s.provider.CreatePayment(ctx, order.OrderID, order.Amount, payCurrency)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to open crypto payment", "order_id", order.OrderID, "error", err)
		return entities.Paymentf("payment provider is unavailable: %v", err)
	}

	order.ExternalPaymentID = &payment.ExternalPaymentID
	order.PaymentAddress = &payment.PayAddress
	order.CryptoCurrency = &payment.PayCurrency
	order.CryptoAmount = decimal.NewNullDecimal(payment.PayAmount)
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	order, err := s.orders.FindOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	if order == nil {
		return nil, entities.NotFoundf("order %s not found", orderID)
	}
	return order, nil
}

func (s *OrderService) LockOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	order, err := s.orders.LockOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	if order == nil {
		return nil, entities.NotFoundf("order %s not found", orderID)
	}
	return order, nil
}

func (s *OrderService) LockOrderByExternalID(ctx context.Context, externalPaymentID string) (*entities.Order, error) {
	order, err := s.orders.LockOrderByExternalID(ctx, externalPaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	if order == nil {
		return nil, entities.NotFoundf("no order for payment %s", externalPaymentID)
	}
	return order, nil
}

// MarkOrderPaid flips a locked pending order to paid and counts the sale.
// A non-nil payment carries the provider's settlement details.
func (s *OrderService) MarkOrderPaid(ctx context.Context, order *entities.Order, payment *entities.PaymentEvent) error {
	if err := order.MarkPaid(s.now()); err != nil {
		return err
	}

	if payment != nil {
		if payment.Currency != "" {
			order.CryptoCurrency = &payment.Currency
		}
		if payment.Amount.IsPositive() {
			order.CryptoAmount = decimal.NewNullDecimal(payment.Amount)
		}
		if payment.Address != "" {
			order.PaymentAddress = &payment.Address
		}
		if err := s.orders.UpdateOrderPayment(ctx, order); err != nil {
			return fmt.Errorf("failed to update payment details: %w", err)
		}
	}

	if err := s.orders.UpdateOrderStatus(ctx, order); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if err := s.products.RecordSale(ctx, order.ProductID); err != nil {
		return fmt.Errorf("failed to record sale: %w", err)
	}

	metrics.OrderTransitions.WithLabelValues(string(order.Status)).Inc()
	return nil
}

func (s *OrderService) CancelLockedOrder(ctx context.Context, order *entities.Order) error {
	if err := order.Cancel(); err != nil {
		return err
	}
	if err := s.orders.UpdateOrderStatus(ctx, order); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	metrics.OrderTransitions.WithLabelValues(string(order.Status)).Inc()
	return nil
}

func (s *OrderService) RefundLockedOrder(ctx context.Context, order *entities.Order) error {
	if err := order.Refund(); err != nil {
		return err
	}
	if err := s.orders.UpdateOrderStatus(ctx, order); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	metrics.OrderTransitions.WithLabelValues(string(order.Status)).Inc()
	return nil
}

// MarkDelivered records a successful delivery and completes the order.
func (s *OrderService) MarkDelivered(ctx context.Context, orderID string) (*entities.Order, error) {
	var order *entities.Order
	err := s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		o, err := s.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.FileDelivered && o.Status == entities.OrderStatusCompleted {
			order = o
			return nil
		}
		if err = o.MarkDelivered(s.now()); err != nil {
			return err
		}
		if err = s.orders.UpdateOrderDelivery(ctx, o); err != nil {
			return fmt.Errorf("failed to update delivery: %w", err)
		}
		if err = s.orders.UpdateOrderStatus(ctx, o); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		metrics.OrderTransitions.WithLabelValues(string(o.Status)).Inc()
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder is the buyer-initiated cancellation of a pending order.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, buyerID int64) (*entities.Order, error) {
	var order *entities.Order
	err := s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		o, err := s.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return entities.Validationf("order %s does not belong to user %d", orderID, buyerID)
		}
		if err = s.CancelLockedOrder(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Order cancelled by buyer", "order_id", orderID, "buyer_id", buyerID)
	s.publish(ctx, events.NewOrderEvent(events.OrderCancelled, order))
	return order, nil
}

// ExpireOrder cancels an order that is still pending. Orders that moved on are returned untouched.
func (s *OrderService) ExpireOrder(ctx context.Context, orderID string) (*entities.Order, bool, error) {
	var (
		order   *entities.Order
		expired bool
	)
	err := s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		o, err := s.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order = o
		if o.Status != entities.OrderStatusPending {
			return nil
		}
		if err = s.CancelLockedOrder(ctx, o); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if expired {
		s.publish(ctx, events.NewOrderEvent(events.OrderCancelled, order))
	}
	return order, expired, nil
}

// ExpireStaleOrders cancels pending orders created more than olderThan ago. Orders are never deleted.
func (s *OrderService) ExpireStaleOrders(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.orders.FindStalePendingOrders(ctx, s.now().Add(-olderThan), staleOrdersBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale orders: %w", err)
	}

	expired := 0
	for _, order := range stale {
		_, ok, err := s.ExpireOrder(ctx, order.OrderID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to expire order", "order_id", order.OrderID, "error", err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *OrderService) RecordDownload(ctx context.Context, orderID string, buyerID int64) (*entities.Order, error) {
	var order *entities.Order
	err := s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		o, err := s.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return entities.Validationf("order %s does not belong to user %d", orderID, buyerID)
		}
		if err = o.RecordDownload(); err != nil {
			return err
		}
		if err = s.orders.UpdateOrderDelivery(ctx, o); err != nil {
			return fmt.Errorf("failed to record download: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) GetBuyerOrders(ctx context.Context, buyerID int64, limit int) ([]entities.Order, error) {
	orders, err := s.orders.FindOrdersByBuyer(ctx, buyerID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to find buyer orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) GetSellerOrders(ctx context.Context, sellerID int64, limit int) ([]entities.Order, error) {
	orders, err := s.orders.FindOrdersBySeller(ctx, sellerID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to find seller orders: %w", err)
	}
	return orders, nil
}

// GetSellerStats counts paid and completed orders as sold; revenue is the seller's share.
func (s *OrderService) GetSellerStats(ctx context.Context, sellerID int64) (*entities.SellerStats, error) {
	orders, err := s.orders.FindOrdersBySeller(ctx, sellerID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to find seller orders: %w", err)
	}

	stats := &entities.SellerStats{TotalRevenue: decimal.Zero, ConversionRate: decimal.Zero}
	for _, order := range orders {
		stats.TotalOrders++
		switch {
		case order.IsPaid():
			stats.CompletedOrders++
			stats.TotalRevenue = stats.TotalRevenue.Add(order.SellerPayout)
		case order.Status == entities.OrderStatusPending:
			stats.PendingOrders++
		}
	}
	if stats.TotalOrders > 0 {
		stats.ConversionRate = decimal.NewFromInt(int64(stats.CompletedOrders)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(stats.TotalOrders))).
			Round(entities.CurrencyPlaces)
	}
	return stats, nil
}

// UndeliveredOrders lists paid orders without a delivered file whose payment is older
// than grace but newer than horizon, oldest first.
func (s *OrderService) UndeliveredOrders(ctx context.Context, grace, horizon time.Duration, limit int) ([]entities.Order, error) {
	now := s.now()
	orders, err := s.orders.FindUndeliveredOrders(ctx, now.Add(-horizon), now.Add(-grace), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find undelivered orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish order event", "type", event.Type, "order_id", event.Key, "error", err)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return min(limit, MaxHistoryLimit)
}
