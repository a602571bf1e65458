package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodCrypto PaymentMethod = "crypto"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodWallet || m == PaymentMethodCrypto
}

// CurrencyPlaces is the precision every fiat amount is rounded to.
const CurrencyPlaces = 2

// Order is one purchase attempt of one product by one buyer.
type Order struct {
	OrderID            string              `json:"order_id"`
	BuyerID            int64               `json:"buyer_id"`
	SellerID           int64               `json:"seller_id"`
	ProductID          string              `json:"product_id"`
	Amount             decimal.Decimal     `json:"amount"`
	PaymentMethod      PaymentMethod       `json:"payment_method"`
	Status             OrderStatus         `json:"status"`
	ExternalPaymentID  *string             `json:"external_payment_id,omitempty"`
	CryptoCurrency     *string             `json:"crypto_currency,omitempty"`
	CryptoAmount       decimal.NullDecimal `json:"crypto_amount"`
	PaymentAddress     *string             `json:"payment_address,omitempty"`
	PlatformCommission decimal.Decimal     `json:"platform_commission"`
	SellerPayout       decimal.Decimal     `json:"seller_payout"`
	ReferrerCommission decimal.Decimal     `json:"referrer_commission"`
	ReferrerID         *int64              `json:"referrer_id,omitempty"`
	DownloadCount      int                 `json:"download_count"`
	FileDelivered      bool                `json:"file_delivered"`
	DeliveredAt        *time.Time          `json:"delivered_at,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	PaidAt             *time.Time          `json:"paid_at,omitempty"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

// IsPaid reports whether money for the order has been received.
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusCompleted
}

func (o *Order) CanDownload() bool {
	return o.IsPaid()
}

func (o *Order) MarkPaid(now time.Time) error {
	if o.Status != OrderStatusPending {
		return InvalidStatef("cannot mark order %s as paid from status %s", o.OrderID, o.Status)
	}
	o.Status = OrderStatusPaid
	o.PaidAt = &now
	return nil
}

func (o *Order) MarkCompleted(now time.Time) error {
	if !o.IsPaid() {
		return InvalidStatef("order %s must be paid before completion", o.OrderID)
	}
	o.Status = OrderStatusCompleted
	if o.CompletedAt == nil {
		o.CompletedAt = &now
	}
	return nil
}

func (o *Order) Cancel() error {
	if o.IsPaid() {
		return InvalidStatef("cannot cancel paid order %s", o.OrderID)
	}
	if o.Status != OrderStatusPending {
		return InvalidStatef("cannot cancel order %s from status %s", o.OrderID, o.Status)
	}
	o.Status = OrderStatusCancelled
	return nil
}

// Refund only flips the status. Reversing ledger entries is up to the caller.
func (o *Order) Refund() error {
	if !o.IsPaid() {
		return InvalidStatef("cannot refund unpaid order %s", o.OrderID)
	}
	o.Status = OrderStatusRefunded
	return nil
}

// MarkDelivered records a successful file delivery and completes the order.
func (o *Order) MarkDelivered(now time.Time) error {
	if !o.IsPaid() {
		return InvalidStatef("order %s must be paid before delivery", o.OrderID)
	}
	if !o.FileDelivered {
		o.FileDelivered = true
		o.DeliveredAt = &now
	}
	return o.MarkCompleted(now)
}

func (o *Order) RecordDownload() error {
	if !o.CanDownload() {
		return InvalidStatef("order %s must be paid to download", o.OrderID)
	}
	o.DownloadCount++
	return nil
}

// CalculateCommissions splits Amount into platform, referrer and seller parts.
// Platform and referrer parts are rounded half away from zero to CurrencyPlaces;
// the seller gets the exact remainder so the three parts always add up to Amount.
// A zero referrerRate or a missing referrer yields no referrer commission.
func (o *Order) CalculateCommissions(platformRate, referrerRate decimal.Decimal) error {
	if o.Status != OrderStatusPending {
		return InvalidStatef("commissions of order %s are frozen in status %s", o.OrderID, o.Status)
	}
	if !o.Amount.IsPositive() {
		return Validationf("order amount must be positive")
	}
	if err := validateRate("platform", platformRate); err != nil {
		return err
	}
	if err := validateRate("referrer", referrerRate); err != nil {
		return err
	}
	if platformRate.Add(referrerRate).GreaterThan(decimal.NewFromInt(1)) {
		return Validationf("platform and referrer rates exceed 100%%")
	}

	o.PlatformCommission = o.Amount.Mul(platformRate).Round(CurrencyPlaces)
	o.ReferrerCommission = decimal.Zero
	if o.ReferrerID != nil && referrerRate.IsPositive() {
		o.ReferrerCommission = o.Amount.Mul(referrerRate).Round(CurrencyPlaces)
	}
	o.SellerPayout = o.Amount.Sub(o.PlatformCommission).Sub(o.ReferrerCommission)

	return nil
}

func validateRate(name string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return Validationf("%s rate %s must be between 0 and 1", name, rate.String())
	}
	return nil
}
