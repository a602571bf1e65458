package entities

import "github.com/shopspring/decimal"

// Provider payment statuses the engine reacts to. Anything else is informational.
const (
	ProviderStatusFinished = "finished"
	ProviderStatusFailed   = "failed"
	ProviderStatusExpired  = "expired"
)

// PaymentEvent is a payment provider notification.
type PaymentEvent struct {
	ExternalPaymentID string          `json:"external_payment_id"`
	Status            string          `json:"status"`
	Currency          string          `json:"currency"`
	Amount            decimal.Decimal `json:"amount"`
	Address           string          `json:"address"`
}

// CryptoPayment is what the provider returns when a payment is opened for an order.
type CryptoPayment struct {
	ExternalPaymentID string
	PayAddress        string
	PayCurrency       string
	PayAmount         decimal.Decimal
}
