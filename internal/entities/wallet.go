package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the internal custodial balance of one user.
type Wallet struct {
	UserID    int64           `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (w *Wallet) HasSufficientFunds(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// Apply adds a signed amount to the balance. The balance never goes below zero.
func (w *Wallet) Apply(amount decimal.Decimal, now time.Time) error {
	next := w.Balance.Add(amount)
	if next.IsNegative() {
		return InsufficientFundsf("insufficient funds: balance %s, required %s",
			w.Balance.StringFixed(CurrencyPlaces), amount.Neg().StringFixed(CurrencyPlaces))
	}
	w.Balance = next
	w.UpdatedAt = now
	return nil
}
