package entities

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeCommission TransactionType = "commission"
	TransactionTypePayout     TransactionType = "payout"
	TransactionTypeRefund     TransactionType = "refund"
)

// Debit reports whether entries of this type are stored with a negative amount.
func (t TransactionType) Debit() bool {
	return t == TransactionTypeWithdrawal || t == TransactionTypePayout
}

// WalletTransaction is an immutable ledger entry.
type WalletTransaction struct {
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	UserID        int64           `json:"user_id"        db:"user_id"`
	Type          TransactionType `json:"type"           db:"type"`
	Amount        decimal.Decimal `json:"amount"         db:"amount"`
	Description   string          `json:"description"    db:"description"`
	ReferenceID   *string         `json:"reference_id"   db:"reference_id"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"`
}

func (t *WalletTransaction) Validate() error {
	if t.Amount.IsZero() {
		return Validationf("transaction amount cannot be zero")
	}
	if t.Type.Debit() != t.Amount.IsNegative() {
		return Validationf("transaction of type %s has wrong sign: %s", t.Type, t.Amount.String())
	}
	if strings.TrimSpace(t.Description) == "" {
		return Validationf("transaction description cannot be empty")
	}
	return nil
}
