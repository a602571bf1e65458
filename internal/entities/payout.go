package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

// Payout is a seller's request to cash out wallet funds to an external address.
type Payout struct {
	PayoutID           string          `json:"payout_id"`
	SellerID           int64           `json:"seller_id"`
	Amount             decimal.Decimal `json:"amount"`
	DestinationAddress string          `json:"destination_address"`
	Status             PayoutStatus    `json:"status"`
	TransactionHash    *string         `json:"transaction_hash,omitempty"`
	FailureReason      *string         `json:"failure_reason,omitempty"`
	RequestedAt        time.Time       `json:"requested_at"`
	ProcessingAt       *time.Time      `json:"processing_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// Outstanding payouts still hold reserved funds that may come back to the wallet.
func (p *Payout) Outstanding() bool {
	return p.Status == PayoutStatusPending || p.Status == PayoutStatusProcessing
}

func (p *Payout) CanBeCancelled() bool {
	return p.Status == PayoutStatusPending || p.Status == PayoutStatusFailed
}

func (p *Payout) StartProcessing(now time.Time) error {
	if p.Status != PayoutStatusPending {
		return InvalidStatef("cannot process payout %s with status %s", p.PayoutID, p.Status)
	}
	p.Status = PayoutStatusProcessing
	p.ProcessingAt = &now
	p.FailureReason = nil
	return nil
}

func (p *Payout) Complete(txHash string, now time.Time) error {
	if p.Status != PayoutStatusProcessing {
		return InvalidStatef("cannot complete payout %s with status %s", p.PayoutID, p.Status)
	}
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return Validationf("transaction hash is required for completion")
	}
	p.Status = PayoutStatusCompleted
	p.TransactionHash = &txHash
	p.CompletedAt = &now
	p.FailureReason = nil
	return nil
}

// Fail does not release the reserved funds; only Cancel does.
func (p *Payout) Fail(reason string) error {
	if !p.Outstanding() {
		return InvalidStatef("cannot fail payout %s with status %s", p.PayoutID, p.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Validationf("failure reason is required")
	}
	p.Status = PayoutStatusFailed
	p.FailureReason = &reason
	p.TransactionHash = nil
	return nil
}

func (p *Payout) Cancel() error {
	if !p.CanBeCancelled() {
		return InvalidStatef("cannot cancel payout %s with status %s", p.PayoutID, p.Status)
	}
	reason := "cancelled by seller"
	p.Status = PayoutStatusCancelled
	p.FailureReason = &reason
	p.TransactionHash = nil
	return nil
}

// PayoutBalance is what a seller can still request. Requested payouts are debited from
// Balance at once and stay in Outstanding until they settle; Available subtracts them
// again, so funds behind an open request are locked twice until it completes or is cancelled.
type PayoutBalance struct {
	SellerID    int64           `json:"seller_id"`
	Balance     decimal.Decimal `json:"balance"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Available   decimal.Decimal `json:"available"`
}

func NewPayoutBalance(sellerID int64, balance, outstanding decimal.Decimal) PayoutBalance {
	return PayoutBalance{
		SellerID:    sellerID,
		Balance:     balance,
		Outstanding: outstanding,
		Available:   decimal.Max(balance.Sub(outstanding), decimal.Zero),
	}
}

// Explain renders the balance for error messages.
func (b PayoutBalance) Explain() string {
	return fmt.Sprintf("available %s (balance %s minus outstanding payouts %s)",
		b.Available.StringFixed(CurrencyPlaces),
		b.Balance.StringFixed(CurrencyPlaces),
		b.Outstanding.StringFixed(CurrencyPlaces))
}
