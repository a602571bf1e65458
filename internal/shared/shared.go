package shared

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	OrderIDPrefix       = "ORD_"
	PayoutIDPrefix      = "PAY_"
	TransactionIDPrefix = "TXN_"
)

// NewOrderID returns ids like ORD_1A2B3C4D5E6F.
func NewOrderID() string {
	return OrderIDPrefix + shortID()
}

func NewPayoutID() string {
	return PayoutIDPrefix + shortID()
}

// NewTransactionID returns a time-sortable ledger entry id.
func NewTransactionID() string {
	return TransactionIDPrefix + ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
