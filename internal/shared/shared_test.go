package shared

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFormats(t *testing.T) {
	orderID := NewOrderID()
	require.True(t, strings.HasPrefix(orderID, OrderIDPrefix))
	assert.Len(t, orderID, len(OrderIDPrefix)+12)
	assert.Equal(t, strings.ToUpper(orderID), orderID)

	assert.True(t, strings.HasPrefix(NewPayoutID(), PayoutIDPrefix))
	assert.NotEqual(t, NewPayoutID(), NewPayoutID())

	txID := NewTransactionID()
	assert.True(t, strings.HasPrefix(txID, TransactionIDPrefix))
	assert.Len(t, txID, len(TransactionIDPrefix)+26)
}
