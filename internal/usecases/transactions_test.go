package usecases

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/digital-marketplace/backend/internal/entities"
)

func TestLedgerStaysConsistentAcrossOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.deposit(t, buyerID, "120")
	order := env.createOrder(t, entities.PaymentMethodWallet, partnerCode)
	_, err := env.payments.ProcessWalletPayment(ctx, order.OrderID)
	require.NoError(t, err)

	payout, err := env.payouts.CreatePayoutRequest(ctx, sellerID, decimal.NewFromInt(20), "")
	require.NoError(t, err)
	_, err = env.payouts.Cancel(ctx, payout.PayoutID, sellerID)
	require.NoError(t, err)

	_, _, err = env.wallets.Transfer(ctx, buyerID, otherID, decimal.RequireFromString("15.50"), "gift")
	require.NoError(t, err)

	env.requireBalance(t, buyerID, "64.50")
	env.requireBalance(t, sellerID, "34")
	env.requireBalance(t, referrerID, "4")
	env.requireBalance(t, otherID, "15.50")
	env.requireLedgerConsistent(t, buyerID, sellerID, referrerID, otherID)
}

func TestVerifyLedgerDetectsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.deposit(t, buyerID, "10")

	wallet, err := env.store.FindWallet(ctx, buyerID)
	require.NoError(t, err)
	wallet.Balance = decimal.RequireFromString("12")
	require.NoError(t, env.store.UpdateBalance(ctx, wallet))

	report, err := env.transactions.VerifyLedger(ctx, buyerID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	requireDecimal(t, "2", report.Difference)
	requireDecimal(t, "10", report.LedgerSum)
}

func TestTransactionHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for range 5 {
		env.deposit(t, buyerID, "1")
	}
	_, err := env.wallets.Withdraw(ctx, buyerID, decimal.RequireFromString("2"), "cash out", "")
	require.NoError(t, err)

	history, err := env.transactions.GetTransactionsByUser(ctx, buyerID, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, entities.TransactionTypeWithdrawal, history[0].Type)
	requireDecimal(t, "-2", history[0].Amount)

	history, err = env.transactions.GetTransactionsByUser(ctx, buyerID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 6)

	history, err = env.transactions.GetTransactionsByUser(ctx, sellerID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}
