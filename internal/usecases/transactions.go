package usecases

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// LedgerReport compares a cached wallet balance with the sum of its ledger entries.
type LedgerReport struct {
	UserID     int64           `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Difference decimal.Decimal `json:"difference"`
	Consistent bool            `json:"consistent"`
}

// TransactionService reads the wallet ledger. It never writes; WalletService does.
type TransactionService struct {
	logger       *slog.Logger
	transactor   Transactor
	wallets      WalletsRepository
	transactions TransactionsRepository
}

func NewTransactionService(logger *slog.Logger, transactor Transactor, wallets WalletsRepository, transactions TransactionsRepository) *TransactionService {
	return &TransactionService{
		logger:       logger,
		transactor:   transactor,
		wallets:      wallets,
		transactions: transactions,
	}
}

// GetTransactionsByUser returns the newest entries first.
func (ts *TransactionService) GetTransactionsByUser(ctx context.Context, userID int64, limit int) ([]entities.WalletTransaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	transactions, err := ts.transactions.FindTransactionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find transactions for user %d: %w", userID, err)
	}
	return transactions, nil
}

func (ts *TransactionService) GetTransactionsByReference(ctx context.Context, referenceID string) ([]entities.WalletTransaction, error) {
	transactions, err := ts.transactions.FindTransactionsByReference(ctx, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find transactions for reference %s: %w", referenceID, err)
	}
	return transactions, nil
}

// VerifyLedger reads the balance and the ledger sum under the wallet lock so no
// concurrent entry can slip in between the two reads.
func (ts *TransactionService) VerifyLedger(ctx context.Context, userID int64) (*LedgerReport, error) {
	report := &LedgerReport{UserID: userID}

	err := ts.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		wallet, err := ts.wallets.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := ts.transactions.SumTransactions(ctx, userID)
		if err != nil {
			return err
		}
		report.Balance = wallet.Balance
		report.LedgerSum = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify ledger for user %d: %w", userID, err)
	}

	report.Difference = report.Balance.Sub(report.LedgerSum)
	report.Consistent = report.Difference.IsZero()
	if !report.Consistent {
		ts.logger.ErrorContext(ctx, "Wallet balance diverges from ledger",
			"user_id", userID,
			"balance", report.Balance.String(),
			"ledger_sum", report.LedgerSum.String())
	}

	return report, nil
}
