package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/metrics"
	"github.com/sand/digital-marketplace/backend/internal/shared"
)

// Transactor runs txFunc in a database transaction carried by ctx. Calls made with a ctx
// that already carries a transaction join it.
type Transactor interface {
	WithinTransaction(ctx context.Context, txFunc func(ctx context.Context) error) error
}

type WalletsRepository interface {
	// FindWallet returns nil when the user has no wallet yet.
	FindWallet(ctx context.Context, userID int64) (*entities.Wallet, error)
	// LockWallet creates the wallet if needed and locks its row until the transaction ends.
	LockWallet(ctx context.Context, userID int64) (*entities.Wallet, error)
	UpdateBalance(ctx context.Context, wallet *entities.Wallet) error
}

type TransactionsRepository interface {
	InsertTransaction(ctx context.Context, transaction *entities.WalletTransaction) error
	FindTransactionsByUser(ctx context.Context, userID int64, limit int) ([]entities.WalletTransaction, error)
	FindTransactionsByReference(ctx context.Context, referenceID string) ([]entities.WalletTransaction, error)
	SumTransactions(ctx context.Context, userID int64) (decimal.Decimal, error)
}

// WalletService is the only writer of wallet balances. Every balance change goes
// through apply, which appends the matching ledger entry in the same transaction.
type WalletService struct {
	logger       *slog.Logger
	transactor   Transactor
	wallets      WalletsRepository
	transactions TransactionsRepository
	now          func() time.Time
}

func NewWalletService(logger *slog.Logger, transactor Transactor, wallets WalletsRepository, transactions TransactionsRepository) *WalletService {
	return &WalletService{
		logger:       logger,
		transactor:   transactor,
		wallets:      wallets,
		transactions: transactions,
		now:          time.Now,
	}
}

func (ws *WalletService) GetOrCreateWallet(ctx context.Context, userID int64) (*entities.Wallet, error) {
	var wallet *entities.Wallet
	err := ws.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		wallet, err = ws.wallets.LockWallet(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet for user %d: %w", userID, err)
	}
	return wallet, nil
}

func (ws *WalletService) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	wallet, err := ws.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

// HasSufficientFunds is advisory only. Withdraw re-checks under the row lock.
func (ws *WalletService) HasSufficientFunds(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	wallet, err := ws.wallets.FindWallet(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to find wallet for user %d: %w", userID, err)
	}
	if wallet == nil {
		return !amount.IsPositive(), nil
	}
	return wallet.HasSufficientFunds(amount), nil
}

func (ws *WalletService) Deposit(ctx context.Context, userID int64, amount decimal.Decimal, description, referenceID string) (*entities.Wallet, error) {
	return ws.apply(ctx, userID, entities.TransactionTypeDeposit, amount, description, referenceID)
}

func (ws *WalletService) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, description, referenceID string) (*entities.Wallet, error) {
	return ws.apply(ctx, userID, entities.TransactionTypeWithdrawal, amount, description, referenceID)
}

func (ws *WalletService) AddCommission(ctx context.Context, userID int64, amount decimal.Decimal, description, referenceID string) (*entities.Wallet, error) {
	return ws.apply(ctx, userID, entities.TransactionTypeCommission, amount, description, referenceID)
}

// ReservePayout debits the wallet for a payout request.
func (ws *WalletService) ReservePayout(ctx context.Context, userID int64, amount decimal.Decimal, description, referenceID string) (*entities.Wallet, error) {
	return ws.apply(ctx, userID, entities.TransactionTypePayout, amount, description, referenceID)
}

// Refund credits the wallet back, for cancelled payouts and refunded orders.
func (ws *WalletService) Refund(ctx context.Context, userID int64, amount decimal.Decimal, description, referenceID string) (*entities.Wallet, error) {
	return ws.apply(ctx, userID, entities.TransactionTypeRefund, amount, description, referenceID)
}

// ClawBack debits a previously credited commission when its order is refunded.
func (ws *WalletService) ClawBack(ctx context.Context, userID int64, amount decimal.Decimal, description, referenceID string) (*entities.Wallet, error) {
	return ws.apply(ctx, userID, entities.TransactionTypeWithdrawal, amount, description, referenceID)
}

// Transfer moves funds between two wallets atomically.
func (ws *WalletService) Transfer(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal, description string) (from, to *entities.Wallet, err error) {
	if fromUserID == toUserID {
		return nil, nil, entities.Validationf("cannot transfer to the same wallet")
	}
	if !amount.IsPositive() {
		return nil, nil, entities.Validationf("transfer amount must be positive, got %s", amount)
	}
	if description == "" {
		description = "transfer"
	}

	err = ws.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		// lock in ascending user id order so opposite transfers cannot deadlock
		for _, userID := range []int64{min(fromUserID, toUserID), max(fromUserID, toUserID)} {
			if _, err := ws.wallets.LockWallet(ctx, userID); err != nil {
				return err
			}
		}

		var err error
		from, err = ws.Withdraw(ctx, fromUserID, amount, fmt.Sprintf("Transfer to user %d: %s", toUserID, description), "")
		if err != nil {
			return err
		}
		to, err = ws.Deposit(ctx, toUserID, amount, fmt.Sprintf("Transfer from user %d: %s", fromUserID, description), "")
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	ws.logger.InfoContext(ctx, "Funds transferred", "from", fromUserID, "to", toUserID, "amount", amount.String())
	return from, to, nil
}

func (ws *WalletService) apply(ctx context.Context, userID int64, txType entities.TransactionType, amount decimal.Decimal, description, referenceID string) (*entities.Wallet, error) {
	if !amount.IsPositive() {
		return nil, entities.Validationf("%s amount must be positive, got %s", txType, amount)
	}

	signed := amount
	if txType.Debit() {
		signed = amount.Neg()
	}

	var wallet *entities.Wallet
	err := ws.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		w, err := ws.wallets.LockWallet(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock wallet: %w", err)
		}

		now := ws.now()
		if err = w.Apply(signed, now); err != nil {
			return err
		}

		transaction := &entities.WalletTransaction{
			TransactionID: shared.NewTransactionID(),
			UserID:        userID,
			Type:          txType,
			Amount:        signed,
			Description:   description,
			ReferenceID:   optional(referenceID),
			CreatedAt:     now,
		}
		if err = transaction.Validate(); err != nil {
			return err
		}

		if err = ws.transactions.InsertTransaction(ctx, transaction); err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		if err = ws.wallets.UpdateBalance(ctx, w); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.LedgerEntries.WithLabelValues(string(txType)).Inc()
	ws.logger.DebugContext(ctx, "Ledger entry written",
		"user_id", userID,
		"type", txType,
		"amount", signed.String(),
		"balance", wallet.Balance.String(),
		"reference_id", referenceID)

	return wallet, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
