package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	amlentities "github.com/sand/digital-marketplace/backend/internal/aml/entities"
	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/events"
	"github.com/sand/digital-marketplace/backend/internal/metrics"
	"github.com/sand/digital-marketplace/backend/internal/shared"
)

type PayoutsRepository interface {
	InsertPayout(ctx context.Context, payout *entities.Payout) error
	// FindPayout and LockPayout return nil when the payout does not exist.
	FindPayout(ctx context.Context, payoutID string) (*entities.Payout, error)
	LockPayout(ctx context.Context, payoutID string) (*entities.Payout, error)
	UpdatePayout(ctx context.Context, payout *entities.Payout) error
	FindPayoutsBySeller(ctx context.Context, sellerID int64, limit int) ([]entities.Payout, error)
	// FindPayoutsByStatus returns the oldest requests first.
	FindPayoutsByStatus(ctx context.Context, status entities.PayoutStatus, limit int) ([]entities.Payout, error)
	SumOutstandingPayouts(ctx context.Context, sellerID int64) (decimal.Decimal, error)
}

type PayoutScreener interface {
	ScreenPayout(ctx context.Context, sellerID int64, address string, amount decimal.Decimal) (*amlentities.ScreeningResult, error)
}

// PayoutService runs the seller cash-out workflow. Funds are reserved from the wallet
// when the request is created and only come back through Cancel.
type PayoutService struct {
	logger     *slog.Logger
	transactor Transactor
	payouts    PayoutsRepository
	users      UsersRepository
	wallets    *WalletService
	screener   PayoutScreener
	publisher  EventPublisher
	minPayout  decimal.Decimal
	now        func() time.Time
}

// NewPayoutService accepts a nil screener, which skips destination screening.
func NewPayoutService(
	logger *slog.Logger,
	transactor Transactor,
	payouts PayoutsRepository,
	users UsersRepository,
	wallets *WalletService,
	screener PayoutScreener,
	publisher EventPublisher,
	minPayout decimal.Decimal,
) *PayoutService {
	return &PayoutService{
		logger:     logger,
		transactor: transactor,
		payouts:    payouts,
		users:      users,
		wallets:    wallets,
		screener:   screener,
		publisher:  publisher,
		minPayout:  minPayout,
		now:        time.Now,
	}
}

func (ps *PayoutService) CreatePayoutRequest(ctx context.Context, sellerID int64, amount decimal.Decimal, address string) (*entities.Payout, error) {
	seller, err := ps.users.FindUser(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find seller: %w", err)
	}
	if seller == nil {
		return nil, entities.NotFoundf("user %d not found", sellerID)
	}
	if !seller.IsSeller {
		return nil, entities.Validationf("user %d is not a seller", sellerID)
	}

	if !amount.IsPositive() {
		return nil, entities.Validationf("payout amount must be positive")
	}
	if amount.LessThan(ps.minPayout) {
		return nil, entities.Validationf("minimum payout amount is %s", ps.minPayout)
	}
	if !amount.Equal(amount.Round(entities.CurrencyPlaces)) {
		return nil, entities.Validationf("payout amount %s has more than %d decimal places", amount, entities.CurrencyPlaces)
	}

	address = strings.TrimSpace(address)
	if address == "" && seller.PayoutAddress != nil {
		address = *seller.PayoutAddress
	}
	if address == "" {
		return nil, entities.Validationf("payout address is required")
	}
	network, err := ValidatePayoutAddress(address)
	if err != nil {
		return nil, err
	}

	if ps.screener != nil {
		result, err := ps.screener.ScreenPayout(ctx, sellerID, address, amount)
		if err != nil {
			return nil, fmt.Errorf("failed to screen payout destination: %w", err)
		}
		if !result.Approved {
			return nil, entities.Validationf("payout destination was rejected by compliance screening")
		}
	}

	payout := &entities.Payout{
		PayoutID:           shared.NewPayoutID(),
		SellerID:           sellerID,
		Amount:             amount,
		DestinationAddress: address,
		Status:             entities.PayoutStatusPending,
		RequestedAt:        ps.now(),
	}

	err = ps.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		// the wallet lock serialises concurrent requests of the same seller
		wallet, err := ps.wallets.GetOrCreateWallet(ctx, sellerID)
		if err != nil {
			return err
		}
		outstanding, err := ps.payouts.SumOutstandingPayouts(ctx, sellerID)
		if err != nil {
			return fmt.Errorf("failed to sum outstanding payouts: %w", err)
		}

		balance := entities.NewPayoutBalance(sellerID, wallet.Balance, outstanding)
		if balance.Available.LessThan(amount) {
			return entities.InsufficientFundsf("requested %s exceeds %s", amount, balance.Explain())
		}

		if err = ps.payouts.InsertPayout(ctx, payout); err != nil {
			return fmt.Errorf("failed to insert payout: %w", err)
		}
		description := fmt.Sprintf("Payout %s to %s", payout.PayoutID, address)
		_, err = ps.wallets.ReservePayout(ctx, sellerID, amount, description, payout.PayoutID)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.PayoutTransitions.WithLabelValues(string(payout.Status)).Inc()
	ps.logger.InfoContext(ctx, "Payout requested",
		"payout_id", payout.PayoutID,
		"seller_id", sellerID,
		"amount", amount.String(),
		"network", network)
	ps.publish(ctx, events.NewPayoutEvent(events.PayoutRequested, payout))

	return payout, nil
}

// AvailableBalance is the wallet balance minus outstanding payouts, never below zero.
func (ps *PayoutService) AvailableBalance(ctx context.Context, sellerID int64) (*entities.PayoutBalance, error) {
	balance, err := ps.wallets.GetBalance(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	outstanding, err := ps.payouts.SumOutstandingPayouts(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum outstanding payouts: %w", err)
	}
	available := entities.NewPayoutBalance(sellerID, balance, outstanding)
	return &available, nil
}

func (ps *PayoutService) GetPayout(ctx context.Context, payoutID string) (*entities.Payout, error) {
	payout, err := ps.payouts.FindPayout(ctx, payoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to find payout: %w", err)
	}
	if payout == nil {
		return nil, entities.NotFoundf("payout %s not found", payoutID)
	}
	return payout, nil
}

func (ps *PayoutService) StartProcessing(ctx context.Context, payoutID string) (*entities.Payout, error) {
	return ps.transition(ctx, payoutID, events.PayoutProcessing, func(ctx context.Context, payout *entities.Payout) error {
		return payout.StartProcessing(ps.now())
	})
}

func (ps *PayoutService) Complete(ctx context.Context, payoutID, txHash string) (*entities.Payout, error) {
	return ps.transition(ctx, payoutID, events.PayoutCompleted, func(ctx context.Context, payout *entities.Payout) error {
		return payout.Complete(txHash, ps.now())
	})
}

// Fail keeps the funds reserved; the seller gets them back by cancelling the payout.
func (ps *PayoutService) Fail(ctx context.Context, payoutID, reason string) (*entities.Payout, error) {
	return ps.transition(ctx, payoutID, events.PayoutFailed, func(ctx context.Context, payout *entities.Payout) error {
		return payout.Fail(reason)
	})
}

// Cancel releases the reserved funds back to the owning seller's wallet.
func (ps *PayoutService) Cancel(ctx context.Context, payoutID string, sellerID int64) (*entities.Payout, error) {
	return ps.transition(ctx, payoutID, events.PayoutCancelled, func(ctx context.Context, payout *entities.Payout) error {
		if payout.SellerID != sellerID {
			return entities.Validationf("payout %s does not belong to user %d", payoutID, sellerID)
		}
		if err := payout.Cancel(); err != nil {
			return err
		}
		_, err := ps.wallets.Refund(ctx, payout.SellerID, payout.Amount, fmt.Sprintf("Payout %s cancelled", payoutID), payoutID)
		return err
	})
}

func (ps *PayoutService) transition(
	ctx context.Context,
	payoutID string,
	eventType events.Type,
	apply func(ctx context.Context, payout *entities.Payout) error,
) (*entities.Payout, error) {
	var payout *entities.Payout
	err := ps.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		p, err := ps.payouts.LockPayout(ctx, payoutID)
		if err != nil {
			return fmt.Errorf("failed to lock payout: %w", err)
		}
		if p == nil {
			return entities.NotFoundf("payout %s not found", payoutID)
		}
		if err = apply(ctx, p); err != nil {
			return err
		}
		if err = ps.payouts.UpdatePayout(ctx, p); err != nil {
			return fmt.Errorf("failed to update payout: %w", err)
		}
		payout = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PayoutTransitions.WithLabelValues(string(payout.Status)).Inc()
	ps.logger.InfoContext(ctx, "Payout status changed", "payout_id", payoutID, "status", payout.Status)
	ps.publish(ctx, events.NewPayoutEvent(eventType, payout))
	return payout, nil
}

func (ps *PayoutService) ListSellerPayouts(ctx context.Context, sellerID int64, limit int) ([]entities.Payout, error) {
	payouts, err := ps.payouts.FindPayoutsBySeller(ctx, sellerID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to find seller payouts: %w", err)
	}
	return payouts, nil
}

func (ps *PayoutService) ListPending(ctx context.Context, limit int) ([]entities.Payout, error) {
	payouts, err := ps.payouts.FindPayoutsByStatus(ctx, entities.PayoutStatusPending, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to find pending payouts: %w", err)
	}
	return payouts, nil
}

func (ps *PayoutService) publish(ctx context.Context, event events.Event) {
	if err := ps.publisher.Publish(ctx, event); err != nil {
		ps.logger.ErrorContext(ctx, "Failed to publish payout event", "type", event.Type, "key", event.Key, "error", err)
	}
}
