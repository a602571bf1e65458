package repository_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/digital-marketplace/backend/internal/entities"
	"github.com/sand/digital-marketplace/backend/internal/usecases"
	"github.com/sand/digital-marketplace/backend/internal/usecases/repository"
	"github.com/sand/digital-marketplace/backend/pkg/database"
)

const migrationsPath = "../../../migrations"

var errBoom = errors.New("boom")

// newSingleConnPostgres connects with a pool of one so a leaked connection blocks the next caller.
func newSingleConnPostgres(t *testing.T) (*database.Postgres, *slog.Logger) {
	t.Helper()
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, database.RunMigrations(logger, databaseURL, migrationsPath))

	pg, err := database.New(context.Background(), databaseURL,
		database.MaxPoolSize(1),
		database.Isolation(pgx.ReadCommitted),
	)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	return pg, logger
}

// uniqueUserID keeps reruns against the same database apart.
func uniqueUserID() int64 {
	return 9_000_000_000 + time.Now().UnixNano()%1_000_000_000
}

func requireIdlePool(t *testing.T, pg *database.Postgres) {
	t.Helper()
	assert.Zero(t, pg.Pool.Stat().AcquiredConns(), "connections still checked out")
}

func TestFailedLedgerWritesReleaseConnections(t *testing.T) {
	pg, logger := newSingleConnPostgres(t)
	wallets := usecases.NewWalletService(logger,
		pg.Transactor,
		repository.NewWalletsRepository(logger, pg),
		repository.NewTransactionsRepository(logger, pg))
	userID := uniqueUserID()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := wallets.Withdraw(ctx, userID, decimal.NewFromInt(10), "overdraw", "")
		require.ErrorIs(t, err, entities.ErrInsufficientFunds)
	}
	_, _, err := wallets.Transfer(ctx, userID, userID+1, decimal.NewFromInt(10), "overdraw")
	require.ErrorIs(t, err, entities.ErrInsufficientFunds)
	requireIdlePool(t, pg)

	deadline, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	wallet, err := wallets.Deposit(deadline, userID, decimal.NewFromInt(25), "top up", "")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(25).Equal(wallet.Balance))

	wallet, err = wallets.Withdraw(deadline, userID, decimal.NewFromInt(10), "purchase", "")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(wallet.Balance))
	requireIdlePool(t, pg)
}

func TestRolledBackTransactionReleasesConnection(t *testing.T) {
	pg, logger := newSingleConnPostgres(t)
	walletsRepo := repository.NewWalletsRepository(logger, pg)
	transactions := usecases.NewTransactionService(logger, pg.Transactor, walletsRepo, repository.NewTransactionsRepository(logger, pg))
	wallets := usecases.NewWalletService(logger, pg.Transactor, walletsRepo, repository.NewTransactionsRepository(logger, pg))
	userID := uniqueUserID()
	ctx := context.Background()

	err := pg.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := walletsRepo.LockWallet(ctx, userID); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	requireIdlePool(t, pg)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = wallets.Deposit(cancelled, userID, decimal.NewFromInt(5), "top up", "")
	require.Error(t, err)
	requireIdlePool(t, pg)

	deadline, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()
	_, err = wallets.Deposit(deadline, userID, decimal.NewFromInt(5), "top up", "")
	require.NoError(t, err)

	report, err := transactions.VerifyLedger(deadline, userID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.True(t, decimal.NewFromInt(5).Equal(report.Balance))
	requireIdlePool(t, pg)
}
