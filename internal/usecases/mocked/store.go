package mocked

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sand/digital-marketplace/backend/internal/entities"
)

type txKey struct{}

type state struct {
	users        map[int64]entities.User
	products     map[string]entities.Product
	orders       map[string]entities.Order
	wallets      map[int64]entities.Wallet
	transactions []entities.WalletTransaction
	payouts      map[string]entities.Payout
}

func newState() *state {
	return &state{
		users:    make(map[int64]entities.User),
		products: make(map[string]entities.Product),
		orders:   make(map[string]entities.Order),
		wallets:  make(map[int64]entities.Wallet),
		payouts:  make(map[string]entities.Payout),
	}
}

// Entities are stored by value and pointer fields are only ever replaced, never
// written through, so a shallow copy of every collection is a full snapshot.
func (s *state) clone() *state {
	return &state{
		users:        maps.Clone(s.users),
		products:     maps.Clone(s.products),
		orders:       maps.Clone(s.orders),
		wallets:      maps.Clone(s.wallets),
		transactions: slices.Clone(s.transactions),
		payouts:      maps.Clone(s.payouts),
	}
}

// Store is an in-memory implementation of every repository plus the transactor.
// Transactions are serialised behind a single mutex; a failed transaction, or a
// failed nested one, restores the snapshot taken when it began.
type Store struct {
	mu       sync.Mutex
	st       *state
	failures map[string]error
}

func NewStore() *Store {
	return &Store{st: newState(), failures: make(map[string]error)}
}

func inTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

func (s *Store) WithinTransaction(ctx context.Context, txFunc func(ctx context.Context) error) error {
	if !inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
		ctx = context.WithValue(ctx, txKey{}, true)
	}

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := txFunc(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// FailNext makes the next call of the named repository method return err.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

func (s *Store) fail(method string) error {
	err, ok := s.failures[method]
	if ok {
		delete(s.failures, method)
	}
	return err
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

// Users and products.

func (s *Store) AddUser(user entities.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[user.UserID] = user
}

func (s *Store) AddProduct(product entities.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[product.ProductID] = product
}

func (s *Store) FindUser(ctx context.Context, userID int64) (*entities.User, error) {
	defer s.lock(ctx)()
	user, ok := s.st.users[userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *Store) FindUserByPartnerCode(ctx context.Context, partnerCode string) (*entities.User, error) {
	defer s.lock(ctx)()
	for _, user := range s.st.users {
		if user.PartnerCode != nil && *user.PartnerCode == partnerCode {
			return &user, nil
		}
	}
	return nil, nil
}

func (s *Store) FindProduct(ctx context.Context, productID string) (*entities.Product, error) {
	defer s.lock(ctx)()
	product, ok := s.st.products[productID]
	if !ok {
		return nil, nil
	}
	return &product, nil
}

func (s *Store) RecordSale(ctx context.Context, productID string) error {
	defer s.lock(ctx)()
	if err := s.fail("RecordSale"); err != nil {
		return err
	}
	product, ok := s.st.products[productID]
	if !ok {
		return nil
	}
	product.SalesCount++
	s.st.products[productID] = product
	return nil
}

// Orders.

func (s *Store) InsertOrder(ctx context.Context, order *entities.Order) error {
	defer s.lock(ctx)()
	if err := s.fail("InsertOrder"); err != nil {
		return err
	}
	s.st.orders[order.OrderID] = *order
	return nil
}

func (s *Store) FindOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	defer s.lock(ctx)()
	order, ok := s.st.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (s *Store) LockOrder(ctx context.Context, orderID string) (*entities.Order, error) {
	return s.FindOrder(ctx, orderID)
}

func (s *Store) LockOrderByExternalID(ctx context.Context, externalPaymentID string) (*entities.Order, error) {
	defer s.lock(ctx)()
	for _, order := range s.st.orders {
		if order.ExternalPaymentID != nil && *order.ExternalPaymentID == externalPaymentID {
			return &order, nil
		}
	}
	return nil, nil
}

func (s *Store) updateOrder(ctx context.Context, method string, order *entities.Order, apply func(stored *entities.Order)) error {
	defer s.lock(ctx)()
	if err := s.fail(method); err != nil {
		return err
	}
	stored, ok := s.st.orders[order.OrderID]
	if !ok {
		return nil
	}
	apply(&stored)
	s.st.orders[order.OrderID] = stored
	return nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, order *entities.Order) error {
	return s.updateOrder(ctx, "UpdateOrderStatus", order, func(stored *entities.Order) {
		stored.Status = order.Status
		stored.PaidAt = order.PaidAt
		stored.CompletedAt = order.CompletedAt
	})
}

func (s *Store) UpdateOrderPayment(ctx context.Context, order *entities.Order) error {
	return s.updateOrder(ctx, "UpdateOrderPayment", order, func(stored *entities.Order) {
		stored.ExternalPaymentID = order.ExternalPaymentID
		stored.CryptoCurrency = order.CryptoCurrency
		stored.CryptoAmount = order.CryptoAmount
		stored.PaymentAddress = order.PaymentAddress
	})
}

func (s *Store) UpdateOrderDelivery(ctx context.Context, order *entities.Order) error {
	return s.updateOrder(ctx, "UpdateOrderDelivery", order, func(stored *entities.Order) {
		stored.FileDelivered = order.FileDelivered
		stored.DeliveredAt = order.DeliveredAt
		stored.DownloadCount = order.DownloadCount
	})
}

func (s *Store) filterOrders(match func(order *entities.Order) bool, less func(a, b *entities.Order) bool, limit int) []entities.Order {
	var result []entities.Order
	for _, order := range s.st.orders {
		if match(&order) {
			result = append(result, order)
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(&result[i], &result[j]) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func newestFirst(a, b *entities.Order) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.OrderID > b.OrderID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (s *Store) FindOrdersByBuyer(ctx context.Context, buyerID int64, limit int) ([]entities.Order, error) {
	defer s.lock(ctx)()
	return s.filterOrders(func(o *entities.Order) bool { return o.BuyerID == buyerID }, newestFirst, limit), nil
}

func (s *Store) FindOrdersBySeller(ctx context.Context, sellerID int64, limit int) ([]entities.Order, error) {
	defer s.lock(ctx)()
	return s.filterOrders(func(o *entities.Order) bool { return o.SellerID == sellerID }, newestFirst, limit), nil
}

func (s *Store) FindUndeliveredOrders(ctx context.Context, paidAfter, paidBefore time.Time, limit int) ([]entities.Order, error) {
	defer s.lock(ctx)()
	match := func(o *entities.Order) bool {
		return o.IsPaid() && !o.FileDelivered && o.PaidAt != nil &&
			o.PaidAt.After(paidAfter) && o.PaidAt.Before(paidBefore)
	}
	oldestPaid := func(a, b *entities.Order) bool { return a.PaidAt.Before(*b.PaidAt) }
	return s.filterOrders(match, oldestPaid, limit), nil
}

func (s *Store) FindStalePendingOrders(ctx context.Context, createdBefore time.Time, limit int) ([]entities.Order, error) {
	defer s.lock(ctx)()
	match := func(o *entities.Order) bool {
		return o.Status == entities.OrderStatusPending &&
			o.PaymentMethod == entities.PaymentMethodWallet &&
			o.CreatedAt.Before(createdBefore)
	}
	oldest := func(a, b *entities.Order) bool { return a.CreatedAt.Before(b.CreatedAt) }
	return s.filterOrders(match, oldest, limit), nil
}

// Wallets and ledger.

func (s *Store) FindWallet(ctx context.Context, userID int64) (*entities.Wallet, error) {
	defer s.lock(ctx)()
	wallet, ok := s.st.wallets[userID]
	if !ok {
		return nil, nil
	}
	return &wallet, nil
}

func (s *Store) LockWallet(ctx context.Context, userID int64) (*entities.Wallet, error) {
	defer s.lock(ctx)()
	wallet, ok := s.st.wallets[userID]
	if !ok {
		wallet = entities.Wallet{UserID: userID, Balance: decimal.Zero, UpdatedAt: time.Now()}
		s.st.wallets[userID] = wallet
	}
	return &wallet, nil
}

func (s *Store) UpdateBalance(ctx context.Context, wallet *entities.Wallet) error {
	defer s.lock(ctx)()
	if err := s.fail("UpdateBalance"); err != nil {
		return err
	}
	s.st.wallets[wallet.UserID] = *wallet
	return nil
}

func (s *Store) InsertTransaction(ctx context.Context, transaction *entities.WalletTransaction) error {
	defer s.lock(ctx)()
	if err := s.fail("InsertTransaction"); err != nil {
		return err
	}
	s.st.transactions = append(s.st.transactions, *transaction)
	return nil
}

func (s *Store) FindTransactionsByUser(ctx context.Context, userID int64, limit int) ([]entities.WalletTransaction, error) {
	defer s.lock(ctx)()
	var result []entities.WalletTransaction
	for i := len(s.st.transactions) - 1; i >= 0; i-- {
		if s.st.transactions[i].UserID != userID {
			continue
		}
		result = append(result, s.st.transactions[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) FindTransactionsByReference(ctx context.Context, referenceID string) ([]entities.WalletTransaction, error) {
	defer s.lock(ctx)()
	var result []entities.WalletTransaction
	for _, transaction := range s.st.transactions {
		if transaction.ReferenceID != nil && *transaction.ReferenceID == referenceID {
			result = append(result, transaction)
		}
	}
	return result, nil
}

func (s *Store) SumTransactions(ctx context.Context, userID int64) (decimal.Decimal, error) {
	defer s.lock(ctx)()
	sum := decimal.Zero
	for _, transaction := range s.st.transactions {
		if transaction.UserID == userID {
			sum = sum.Add(transaction.Amount)
		}
	}
	return sum, nil
}

// Payouts.

func (s *Store) InsertPayout(ctx context.Context, payout *entities.Payout) error {
	defer s.lock(ctx)()
	if err := s.fail("InsertPayout"); err != nil {
		return err
	}
	s.st.payouts[payout.PayoutID] = *payout
	return nil
}

func (s *Store) FindPayout(ctx context.Context, payoutID string) (*entities.Payout, error) {
	defer s.lock(ctx)()
	payout, ok := s.st.payouts[payoutID]
	if !ok {
		return nil, nil
	}
	return &payout, nil
}

func (s *Store) LockPayout(ctx context.Context, payoutID string) (*entities.Payout, error) {
	return s.FindPayout(ctx, payoutID)
}

func (s *Store) UpdatePayout(ctx context.Context, payout *entities.Payout) error {
	defer s.lock(ctx)()
	if err := s.fail("UpdatePayout"); err != nil {
		return err
	}
	s.st.payouts[payout.PayoutID] = *payout
	return nil
}

func (s *Store) filterPayouts(match func(p *entities.Payout) bool, newest bool, limit int) []entities.Payout {
	var result []entities.Payout
	for _, payout := range s.st.payouts {
		if match(&payout) {
			result = append(result, payout)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if newest {
			return result[i].RequestedAt.After(result[j].RequestedAt)
		}
		return result[i].RequestedAt.Before(result[j].RequestedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (s *Store) FindPayoutsBySeller(ctx context.Context, sellerID int64, limit int) ([]entities.Payout, error) {
	defer s.lock(ctx)()
	return s.filterPayouts(func(p *entities.Payout) bool { return p.SellerID == sellerID }, true, limit), nil
}

func (s *Store) FindPayoutsByStatus(ctx context.Context, status entities.PayoutStatus, limit int) ([]entities.Payout, error) {
	defer s.lock(ctx)()
	return s.filterPayouts(func(p *entities.Payout) bool { return p.Status == status }, false, limit), nil
}

func (s *Store) SumOutstandingPayouts(ctx context.Context, sellerID int64) (decimal.Decimal, error) {
	defer s.lock(ctx)()
	sum := decimal.Zero
	for _, payout := range s.st.payouts {
		if payout.SellerID == sellerID && payout.Outstanding() {
			sum = sum.Add(payout.Amount)
		}
	}
	return sum, nil
}
