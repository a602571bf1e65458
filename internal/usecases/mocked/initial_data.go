package mocked

import (
	"log/slog"

	"github.com/shopspring/decimal"
	"go.openly.dev/pointy"

	"github.com/sand/digital-marketplace/backend/internal/entities"
)

const (
	DemoSellerID   int64 = 1001
	DemoBuyerID    int64 = 2001
	DemoReferrerID int64 = 3001
)

// SeedDemoData fills an empty store with a seller, a buyer, a partner and a few
// products so the memory driver can be exercised end to end.
func (s *Store) SeedDemoData(logger *slog.Logger) {
	s.AddUser(entities.User{
		UserID:        DemoSellerID,
		IsSeller:      true,
		PayoutAddress: pointy.String("So11111111111111111111111111111111111111112"),
	})
	s.AddUser(entities.User{UserID: DemoBuyerID})
	s.AddUser(entities.User{UserID: DemoReferrerID, PartnerCode: pointy.String("PARTNER1")})

	products := []entities.Product{
		{ProductID: "PRD_EBOOK", Title: "Go patterns e-book", Price: decimal.RequireFromString("19.99")},
		{ProductID: "PRD_COURSE", Title: "Video course", Price: decimal.RequireFromString("100.00")},
		{ProductID: "PRD_TEMPLATE", Title: "Landing page template", Price: decimal.RequireFromString("7.50")},
	}
	for _, product := range products {
		product.SellerID = DemoSellerID
		product.IsAvailable = true
		s.AddProduct(product)
	}

	logger.Info("Seeded demo data",
		"seller_id", DemoSellerID,
		"buyer_id", DemoBuyerID,
		"referrer_id", DemoReferrerID,
		"products", len(products))
}
