package entities

import "github.com/shopspring/decimal"

// User is the read-only identity record owned by the bot/user service.
type User struct {
	UserID        int64   `json:"user_id"`
	IsSeller      bool    `json:"is_seller"`
	PayoutAddress *string `json:"payout_address,omitempty"`
	PartnerCode   *string `json:"partner_code,omitempty"`
}

// Product is the catalogue entry an order refers to.
type Product struct {
	ProductID   string          `json:"product_id"`
	SellerID    int64           `json:"seller_id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	IsAvailable bool            `json:"is_available"`
	SalesCount  int             `json:"sales_count"`
}

// SellerStats summarises the orders of one seller.
type SellerStats struct {
	TotalOrders     int             `json:"total_orders"`
	CompletedOrders int             `json:"completed_orders"`
	PendingOrders   int             `json:"pending_orders"`
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	ConversionRate  decimal.Decimal `json:"conversion_rate"`
}
