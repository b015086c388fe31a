package domain

import "github.com/shopspring/decimal"

// Role decides which price list and discounts apply to a user.
type Role string

const (
	RoleConsumer    Role = "CONSUMER"
	RoleDistributor Role = "DISTRIBUTOR"
	RoleOwner       Role = "OWNER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleConsumer, RoleDistributor, RoleOwner:
		return true
	default:
		return false
	}
}

type User struct {
	ID    string `json:"id"`
	Role  Role   `json:"role"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Address struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// Product is the catalog row the order core reads and whose stock it owns.
type Product struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	SKU              string          `json:"sku"`
	CategoryID       string          `json:"category_id,omitempty"`
	ConsumerPrice    decimal.Decimal `json:"consumer_price"`
	DistributorPrice decimal.Decimal `json:"distributor_price"`
	StockQuantity    int             `json:"stock_quantity"`
	IsActive         bool            `json:"is_active"`
}

// PriceFor returns the unit price for the given role.
func (p Product) PriceFor(role Role) decimal.Decimal {
	if role == RoleDistributor {
		return p.DistributorPrice
	}
	return p.ConsumerPrice
}
