package domain

import "github.com/shopspring/decimal"

// Cart is pre-order state. Item prices are locked when the item is added.
type Cart struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Items          []CartItem      `json:"items"`
}

type CartItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Product   Product         `json:"product"`
}

// CartIssue is a single problem found while validating a cart line.
type CartIssue struct {
	ProductID string `json:"product_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

const (
	IssueProductUnavailable = "product_unavailable"
	IssueInsufficientStock  = "insufficient_stock"
	IssueLowStock           = "low_stock"
)

// CartValidation is the aggregated result of ValidateCart.
type CartValidation struct {
	Valid    bool        `json:"valid"`
	Errors   []CartIssue `json:"errors"`
	Warnings []CartIssue `json:"warnings"`
}

// ValidateCart checks every line against the product state embedded in the
// items and reports all violations instead of stopping at the first one.
func ValidateCart(items []CartItem) CartValidation {
	result := CartValidation{Errors: []CartIssue{}, Warnings: []CartIssue{}}

	for _, item := range items {
		p := item.Product
		issue := CartIssue{
			ProductID: item.ProductID,
			Requested: item.Quantity,
			Available: p.StockQuantity,
		}

		switch {
		case !p.IsActive:
			issue.Code = IssueProductUnavailable
			issue.Message = p.Name + " is no longer available"
			result.Errors = append(result.Errors, issue)
		case p.StockQuantity < item.Quantity:
			issue.Code = IssueInsufficientStock
			issue.Message = "not enough stock for " + p.Name
			result.Errors = append(result.Errors, issue)
		case p.StockQuantity < 2*item.Quantity:
			issue.Code = IssueLowStock
			issue.Message = "only a few units of " + p.Name + " left"
			result.Warnings = append(result.Warnings, issue)
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// Err converts the first blocking issue into a domain error, or nil when valid.
func (v CartValidation) Err() error {
	if v.Valid {
		return nil
	}
	first := v.Errors[0]
	cause := ErrInsufficientStock
	if first.Code == IssueProductUnavailable {
		cause = ErrProductUnavailable
	}
	return &StockError{
		ProductID: first.ProductID,
		Requested: first.Requested,
		Available: first.Available,
		Err:       cause,
	}
}
