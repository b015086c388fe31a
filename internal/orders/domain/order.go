package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus captures the fulfilment lifecycle of an order.
type OrderStatus string

const (
	OrderPending        OrderStatus = "PENDING"
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderPacked         OrderStatus = "PACKED"
	OrderOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCancelled      OrderStatus = "CANCELLED"
	OrderRefunded       OrderStatus = "REFUNDED"
)

// PaymentStatus captures the money side of an order or payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// ParseOrderStatus validates a status coming from a client.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case OrderPending, OrderConfirmed, OrderPacked, OrderOutForDelivery,
		OrderDelivered, OrderCancelled, OrderRefunded:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown order status %q", ErrValidation, s)
	}
}

// ownerTransitions lists the moves an owner may make by hand. REFUNDED is
// only reachable through the refund flow.
var ownerTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:        {OrderConfirmed, OrderCancelled},
	OrderConfirmed:      {OrderPacked, OrderCancelled},
	OrderPacked:         {OrderOutForDelivery},
	OrderOutForDelivery: {OrderDelivered},
}

// CanTransition reports whether an owner may move an order from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range ownerTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a stock-backed purchase. Its amounts never change after creation.
type Order struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"order_number"`
	UserID         string          `json:"user_id"`
	AddressID      string          `json:"address_id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	DeliveryDate   *time.Time      `json:"delivery_date,omitempty"`
	Items          []OrderItem     `json:"items"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	OrderStatus    OrderStatus     `json:"order_status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	GatewayOrderID string          `json:"gateway_order_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// OrderItem is a snapshot of the product line at order time.
type OrderItem struct {
	ProductID  string          `json:"product_id"`
	CategoryID string          `json:"category_id,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// NewOrderItem builds a line with its total computed from quantity and unit price.
func NewOrderItem(productID, categoryID string, quantity int, unitPrice decimal.Decimal) OrderItem {
	return OrderItem{
		ProductID:  productID,
		CategoryID: categoryID,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		TotalPrice: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// NewOrder assembles an order with a fresh identity and consistent amounts.
// The discount is capped at the order total.
func NewOrder(userID, addressID string, items []OrderItem, discount decimal.Decimal, now time.Time) (Order, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Order{}, fmt.Errorf("generate order id: %w", err)
	}

	total := SumItems(items)
	discount = RoundMoney(discount)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(total) {
		discount = total
	}

	order := Order{
		ID:             id.String(),
		OrderNumber:    OrderNumberFor(id),
		UserID:         userID,
		AddressID:      addressID,
		Items:          items,
		TotalAmount:    total,
		DiscountAmount: discount,
		FinalAmount:    total.Sub(discount),
		OrderStatus:    OrderPending,
		PaymentStatus:  PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return order, order.Validate()
}

// OrderNumberFor derives the customer-facing number from the order id, so it
// is unique whenever the id is.
func OrderNumberFor(id uuid.UUID) string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
}

// SumItems returns the sum of line totals.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return total
}

// Validate checks the amount invariants.
func (o Order) Validate() error {
	if strings.TrimSpace(o.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrValidation)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive for product %s", ErrValidation, item.ProductID)
		}
		if !item.TotalPrice.Equal(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))) {
			return fmt.Errorf("%w: line total mismatch for product %s", ErrValidation, item.ProductID)
		}
	}
	if !o.TotalAmount.Equal(SumItems(o.Items)) {
		return fmt.Errorf("%w: total_amount does not match items", ErrValidation)
	}
	if !o.FinalAmount.Equal(o.TotalAmount.Sub(o.DiscountAmount)) {
		return fmt.Errorf("%w: final_amount must equal total_amount - discount_amount", ErrValidation)
	}
	if o.FinalAmount.IsNegative() {
		return fmt.Errorf("%w: final_amount is negative", ErrValidation)
	}
	return nil
}

// IsTerminal indicates whether the order can no longer change fulfilment status.
func (o Order) IsTerminal() bool {
	switch o.OrderStatus {
	case OrderDelivered, OrderCancelled, OrderRefunded:
		return true
	default:
		return false
	}
}

// RestocksOnCancel reports whether moving to CANCELLED must put units back.
func (o Order) RestocksOnCancel() bool {
	return o.OrderStatus == OrderPending || o.OrderStatus == OrderConfirmed
}
