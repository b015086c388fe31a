package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment correlates one gateway payment with an order or a subscription.
// GatewayPaymentID is unique across all payments.
type Payment struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id,omitempty"`
	SubscriptionID   string          `json:"subscription_id,omitempty"`
	GatewayPaymentID string          `json:"razorpay_payment_id"`
	GatewayOrderID   string          `json:"razorpay_order_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           PaymentStatus   `json:"status"`
	Method           string          `json:"method,omitempty"`
	ErrorReason      string          `json:"error_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
