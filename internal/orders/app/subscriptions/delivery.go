package subscriptions

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

// DeliveryOutcome is what happened to one subscription on one delivery day.
type DeliveryOutcome string

const (
	OutcomeDelivered        DeliveryOutcome = "delivered"
	OutcomeSkipped          DeliveryOutcome = "skipped"
	OutcomeAlreadyDelivered DeliveryOutcome = "already_delivered"
	OutcomeFailed           DeliveryOutcome = "failed"
)

// Delivery reports the result of Deliver. Order is set only when a delivery
// order was created.
type Delivery struct {
	SubscriptionID string          `json:"subscription_id"`
	Day            time.Time       `json:"day"`
	Outcome        DeliveryOutcome `json:"outcome"`
	Reason         string          `json:"reason,omitempty"`
	Order          *domain.Order   `json:"order,omitempty"`
}

// Deliver creates the delivery order of a subscription for day inside tx.
// It is keyed by (subscription, day): a second call for the same pair is a
// no-op reported as OutcomeAlreadyDelivered. A subscription that is not
// active or whose product is out of stock is skipped without writing
// anything, so a later run can still deliver it.
func Deliver(ctx context.Context, tx ports.Repository, subscriptionID string, day, now time.Time) (Delivery, error) {
	day = domain.Day(day)
	result := Delivery{SubscriptionID: subscriptionID, Day: day}

	sub, err := tx.LockSubscription(ctx, subscriptionID)
	if err != nil {
		return result, err
	}
	if sub.Status != domain.SubscriptionActive {
		result.Outcome = OutcomeSkipped
		result.Reason = "subscription is " + string(sub.Status)
		return result, nil
	}

	product, err := tx.LockProduct(ctx, sub.ProductID)
	if err != nil {
		return result, err
	}
	if !product.IsActive || product.StockQuantity < 1 {
		result.Outcome = OutcomeSkipped
		result.Reason = "product out of stock"
		return result, nil
	}

	claimed, err := tx.ClaimEvent(ctx, domain.DeliveryKey(sub.ID, day))
	if err != nil {
		return result, err
	}
	if !claimed {
		result.Outcome = OutcomeAlreadyDelivered
		return result, nil
	}

	user, err := tx.GetUser(ctx, sub.UserID)
	if err != nil {
		return result, err
	}

	item := domain.NewOrderItem(product.ID, product.CategoryID, 1, product.PriceFor(user.Role))
	order, err := domain.NewOrder(user.ID, sub.AddressID, []domain.OrderItem{item}, decimal.Zero, now)
	if err != nil {
		return result, err
	}
	order.OrderStatus = domain.OrderConfirmed
	order.PaymentStatus = domain.PaymentPaid
	order.SubscriptionID = sub.ID
	order.DeliveryDate = &day

	if err := tx.CreateOrder(ctx, order); err != nil {
		return result, err
	}
	if err := tx.DecrementStock(ctx, product.ID, 1); err != nil {
		return result, err
	}

	previous := sub.NextDeliveryDate
	sub.Advance(day)
	sub.UpdatedAt = now
	if err := tx.UpdateSubscription(ctx, *sub); err != nil {
		return result, err
	}

	if err := tx.AppendAudit(ctx, domain.NewAuditEntry("", domain.AuditSubscriptionDelivery, "subscription", sub.ID, map[string]any{
		"order_id":           order.ID,
		"delivery_date":      day.Format(time.DateOnly),
		"previous_next_date": previous.Format(time.DateOnly),
		"next_delivery_date": sub.NextDeliveryDate.Format(time.DateOnly),
		"amount":             order.FinalAmount.StringFixed(2),
	}, now)); err != nil {
		return result, err
	}

	result.Outcome = OutcomeDelivered
	result.Order = &order
	return result, nil
}

// DeliveryNotification is the order confirmation sent for a delivery order.
func DeliveryNotification(d Delivery) ports.Notification {
	return ports.Notification{
		Kind:     ports.NotifySubscriptionDelivered,
		UserID:   d.Order.UserID,
		EntityID: d.Order.ID,
		Data: map[string]string{
			"order_number":    d.Order.OrderNumber,
			"amount":          d.Order.FinalAmount.StringFixed(2),
			"subscription_id": d.SubscriptionID,
			"delivery_date":   d.Day.Format(time.DateOnly),
		},
	}
}
