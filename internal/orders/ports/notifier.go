package ports

import "context"

// NotificationKind names the customer messages the core emits.
type NotificationKind string

const (
	NotifyOrderPlaced           NotificationKind = "order_placed"
	NotifyOrderConfirmed        NotificationKind = "order_confirmed"
	NotifyPaymentFailed         NotificationKind = "payment_failed"
	NotifyOrderRefunded         NotificationKind = "order_refunded"
	NotifyOrderStatusChanged    NotificationKind = "order_status_changed"
	NotifySubscriptionDelivered NotificationKind = "subscription_delivered"
	NotifySubscriptionChanged   NotificationKind = "subscription_changed"
)

// Notification is a message for one user. Data carries template values.
type Notification struct {
	Kind     NotificationKind
	UserID   string
	EntityID string
	Data     map[string]string
}

// Notifier delivers customer notifications. Implementations may be slow or
// fail; callers in the order core never wait on them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Dispatcher queues notifications for background delivery.
type Dispatcher interface {
	Dispatch(n Notification)
}
