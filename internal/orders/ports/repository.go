package ports

import (
	"context"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
)

// Repository is the persistence boundary of the order core. All mutations that
// must succeed or fail together run inside WithinTx; the repository handed to
// fn is bound to that transaction.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	CatalogRepository
	CartRepository
	OrderRepository
	PaymentRepository
	SubscriptionRepository
	AuditRepository
	EventLedger
	IntentRepository
}

// CatalogRepository reads users, addresses and products and owns the stock counter.
type CatalogRepository interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	AddressBelongsTo(ctx context.Context, addressID, userID string) (bool, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// LockProduct reads a product and holds it against concurrent writers
	// until the transaction ends.
	LockProduct(ctx context.Context, id string) (*domain.Product, error)
	// DecrementStock subtracts qty only if at least qty units remain and
	// returns domain.ErrInsufficientStock otherwise.
	DecrementStock(ctx context.Context, productID string, qty int) error
	IncrementStock(ctx context.Context, productID string, qty int) error
	ListDiscountRules(ctx context.Context) ([]domain.BulkDiscountRule, error)
}

type CartRepository interface {
	// GetCart returns the user's cart with current product rows, or
	// domain.ErrEmptyCart when the user has none.
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, cartID string) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, orderStatus domain.OrderStatus, paymentStatus domain.PaymentStatus) error
	SetGatewayOrderID(ctx context.Context, id, gatewayOrderID string) error
}

type PaymentRepository interface {
	// CreatePayment returns false when the gateway payment id is already recorded.
	CreatePayment(ctx context.Context, payment domain.Payment) (bool, error)
}

type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub domain.Subscription) error
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*domain.Subscription, error)
	LockSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error)
	// ListDueSubscriptions returns active subscriptions due on or before day.
	ListDueSubscriptions(ctx context.Context, day time.Time) ([]domain.Subscription, error)
	UpdateSubscription(ctx context.Context, sub domain.Subscription) error
}

type AuditRepository interface {
	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
}

// EventLedger records processed event keys.
type EventLedger interface {
	// ClaimEvent records key and returns true, or returns false if the key was
	// already recorded. Inside a transaction the claim commits or rolls back
	// with the rest of the work.
	ClaimEvent(ctx context.Context, key domain.EventKey) (bool, error)
}

// IntentRepository is the outbox for subscription transitions sent to the gateway.
type IntentRepository interface {
	CreateIntent(ctx context.Context, intent domain.GatewayIntent) error
	UpdateIntent(ctx context.Context, intent domain.GatewayIntent) error
	// ListStaleIntents returns pending intents last touched before cutoff.
	ListStaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]domain.GatewayIntent, error)
}

// ListFilter narrows order list queries by owner, status and pagination.
type ListFilter struct {
	UserID   string
	Status   *domain.OrderStatus
	Page     int
	PageSize int
}

// Normalized returns the filter with 1-based paging defaults applied.
func (f ListFilter) Normalized() ListFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	return f
}
