package adapters

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aspect2729/indostarnaturals-sub000/internal/database"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
	"github.com/aspect2729/indostarnaturals-sub000/internal/telemetry"
)

// ObservableRepository decorates a ports.Repository with a span and a query
// duration sample per call. Repositories handed out by WithinTx are wrapped
// too, so work inside a transaction shows up under the transaction span.
type ObservableRepository struct {
	repo    ports.Repository
	metrics *database.Metrics
}

func NewObservableRepository(repo ports.Repository, metrics *database.Metrics) *ObservableRepository {
	return &ObservableRepository{
		repo:    repo,
		metrics: metrics,
	}
}

func observe[T any](ctx context.Context, r *ObservableRepository, operation string, attrs []attribute.KeyValue, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := telemetry.StartSpan(ctx, "Repository."+operation)
	defer span.End()

	telemetry.AddSpanAttributes(span, append(attrs, attribute.String("operation", operation))...)

	start := time.Now()
	out, err := fn(ctx)
	r.metrics.RecordQuery(ctx, operation, time.Since(start).Seconds())

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return out, err
	}

	telemetry.SetSpanSuccess(span)
	return out, nil
}

func (r *ObservableRepository) exec(ctx context.Context, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	_, err := observe(ctx, r, operation, attrs, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (r *ObservableRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Repository) error) error {
	ctx, span := telemetry.StartSpan(ctx, "Repository.WithinTx")
	defer span.End()

	err := r.repo.WithinTx(ctx, func(ctx context.Context, tx ports.Repository) error {
		return fn(ctx, &ObservableRepository{repo: tx, metrics: r.metrics})
	})
	r.metrics.RecordTx(ctx, err == nil)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}

	telemetry.SetSpanSuccess(span)
	return nil
}

func (r *ObservableRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return observe(ctx, r, "get_user", []attribute.KeyValue{attribute.String("user.id", id)}, func(ctx context.Context) (*domain.User, error) {
		return r.repo.GetUser(ctx, id)
	})
}

func (r *ObservableRepository) AddressBelongsTo(ctx context.Context, addressID, userID string) (bool, error) {
	return observe(ctx, r, "address_belongs_to", []attribute.KeyValue{attribute.String("address.id", addressID)}, func(ctx context.Context) (bool, error) {
		return r.repo.AddressBelongsTo(ctx, addressID, userID)
	})
}

func (r *ObservableRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return observe(ctx, r, "get_product", productAttrs(id), func(ctx context.Context) (*domain.Product, error) {
		return r.repo.GetProduct(ctx, id)
	})
}

func (r *ObservableRepository) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	return observe(ctx, r, "lock_product", productAttrs(id), func(ctx context.Context) (*domain.Product, error) {
		return r.repo.LockProduct(ctx, id)
	})
}

func (r *ObservableRepository) DecrementStock(ctx context.Context, productID string, qty int) error {
	attrs := append(productAttrs(productID), attribute.Int("quantity", qty))
	return r.exec(ctx, "decrement_stock", attrs, func(ctx context.Context) error {
		return r.repo.DecrementStock(ctx, productID, qty)
	})
}

func (r *ObservableRepository) IncrementStock(ctx context.Context, productID string, qty int) error {
	attrs := append(productAttrs(productID), attribute.Int("quantity", qty))
	return r.exec(ctx, "increment_stock", attrs, func(ctx context.Context) error {
		return r.repo.IncrementStock(ctx, productID, qty)
	})
}

func (r *ObservableRepository) ListDiscountRules(ctx context.Context) ([]domain.BulkDiscountRule, error) {
	return observe(ctx, r, "list_discount_rules", nil, r.repo.ListDiscountRules)
}

func (r *ObservableRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return observe(ctx, r, "get_cart", []attribute.KeyValue{attribute.String("user.id", userID)}, func(ctx context.Context) (*domain.Cart, error) {
		return r.repo.GetCart(ctx, userID)
	})
}

func (r *ObservableRepository) ClearCart(ctx context.Context, cartID string) error {
	return r.exec(ctx, "clear_cart", []attribute.KeyValue{attribute.String("cart.id", cartID)}, func(ctx context.Context) error {
		return r.repo.ClearCart(ctx, cartID)
	})
}

func (r *ObservableRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	return r.exec(ctx, "create_order", orderAttrs(order.ID), func(ctx context.Context) error {
		return r.repo.CreateOrder(ctx, order)
	})
}

func (r *ObservableRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return observe(ctx, r, "get_order", orderAttrs(id), func(ctx context.Context) (*domain.Order, error) {
		return r.repo.GetOrder(ctx, id)
	})
}

func (r *ObservableRepository) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return observe(ctx, r, "lock_order", orderAttrs(id), func(ctx context.Context) (*domain.Order, error) {
		return r.repo.LockOrder(ctx, id)
	})
}

func (r *ObservableRepository) ListOrders(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	attrs := []attribute.KeyValue{
		attribute.Int("page", filter.Page),
		attribute.Int("page_size", filter.PageSize),
	}
	if filter.Status != nil {
		attrs = append(attrs, attribute.String("filter.status", string(*filter.Status)))
	}
	return observe(ctx, r, "list_orders", attrs, func(ctx context.Context) ([]domain.Order, error) {
		return r.repo.ListOrders(ctx, filter)
	})
}

func (r *ObservableRepository) UpdateOrderStatus(ctx context.Context, id string, orderStatus domain.OrderStatus, paymentStatus domain.PaymentStatus) error {
	attrs := append(orderAttrs(id),
		attribute.String("order.new_status", string(orderStatus)),
		attribute.String("order.payment_status", string(paymentStatus)),
	)
	return r.exec(ctx, "update_order_status", attrs, func(ctx context.Context) error {
		return r.repo.UpdateOrderStatus(ctx, id, orderStatus, paymentStatus)
	})
}

func (r *ObservableRepository) SetGatewayOrderID(ctx context.Context, id, gatewayOrderID string) error {
	return r.exec(ctx, "set_gateway_order_id", orderAttrs(id), func(ctx context.Context) error {
		return r.repo.SetGatewayOrderID(ctx, id, gatewayOrderID)
	})
}

func (r *ObservableRepository) CreatePayment(ctx context.Context, payment domain.Payment) (bool, error) {
	attrs := []attribute.KeyValue{attribute.String("payment.gateway_id", payment.GatewayPaymentID)}
	return observe(ctx, r, "create_payment", attrs, func(ctx context.Context) (bool, error) {
		return r.repo.CreatePayment(ctx, payment)
	})
}

func (r *ObservableRepository) CreateSubscription(ctx context.Context, sub domain.Subscription) error {
	return r.exec(ctx, "create_subscription", subscriptionAttrs(sub.ID), func(ctx context.Context) error {
		return r.repo.CreateSubscription(ctx, sub)
	})
}

func (r *ObservableRepository) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return observe(ctx, r, "get_subscription", subscriptionAttrs(id), func(ctx context.Context) (*domain.Subscription, error) {
		return r.repo.GetSubscription(ctx, id)
	})
}

func (r *ObservableRepository) GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*domain.Subscription, error) {
	return observe(ctx, r, "get_subscription_by_gateway_id", subscriptionAttrs(gatewayID), func(ctx context.Context) (*domain.Subscription, error) {
		return r.repo.GetSubscriptionByGatewayID(ctx, gatewayID)
	})
}

func (r *ObservableRepository) LockSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return observe(ctx, r, "lock_subscription", subscriptionAttrs(id), func(ctx context.Context) (*domain.Subscription, error) {
		return r.repo.LockSubscription(ctx, id)
	})
}

func (r *ObservableRepository) ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return observe(ctx, r, "list_subscriptions", []attribute.KeyValue{attribute.String("user.id", userID)}, func(ctx context.Context) ([]domain.Subscription, error) {
		return r.repo.ListSubscriptions(ctx, userID)
	})
}

func (r *ObservableRepository) ListDueSubscriptions(ctx context.Context, day time.Time) ([]domain.Subscription, error) {
	attrs := []attribute.KeyValue{attribute.String("day", day.Format(time.DateOnly))}
	return observe(ctx, r, "list_due_subscriptions", attrs, func(ctx context.Context) ([]domain.Subscription, error) {
		return r.repo.ListDueSubscriptions(ctx, day)
	})
}

func (r *ObservableRepository) UpdateSubscription(ctx context.Context, sub domain.Subscription) error {
	attrs := append(subscriptionAttrs(sub.ID), attribute.String("subscription.status", string(sub.Status)))
	return r.exec(ctx, "update_subscription", attrs, func(ctx context.Context) error {
		return r.repo.UpdateSubscription(ctx, sub)
	})
}

func (r *ObservableRepository) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	attrs := []attribute.KeyValue{attribute.String("audit.action", string(entry.Action))}
	return r.exec(ctx, "append_audit", attrs, func(ctx context.Context) error {
		return r.repo.AppendAudit(ctx, entry)
	})
}

func (r *ObservableRepository) ClaimEvent(ctx context.Context, key domain.EventKey) (bool, error) {
	attrs := []attribute.KeyValue{
		attribute.String("event.type", key.Type),
		attribute.String("event.entity_id", key.EntityID),
	}
	return observe(ctx, r, "claim_event", attrs, func(ctx context.Context) (bool, error) {
		return r.repo.ClaimEvent(ctx, key)
	})
}

func (r *ObservableRepository) CreateIntent(ctx context.Context, intent domain.GatewayIntent) error {
	return r.exec(ctx, "create_intent", intentAttrs(intent), func(ctx context.Context) error {
		return r.repo.CreateIntent(ctx, intent)
	})
}

func (r *ObservableRepository) UpdateIntent(ctx context.Context, intent domain.GatewayIntent) error {
	return r.exec(ctx, "update_intent", intentAttrs(intent), func(ctx context.Context) error {
		return r.repo.UpdateIntent(ctx, intent)
	})
}

func (r *ObservableRepository) ListStaleIntents(ctx context.Context, cutoff time.Time, limit int) ([]domain.GatewayIntent, error) {
	return observe(ctx, r, "list_stale_intents", []attribute.KeyValue{attribute.Int("limit", limit)}, func(ctx context.Context) ([]domain.GatewayIntent, error) {
		return r.repo.ListStaleIntents(ctx, cutoff, limit)
	})
}

func productAttrs(id string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("product.id", id)}
}

func orderAttrs(id string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("order.id", id)}
}

func subscriptionAttrs(id string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("subscription.id", id)}
}

func intentAttrs(intent domain.GatewayIntent) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("intent.id", intent.ID),
		attribute.String("intent.action", string(intent.Action)),
		attribute.String("intent.status", string(intent.Status)),
	}
}
