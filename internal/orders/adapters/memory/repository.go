package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type shared struct {
	mu sync.Mutex
	st *state
}

// Repository is an in-memory ports.Repository for local development and tests.
// Transactions are serialized and work on a copy of the state that replaces
// the original only on success.
type Repository struct {
	shared *shared
	tx     *state
}

var _ ports.Repository = (*Repository)(nil)

// NewRepository constructs an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{shared: &shared{st: newState()}}
}

func (r *Repository) do(fn func(st *state) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()
	return fn(r.shared.st)
}

// WithinTx runs fn against a private copy of the state and publishes it only
// if fn returns nil.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Repository) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}

	r.shared.mu.Lock()
	defer r.shared.mu.Unlock()

	working := r.shared.st.clone()
	if err := fn(ctx, &Repository{shared: r.shared, tx: working}); err != nil {
		return err
	}
	r.shared.st = working
	return nil
}

func (r *Repository) GetUser(_ context.Context, id string) (*domain.User, error) {
	var out *domain.User
	err := r.do(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return domain.ErrUserNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *Repository) AddressBelongsTo(_ context.Context, addressID, userID string) (bool, error) {
	var owned bool
	err := r.do(func(st *state) error {
		a, ok := st.addresses[addressID]
		owned = ok && a.UserID == userID
		return nil
	})
	return owned, err
}

func (r *Repository) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	var out *domain.Product
	err := r.do(func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return domain.ErrProductNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *Repository) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	return r.GetProduct(ctx, id)
}

func (r *Repository) DecrementStock(_ context.Context, productID string, qty int) error {
	return r.do(func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if p.StockQuantity < qty {
			return &domain.StockError{ProductID: productID, Requested: qty, Available: p.StockQuantity, Err: domain.ErrInsufficientStock}
		}
		p.StockQuantity -= qty
		st.products[productID] = p
		return nil
	})
}

func (r *Repository) IncrementStock(_ context.Context, productID string, qty int) error {
	return r.do(func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return domain.ErrProductNotFound
		}
		p.StockQuantity += qty
		st.products[productID] = p
		return nil
	})
}

func (r *Repository) ListDiscountRules(_ context.Context) ([]domain.BulkDiscountRule, error) {
	var out []domain.BulkDiscountRule
	err := r.do(func(st *state) error {
		for _, rule := range st.rules {
			if rule.IsActive {
				out = append(out, rule)
			}
		}
		return nil
	})
	return out, err
}

func (r *Repository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	var out *domain.Cart
	err := r.do(func(st *state) error {
		row, ok := st.carts[userID]
		if !ok || len(row.items) == 0 {
			return domain.ErrEmptyCart
		}
		cart := row.cart
		cart.Items = make([]domain.CartItem, 0, len(row.items))
		for _, item := range row.items {
			p, ok := st.products[item.ProductID]
			if !ok {
				return fmt.Errorf("cart item %s: %w", item.ProductID, domain.ErrProductNotFound)
			}
			item.Product = p
			cart.Items = append(cart.Items, item)
		}
		out = &cart
		return nil
	})
	return out, err
}

func (r *Repository) ClearCart(_ context.Context, cartID string) error {
	return r.do(func(st *state) error {
		for userID, row := range st.carts {
			if row.cart.ID != cartID {
				continue
			}
			row.items = nil
			row.cart.DiscountAmount = decimal.Zero
			st.carts[userID] = row
		}
		return nil
	})
}

func (r *Repository) CreateOrder(_ context.Context, order domain.Order) error {
	return r.do(func(st *state) error {
		for _, existing := range st.orders {
			if existing.OrderNumber == order.OrderNumber {
				return fmt.Errorf("%w: duplicate order number %s", domain.ErrConflict, order.OrderNumber)
			}
		}
		st.orders[order.ID] = copyOrder(order)
		return nil
	})
}

func (r *Repository) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	var out *domain.Order
	err := r.do(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		o = copyOrder(o)
		out = &o
		return nil
	})
	return out, err
}

func (r *Repository) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return r.GetOrder(ctx, id)
}

// ListOrders returns orders newest first. Pagination is 1-based.
func (r *Repository) ListOrders(_ context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	filter = filter.Normalized()
	var result []domain.Order
	err := r.do(func(st *state) error {
		for _, o := range st.orders {
			if filter.UserID != "" && o.UserID != filter.UserID {
				continue
			}
			if filter.Status != nil && o.OrderStatus != *filter.Status {
				continue
			}
			result = append(result, copyOrder(o))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	start := (filter.Page - 1) * filter.PageSize
	if start >= len(result) {
		return []domain.Order{}, nil
	}
	end := min(start+filter.PageSize, len(result))
	return result[start:end], nil
}

func (r *Repository) UpdateOrderStatus(_ context.Context, id string, orderStatus domain.OrderStatus, paymentStatus domain.PaymentStatus) error {
	return r.do(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		o.OrderStatus = orderStatus
		o.PaymentStatus = paymentStatus
		o.UpdatedAt = time.Now().UTC()
		st.orders[id] = o
		return nil
	})
}

func (r *Repository) SetGatewayOrderID(_ context.Context, id, gatewayOrderID string) error {
	return r.do(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return domain.ErrOrderNotFound
		}
		o.GatewayOrderID = gatewayOrderID
		o.UpdatedAt = time.Now().UTC()
		st.orders[id] = o
		return nil
	})
}

func (r *Repository) CreatePayment(_ context.Context, payment domain.Payment) (bool, error) {
	created := false
	err := r.do(func(st *state) error {
		if _, exists := st.payments[payment.GatewayPaymentID]; exists {
			return nil
		}
		st.payments[payment.GatewayPaymentID] = payment
		created = true
		return nil
	})
	return created, err
}

func (r *Repository) CreateSubscription(_ context.Context, sub domain.Subscription) error {
	return r.do(func(st *state) error {
		if _, exists := st.subscriptions[sub.ID]; exists {
			return fmt.Errorf("%w: subscription %s exists", domain.ErrConflict, sub.ID)
		}
		st.subscriptions[sub.ID] = sub
		return nil
	})
}

func (r *Repository) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	var out *domain.Subscription
	err := r.do(func(st *state) error {
		s, ok := st.subscriptions[id]
		if !ok {
			return domain.ErrSubscriptionNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *Repository) GetSubscriptionByGatewayID(_ context.Context, gatewayID string) (*domain.Subscription, error) {
	var out *domain.Subscription
	err := r.do(func(st *state) error {
		for _, s := range st.subscriptions {
			if s.GatewaySubscriptionID == gatewayID {
				out = &s
				return nil
			}
		}
		return domain.ErrSubscriptionNotFound
	})
	return out, err
}

func (r *Repository) LockSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return r.GetSubscription(ctx, id)
}

func (r *Repository) ListSubscriptions(_ context.Context, userID string) ([]domain.Subscription, error) {
	var out []domain.Subscription
	err := r.do(func(st *state) error {
		for _, s := range st.subscriptions {
			if s.UserID == userID {
				out = append(out, s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (r *Repository) ListDueSubscriptions(_ context.Context, day time.Time) ([]domain.Subscription, error) {
	var out []domain.Subscription
	err := r.do(func(st *state) error {
		for _, s := range st.subscriptions {
			if s.Status == domain.SubscriptionActive && !s.NextDeliveryDate.After(day) {
				out = append(out, s)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *Repository) UpdateSubscription(_ context.Context, sub domain.Subscription) error {
	return r.do(func(st *state) error {
		if _, ok := st.subscriptions[sub.ID]; !ok {
			return domain.ErrSubscriptionNotFound
		}
		sub.UpdatedAt = time.Now().UTC()
		st.subscriptions[sub.ID] = sub
		return nil
	})
}

func (r *Repository) AppendAudit(_ context.Context, entry domain.AuditEntry) error {
	return r.do(func(st *state) error {
		st.audit = append(st.audit, entry)
		return nil
	})
}

func (r *Repository) ClaimEvent(_ context.Context, key domain.EventKey) (bool, error) {
	claimed := false
	err := r.do(func(st *state) error {
		if _, seen := st.events[key]; seen {
			return nil
		}
		st.events[key] = time.Now().UTC()
		claimed = true
		return nil
	})
	return claimed, err
}

func (r *Repository) CreateIntent(_ context.Context, intent domain.GatewayIntent) error {
	return r.do(func(st *state) error {
		st.intents[intent.ID] = intent
		return nil
	})
}

func (r *Repository) UpdateIntent(_ context.Context, intent domain.GatewayIntent) error {
	return r.do(func(st *state) error {
		if _, ok := st.intents[intent.ID]; !ok {
			return fmt.Errorf("%w: intent %s", domain.ErrNotFound, intent.ID)
		}
		st.intents[intent.ID] = intent
		return nil
	})
}

func (r *Repository) ListStaleIntents(_ context.Context, cutoff time.Time, limit int) ([]domain.GatewayIntent, error) {
	var out []domain.GatewayIntent
	err := r.do(func(st *state) error {
		for _, in := range st.intents {
			if in.Status == domain.IntentPending && in.UpdatedAt.Before(cutoff) {
				out = append(out, in)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}
