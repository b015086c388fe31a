package memory

import (
	"slices"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
)

type cartRow struct {
	cart  domain.Cart
	items []domain.CartItem
}

type state struct {
	users         map[string]domain.User
	addresses     map[string]domain.Address
	products      map[string]domain.Product
	carts         map[string]cartRow
	rules         []domain.BulkDiscountRule
	orders        map[string]domain.Order
	payments      map[string]domain.Payment
	subscriptions map[string]domain.Subscription
	audit         []domain.AuditEntry
	events        map[domain.EventKey]time.Time
	intents       map[string]domain.GatewayIntent
}

func newState() *state {
	return &state{
		users:         make(map[string]domain.User),
		addresses:     make(map[string]domain.Address),
		products:      make(map[string]domain.Product),
		carts:         make(map[string]cartRow),
		orders:        make(map[string]domain.Order),
		payments:      make(map[string]domain.Payment),
		subscriptions: make(map[string]domain.Subscription),
		events:        make(map[domain.EventKey]time.Time),
		intents:       make(map[string]domain.GatewayIntent),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:         cloneMap(s.users),
		addresses:     cloneMap(s.addresses),
		products:      cloneMap(s.products),
		carts:         make(map[string]cartRow, len(s.carts)),
		rules:         slices.Clone(s.rules),
		orders:        make(map[string]domain.Order, len(s.orders)),
		payments:      cloneMap(s.payments),
		subscriptions: cloneMap(s.subscriptions),
		audit:         slices.Clone(s.audit),
		events:        cloneMap(s.events),
		intents:       cloneMap(s.intents),
	}
	for k, v := range s.carts {
		v.items = slices.Clone(v.items)
		c.carts[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	if o.DeliveryDate != nil {
		d := *o.DeliveryDate
		o.DeliveryDate = &d
	}
	return o
}
