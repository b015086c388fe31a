package memory

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
)

// The methods below seed and inspect state owned by collaborators outside the
// order core (catalog, accounts, carts). They exist for tests and local runs.

func (r *Repository) PutUser(u domain.User) {
	_ = r.do(func(st *state) error { st.users[u.ID] = u; return nil })
}

func (r *Repository) PutAddress(a domain.Address) {
	_ = r.do(func(st *state) error { st.addresses[a.ID] = a; return nil })
}

func (r *Repository) PutProduct(p domain.Product) {
	_ = r.do(func(st *state) error { st.products[p.ID] = p; return nil })
}

func (r *Repository) PutDiscountRule(rule domain.BulkDiscountRule) {
	_ = r.do(func(st *state) error { st.rules = append(st.rules, rule); return nil })
}

func (r *Repository) PutSubscription(s domain.Subscription) {
	_ = r.do(func(st *state) error { st.subscriptions[s.ID] = s; return nil })
}

// AddToCart adds qty units at unitPrice to the user's cart, creating it if needed.
func (r *Repository) AddToCart(userID, productID string, qty int, unitPrice decimal.Decimal) {
	_ = r.do(func(st *state) error {
		row, ok := st.carts[userID]
		if !ok {
			row.cart = domain.Cart{ID: "cart-" + userID, UserID: userID}
		}
		row.items = append(row.items, domain.CartItem{ProductID: productID, Quantity: qty, UnitPrice: unitPrice})
		st.carts[userID] = row
		return nil
	})
}

func (r *Repository) SetCartDiscount(userID string, amount decimal.Decimal) {
	_ = r.do(func(st *state) error {
		row := st.carts[userID]
		row.cart.DiscountAmount = amount
		st.carts[userID] = row
		return nil
	})
}

// CartSize returns the number of lines in the user's cart.
func (r *Repository) CartSize(userID string) int {
	n := 0
	_ = r.do(func(st *state) error { n = len(st.carts[userID].items); return nil })
	return n
}

func (r *Repository) AuditEntries() []domain.AuditEntry {
	var out []domain.AuditEntry
	_ = r.do(func(st *state) error { out = slices.Clone(st.audit); return nil })
	return out
}

func (r *Repository) Payments() []domain.Payment {
	var out []domain.Payment
	_ = r.do(func(st *state) error {
		for _, p := range st.payments {
			out = append(out, p)
		}
		return nil
	})
	return out
}

func (r *Repository) Intents() []domain.GatewayIntent {
	var out []domain.GatewayIntent
	_ = r.do(func(st *state) error {
		for _, in := range st.intents {
			out = append(out, in)
		}
		return nil
	})
	return out
}

// AgeIntent moves an intent's last update back by d.
func (r *Repository) AgeIntent(id string, d time.Duration) {
	_ = r.do(func(st *state) error {
		in := st.intents[id]
		in.UpdatedAt = in.UpdatedAt.Add(-d)
		st.intents[id] = in
		return nil
	})
}
