//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aspect2729/indostarnaturals-sub000/internal/database/dbtest"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/adapters/postgres"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

func seed(t *testing.T, pool *pgxpool.Pool, stock int) {
	t.Helper()
	ctx := context.Background()
	stmts := []string{
		`INSERT INTO users (id, role, email) VALUES ('u1', 'CONSUMER', 'u1@example.com'), ('u2', 'DISTRIBUTOR', NULL)`,
		`INSERT INTO addresses (id, user_id) VALUES ('a1', 'u1'), ('a2', 'u2')`,
		`INSERT INTO categories (id, name) VALUES ('c1', 'Oils')`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	_, err := pool.Exec(ctx,
		`INSERT INTO products (id, name, sku, category_id, consumer_price, distributor_price, stock_quantity)
		 VALUES ('p1', 'Coconut Oil', 'SKU-1', 'c1', 100.00, 80.00, $1)`, stock)
	if err != nil {
		t.Fatalf("seed product failed: %v", err)
	}
}

func newOrder(t *testing.T, userID, addressID string, qty int) domain.Order {
	t.Helper()
	items := []domain.OrderItem{domain.NewOrderItem("p1", "c1", qty, decimal.RequireFromString("100.00"))}
	order, err := domain.NewOrder(userID, addressID, items, decimal.Zero, time.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		t.Fatalf("failed to build order: %v", err)
	}
	return order
}

func TestRepository_CreateAndGetOrder(t *testing.T) {
	pool := dbtest.NewPool(t)
	seed(t, pool, 10)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()

	order := newOrder(t, "u1", "a1", 3)
	if err := repo.CreateOrder(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	got, err := repo.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to get order: %v", err)
	}

	if got.OrderNumber != order.OrderNumber {
		t.Errorf("expected order number %s, got %s", order.OrderNumber, got.OrderNumber)
	}
	if !got.FinalAmount.Equal(decimal.RequireFromString("300")) {
		t.Errorf("expected final amount 300, got %s", got.FinalAmount)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 3 {
		t.Errorf("expected one line of 3 units, got %+v", got.Items)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("expected stored order to validate, got: %v", err)
	}

	if err := repo.CreateOrder(ctx, order); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected conflict on duplicate order, got %v", err)
	}

	if _, err := repo.GetOrder(ctx, uuid.NewString()); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestRepository_ListOrders(t *testing.T) {
	pool := dbtest.NewPool(t)
	seed(t, pool, 10)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()

	for range 3 {
		if err := repo.CreateOrder(ctx, newOrder(t, "u1", "a1", 1)); err != nil {
			t.Fatalf("failed to create order: %v", err)
		}
	}
	if err := repo.CreateOrder(ctx, newOrder(t, "u2", "a2", 1)); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	page, err := repo.ListOrders(ctx, ports.ListFilter{UserID: "u1", Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 orders on first page, got %d", len(page))
	}
	if page[0].CreatedAt.Before(page[1].CreatedAt) {
		t.Error("expected newest order first")
	}

	pending := domain.OrderPending
	all, err := repo.ListOrders(ctx, ports.ListFilter{Status: &pending, PageSize: 50})
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 pending orders, got %d", len(all))
	}
}

func TestRepository_DecrementStock_Concurrent(t *testing.T) {
	pool := dbtest.NewPool(t)
	seed(t, pool, 10)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()

	orders := []domain.Order{newOrder(t, "u1", "a1", 6), newOrder(t, "u1", "a1", 6)}
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = repo.WithinTx(ctx, func(ctx context.Context, tx ports.Repository) error {
				if err := tx.DecrementStock(ctx, "p1", 6); err != nil {
					return err
				}
				return tx.CreateOrder(ctx, orders[i])
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientStock):
			var stockErr *domain.StockError
			if !errors.As(err, &stockErr) || stockErr.Available != 4 {
				t.Errorf("expected stock error with 4 available, got %v", err)
			}
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one successful checkout, got %d", succeeded)
	}

	p, err := repo.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("failed to get product: %v", err)
	}
	if p.StockQuantity != 4 {
		t.Errorf("expected stock 4, got %d", p.StockQuantity)
	}

	committed, _ := repo.ListOrders(ctx, ports.ListFilter{UserID: "u1"})
	if len(committed) != 1 {
		t.Errorf("expected one order to be committed, got %d", len(committed))
	}
}

func TestRepository_WithinTx_RollsBack(t *testing.T) {
	pool := dbtest.NewPool(t)
	seed(t, pool, 10)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(ctx context.Context, tx ports.Repository) error {
		if err := tx.DecrementStock(ctx, "p1", 5); err != nil {
			return err
		}
		if _, err := tx.ClaimEvent(ctx, domain.EventKey{Type: "refund.processed", EntityID: "rfnd_1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	p, _ := repo.GetProduct(ctx, "p1")
	if p.StockQuantity != 10 {
		t.Errorf("expected stock to be restored to 10, got %d", p.StockQuantity)
	}

	claimed, err := repo.ClaimEvent(ctx, domain.EventKey{Type: "refund.processed", EntityID: "rfnd_1"})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !claimed {
		t.Error("expected rolled back claim to be claimable again")
	}
}

func TestRepository_PaymentsAreUniquePerGatewayID(t *testing.T) {
	pool := dbtest.NewPool(t)
	seed(t, pool, 10)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()

	order := newOrder(t, "u1", "a1", 1)
	if err := repo.CreateOrder(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	payment := domain.Payment{
		ID:               uuid.NewString(),
		OrderID:          order.ID,
		GatewayPaymentID: "pay_1",
		Amount:           order.FinalAmount,
		Currency:         domain.Currency,
		Status:           domain.PaymentPaid,
		CreatedAt:        time.Now().UTC(),
	}

	created, err := repo.CreatePayment(ctx, payment)
	if err != nil || !created {
		t.Fatalf("expected first payment to be created, got created=%v err=%v", created, err)
	}

	payment.ID = uuid.NewString()
	created, err = repo.CreatePayment(ctx, payment)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if created {
		t.Error("expected duplicate gateway payment id to be ignored")
	}
}

func TestRepository_Subscriptions(t *testing.T) {
	pool := dbtest.NewPool(t)
	seed(t, pool, 10)
	repo := postgres.NewRepository(pool)
	ctx := context.Background()

	today := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	sub := domain.Subscription{
		ID:                    uuid.NewString(),
		UserID:                "u1",
		ProductID:             "p1",
		AddressID:             "a1",
		PlanFrequency:         domain.FrequencyDaily,
		Status:                domain.SubscriptionActive,
		NextDeliveryDate:      today,
		GatewaySubscriptionID: "sub_gw_1",
		CreatedAt:             time.Now().UTC(),
		UpdatedAt:             time.Now().UTC(),
	}
	if err := repo.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}

	due, err := repo.ListDueSubscriptions(ctx, today)
	if err != nil {
		t.Fatalf("failed to list due subscriptions: %v", err)
	}
	if len(due) != 1 || due[0].ID != sub.ID {
		t.Fatalf("expected subscription to be due, got %+v", due)
	}

	sub.Advance(today)
	if err := repo.UpdateSubscription(ctx, sub); err != nil {
		t.Fatalf("failed to update subscription: %v", err)
	}

	got, err := repo.GetSubscriptionByGatewayID(ctx, "sub_gw_1")
	if err != nil {
		t.Fatalf("failed to get subscription: %v", err)
	}
	if !got.NextDeliveryDate.Equal(today.AddDate(0, 0, 1)) {
		t.Errorf("expected next delivery 2024-01-11, got %s", got.NextDeliveryDate)
	}

	due, _ = repo.ListDueSubscriptions(ctx, today)
	if len(due) != 0 {
		t.Errorf("expected no due subscriptions after advance, got %d", len(due))
	}
}
