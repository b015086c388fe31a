package queries_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/adapters/memory"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/queries"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type mockOrderRepository struct {
	ports.OrderRepository
	getOrderFn   func(ctx context.Context, id string) (*domain.Order, error)
	listOrdersFn func(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error)
}

func (m *mockOrderRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return m.getOrderFn(ctx, id)
}

func (m *mockOrderRepository) ListOrders(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	return m.listOrdersFn(ctx, filter)
}

func TestGetOrder(t *testing.T) {
	ctx := context.Background()
	repo := &mockOrderRepository{getOrderFn: func(_ context.Context, id string) (*domain.Order, error) {
		if id != "order-1" {
			return nil, domain.ErrOrderNotFound
		}
		return &domain.Order{ID: id, UserID: "u1", OrderStatus: domain.OrderPending}, nil
	}}
	handler := queries.NewGetOrderQueryHandler(repo)

	t.Run("returns the caller's own order", func(t *testing.T) {
		order, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "order-1", UserID: "u1", Role: domain.RoleConsumer})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if order.ID != "order-1" {
			t.Errorf("expected order-1, got %s", order.ID)
		}
	})

	t.Run("hides other users' orders", func(t *testing.T) {
		_, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "order-1", UserID: "u2", Role: domain.RoleDistributor})
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Errorf("expected ErrOrderNotFound, got %v", err)
		}
	})

	t.Run("lets owners read any order", func(t *testing.T) {
		if _, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "order-1", UserID: "boss", Role: domain.RoleOwner}); err != nil {
			t.Errorf("expected no error, got: %v", err)
		}
	})

	t.Run("returns validation error when order id is empty", func(t *testing.T) {
		_, err := handler.Handle(ctx, queries.GetOrderQuery{OrderID: "  "})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestListOrders(t *testing.T) {
	ctx := context.Background()
	var got ports.ListFilter
	repo := &mockOrderRepository{listOrdersFn: func(_ context.Context, filter ports.ListFilter) ([]domain.Order, error) {
		got = filter
		return []domain.Order{}, nil
	}}
	handler := queries.NewListOrdersQueryHandler(repo)

	t.Run("scopes non-owners to their own orders", func(t *testing.T) {
		_, _ = handler.Handle(ctx, queries.ListOrdersQuery{Filter: ports.ListFilter{UserID: "someone-else"}, UserID: "u1", Role: domain.RoleConsumer})
		if got.UserID != "u1" {
			t.Errorf("expected filter user u1, got %q", got.UserID)
		}
		if got.Page != 1 || got.PageSize != 20 {
			t.Errorf("expected default paging 1/20, got %d/%d", got.Page, got.PageSize)
		}
	})

	t.Run("lets owners filter freely", func(t *testing.T) {
		status := domain.OrderConfirmed
		_, _ = handler.Handle(ctx, queries.ListOrdersQuery{Filter: ports.ListFilter{Status: &status, PageSize: 500}, UserID: "boss", Role: domain.RoleOwner})
		if got.UserID != "" {
			t.Errorf("expected no user filter, got %q", got.UserID)
		}
		if got.PageSize != 100 {
			t.Errorf("expected page size capped at 100, got %d", got.PageSize)
		}
	})
}

func TestValidateCart(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	repo.PutProduct(domain.Product{ID: "p1", Name: "Ghee", StockQuantity: 5, IsActive: true, ConsumerPrice: decimal.NewFromInt(500)})
	repo.PutProduct(domain.Product{ID: "p2", Name: "Honey", StockQuantity: 1, IsActive: true, ConsumerPrice: decimal.NewFromInt(300)})
	repo.PutProduct(domain.Product{ID: "p3", Name: "Jaggery", StockQuantity: 50, IsActive: false})
	repo.AddToCart("u1", "p1", 3, decimal.NewFromInt(500))
	repo.AddToCart("u1", "p2", 2, decimal.NewFromInt(300))
	repo.AddToCart("u1", "p3", 1, decimal.NewFromInt(100))
	handler := queries.NewValidateCartQueryHandler(repo)

	t.Run("reports every issue at once", func(t *testing.T) {
		result, err := handler.Handle(ctx, queries.ValidateCartQuery{UserID: "u1"})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if result.Valid {
			t.Error("expected cart to be invalid")
		}
		if len(result.Errors) != 2 {
			t.Errorf("expected 2 errors, got %+v", result.Errors)
		}
		if len(result.Warnings) != 1 || result.Warnings[0].ProductID != "p1" {
			t.Errorf("expected low stock warning for p1, got %+v", result.Warnings)
		}
	})

	t.Run("has no side effects", func(t *testing.T) {
		_, _ = handler.Handle(ctx, queries.ValidateCartQuery{UserID: "u1"})
		if repo.CartSize("u1") != 3 {
			t.Errorf("expected cart to keep 3 lines, got %d", repo.CartSize("u1"))
		}
		p, _ := repo.GetProduct(ctx, "p1")
		if p.StockQuantity != 5 {
			t.Errorf("expected stock 5, got %d", p.StockQuantity)
		}
	})

	t.Run("reports an empty cart", func(t *testing.T) {
		_, err := handler.Handle(ctx, queries.ValidateCartQuery{UserID: "nobody"})
		if !errors.Is(err, domain.ErrEmptyCart) {
			t.Errorf("expected ErrEmptyCart, got %v", err)
		}
	})
}
