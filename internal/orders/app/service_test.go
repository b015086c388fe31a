package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric/noop"

	idemmemory "github.com/aspect2729/indostarnaturals-sub000/internal/idempotency/memory"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/adapters/memory"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/metrics"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(ports.Notification) {}

type mockGateway struct {
	ports.PaymentGateway
	createOrderFn func(ctx context.Context, amount int64, currency, reference string) (*ports.GatewayOrder, error)
}

func (m *mockGateway) CreateOrder(ctx context.Context, amount int64, currency, reference string) (*ports.GatewayOrder, error) {
	return m.createOrderFn(ctx, amount, currency, reference)
}

func newService(t *testing.T, gw ports.PaymentGateway) (*app.Service, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	repo.PutUser(domain.User{ID: "u1", Role: domain.RoleConsumer})
	repo.PutAddress(domain.Address{ID: "a1", UserID: "u1"})
	repo.PutProduct(domain.Product{ID: "p1", Name: "Ghee", ConsumerPrice: decimal.NewFromInt(650), StockQuantity: 5, IsActive: true})
	repo.AddToCart("u1", "p1", 2, decimal.NewFromInt(650))

	m, err := metrics.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	svc, err := app.NewService(repo, gw, nopDispatcher{}, idemmemory.NewStore(0), slog.New(slog.NewTextHandler(io.Discard, nil)), m, time.UTC)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc, repo
}

func TestService_CreateOrder(t *testing.T) {
	ctx := context.Background()
	caller := app.Principal{UserID: "u1", Role: domain.RoleConsumer}

	t.Run("opens a gateway payment for the new order", func(t *testing.T) {
		var reference string
		var amount int64
		svc, _ := newService(t, &mockGateway{createOrderFn: func(_ context.Context, a int64, c, ref string) (*ports.GatewayOrder, error) {
			reference, amount = ref, a
			return &ports.GatewayOrder{ID: "order_gw_1", Amount: a, Currency: c}, nil
		}})

		checkout, err := svc.CreateOrder(ctx, caller, app.CreateOrderInput{AddressID: "a1"})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if checkout.Payment == nil || checkout.Payment.GatewayOrderID != "order_gw_1" {
			t.Fatalf("expected payment session, got %+v", checkout.Payment)
		}
		if reference != checkout.Order.ID {
			t.Errorf("expected gateway reference %s, got %s", checkout.Order.ID, reference)
		}
		if amount != 130000 {
			t.Errorf("expected 130000 paise, got %d", amount)
		}

		stored, _ := svc.GetOrder(ctx, caller, checkout.Order.ID)
		if stored.GatewayOrderID != "order_gw_1" {
			t.Errorf("expected gateway order id to be stored, got %q", stored.GatewayOrderID)
		}
	})

	t.Run("keeps the order when the gateway is down", func(t *testing.T) {
		svc, repo := newService(t, &mockGateway{createOrderFn: func(context.Context, int64, string, string) (*ports.GatewayOrder, error) {
			return nil, errors.New("connection refused")
		}})

		checkout, err := svc.CreateOrder(ctx, caller, app.CreateOrderInput{AddressID: "a1"})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if checkout.Payment != nil {
			t.Errorf("expected no payment session, got %+v", checkout.Payment)
		}
		p, _ := repo.GetProduct(ctx, "p1")
		if p.StockQuantity != 3 {
			t.Errorf("expected stock 3, got %d", p.StockQuantity)
		}

		_, err = svc.InitiatePayment(ctx, caller, checkout.Order.ID)
		if !errors.Is(err, domain.ErrExternal) {
			t.Errorf("expected ErrExternal on retry, got %v", err)
		}
	})
}

func TestService_Idempotency(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, &mockGateway{})

	if got, err := svc.GetIdempotentResponse(ctx, "u1:key-1"); err != nil || got != nil {
		t.Fatalf("expected no stored response, got %+v err=%v", got, err)
	}

	response := ports.StoredResponse{StatusCode: 201, Body: []byte(`{"order":{}}`), OrderID: "order-1"}
	if err := svc.SaveIdempotentResponse(ctx, "u1:key-1", response); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	got, err := svc.GetIdempotentResponse(ctx, "u1:key-1")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got.StatusCode != 201 || got.OrderID != "order-1" {
		t.Errorf("unexpected stored response: %+v", got)
	}
}

func TestService_CreateSubscription_RejectsBadStartDate(t *testing.T) {
	svc, _ := newService(t, &mockGateway{})
	_, err := svc.CreateSubscription(context.Background(), app.Principal{UserID: "u1"}, app.CreateSubscriptionInput{
		ProductID: "p1", AddressID: "a1", PlanFrequency: "DAILY", StartDate: "10/01/2024",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
