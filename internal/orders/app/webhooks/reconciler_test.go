package webhooks_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/adapters/memory"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/subscriptions"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/webhooks"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/metrics"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []ports.Notification
}

func (d *recordingDispatcher) Dispatch(n ports.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, n)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type mockGateway struct {
	ports.PaymentGateway
	verifyFn func(payload []byte, signature string) bool
}

func (m *mockGateway) VerifySignature(payload []byte, signature string) bool {
	if m.verifyFn != nil {
		return m.verifyFn(payload, signature)
	}
	return signature == "valid"
}

type fixture struct {
	repo       *memory.Repository
	notifier   *recordingDispatcher
	reconciler *webhooks.Reconciler
	order      domain.Order
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := memory.NewRepository()
	repo.PutUser(domain.User{ID: "u1", Role: domain.RoleConsumer})
	repo.PutAddress(domain.Address{ID: "a1", UserID: "u1"})
	repo.PutProduct(domain.Product{
		ID:               "p1",
		Name:             "Cold Pressed Groundnut Oil",
		ConsumerPrice:    decimal.RequireFromString("250.00"),
		DistributorPrice: decimal.RequireFromString("200.00"),
		StockQuantity:    10,
		IsActive:         true,
	})
	repo.PutSubscription(domain.Subscription{
		ID:                    "s1",
		UserID:                "u1",
		ProductID:             "p1",
		AddressID:             "a1",
		PlanFrequency:         domain.FrequencyDaily,
		Status:                domain.SubscriptionActive,
		NextDeliveryDate:      domain.Day(time.Now().UTC()),
		GatewaySubscriptionID: "sub_gw_1",
	})

	items := []domain.OrderItem{domain.NewOrderItem("p1", "", 2, decimal.RequireFromString("250.00"))}
	order, err := domain.NewOrder("u1", "a1", items, decimal.Zero, time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to build order: %v", err)
	}
	if err := repo.CreateOrder(ctx, order); err != nil {
		t.Fatalf("failed to store order: %v", err)
	}

	m, err := metrics.NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	notifier := &recordingDispatcher{}
	reconciler, err := webhooks.NewReconciler(repo, &mockGateway{}, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)), m, time.UTC)
	if err != nil {
		t.Fatalf("failed to create reconciler: %v", err)
	}

	return &fixture{repo: repo, notifier: notifier, reconciler: reconciler, order: order}
}

func paymentBody(t *testing.T, event, deliveryID, paymentID, orderID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":    deliveryID,
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{"entity": map[string]any{
				"id":                paymentID,
				"order_id":          "order_gw_1",
				"amount":            50000,
				"currency":          "INR",
				"method":            "upi",
				"error_description": "bank declined",
				"notes":             map[string]string{"order_id": orderID},
			}},
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return body
}

func subscriptionBody(t *testing.T, event, deliveryID, paymentID string) []byte {
	t.Helper()
	payload := map[string]any{
		"subscription": map[string]any{"entity": map[string]any{"id": "sub_gw_1", "status": "active"}},
	}
	if paymentID != "" {
		payload["payment"] = map[string]any{"entity": map[string]any{
			"id": paymentID, "amount": 25000, "currency": "INR", "notes": []string{},
		}}
	}
	body, err := json.Marshal(map[string]any{"id": deliveryID, "event": event, "payload": payload})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return body
}

func TestReconciler_PaymentCaptured(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms the order once across redeliveries", func(t *testing.T) {
		f := newFixture(t)

		first, err := f.reconciler.Handle(ctx, paymentBody(t, "payment.captured", "evt_1", "pay_1", f.order.ID), "valid")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if first.Status != webhooks.StatusSuccess {
			t.Errorf("expected success, got %s", first.Status)
		}

		second, err := f.reconciler.Handle(ctx, paymentBody(t, "payment.captured", "evt_2", "pay_1", f.order.ID), "valid")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if second.Status != webhooks.StatusAlreadyProcessed {
			t.Errorf("expected already_processed, got %s", second.Status)
		}

		payments := f.repo.Payments()
		if len(payments) != 1 || payments[0].Status != domain.PaymentPaid {
			t.Fatalf("expected exactly one PAID payment, got %+v", payments)
		}
		if !payments[0].Amount.Equal(decimal.RequireFromString("500")) {
			t.Errorf("expected amount 500, got %s", payments[0].Amount)
		}

		order, _ := f.repo.GetOrder(ctx, f.order.ID)
		if order.OrderStatus != domain.OrderConfirmed || order.PaymentStatus != domain.PaymentPaid {
			t.Errorf("expected CONFIRMED/PAID, got %s/%s", order.OrderStatus, order.PaymentStatus)
		}

		captured := 0
		for _, e := range f.repo.AuditEntries() {
			if e.Action == domain.AuditPaymentCaptured {
				captured++
			}
		}
		if captured != 1 {
			t.Errorf("expected one audit entry, got %d", captured)
		}
		if f.notifier.count() != 1 {
			t.Errorf("expected one notification, got %d", f.notifier.count())
		}
	})

	t.Run("applies concurrent redeliveries once", func(t *testing.T) {
		f := newFixture(t)

		body := paymentBody(t, "payment.captured", "evt", "pay_1", f.order.ID)
		var wg sync.WaitGroup
		results := make([]webhooks.Result, 8)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], _ = f.reconciler.Handle(ctx, body, "valid")
			}()
		}
		wg.Wait()

		successes := 0
		for _, r := range results {
			if r.Status == webhooks.StatusSuccess {
				successes++
			}
		}
		if successes != 1 {
			t.Errorf("expected one success, got %d", successes)
		}
		if n := len(f.repo.Payments()); n != 1 {
			t.Errorf("expected one payment, got %d", n)
		}
	})

	t.Run("marks a cancelled order paid so it can be refunded", func(t *testing.T) {
		f := newFixture(t)
		if err := f.repo.UpdateOrderStatus(ctx, f.order.ID, domain.OrderCancelled, domain.PaymentPending); err != nil {
			t.Fatalf("failed to cancel order: %v", err)
		}

		if _, err := f.reconciler.Handle(ctx, paymentBody(t, "payment.captured", "evt_1", "pay_1", f.order.ID), "valid"); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		order, _ := f.repo.GetOrder(ctx, f.order.ID)
		if order.OrderStatus != domain.OrderCancelled || order.PaymentStatus != domain.PaymentPaid {
			t.Errorf("expected CANCELLED/PAID, got %s/%s", order.OrderStatus, order.PaymentStatus)
		}
		if n := len(f.repo.Payments()); n != 1 {
			t.Errorf("expected one payment, got %d", n)
		}
		if f.notifier.count() != 0 {
			t.Errorf("expected no confirmation, got %d notifications", f.notifier.count())
		}
	})

	t.Run("leaves a refunded order refunded", func(t *testing.T) {
		f := newFixture(t)
		if err := f.repo.UpdateOrderStatus(ctx, f.order.ID, domain.OrderRefunded, domain.PaymentRefunded); err != nil {
			t.Fatalf("failed to refund order: %v", err)
		}

		if _, err := f.reconciler.Handle(ctx, paymentBody(t, "payment.captured", "evt_1", "pay_1", f.order.ID), "valid"); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		order, _ := f.repo.GetOrder(ctx, f.order.ID)
		if order.PaymentStatus != domain.PaymentRefunded {
			t.Errorf("expected payment to stay REFUNDED, got %s", order.PaymentStatus)
		}
	})

	t.Run("rolls back when the order is unknown", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.reconciler.Handle(ctx, paymentBody(t, "payment.captured", "evt_1", "pay_1", "missing"), "valid")
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
		if n := len(f.repo.Payments()); n != 0 {
			t.Errorf("expected no payment, got %d", n)
		}

		// The claim rolled back with the failure, so a retry is processed.
		if _, err := f.reconciler.Handle(ctx, paymentBody(t, "payment.captured", "evt_1", "pay_1", f.order.ID), "valid"); err != nil {
			t.Errorf("expected retry to succeed, got: %v", err)
		}
	})
}

func TestReconciler_PaymentFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.reconciler.Handle(ctx, paymentBody(t, "payment.failed", "evt_1", "pay_1", f.order.ID), "valid"); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	order, _ := f.repo.GetOrder(ctx, f.order.ID)
	if order.OrderStatus != domain.OrderPending {
		t.Errorf("expected order to stay PENDING, got %s", order.OrderStatus)
	}
	if order.PaymentStatus != domain.PaymentFailed {
		t.Errorf("expected payment FAILED, got %s", order.PaymentStatus)
	}
	payments := f.repo.Payments()
	if len(payments) != 1 || payments[0].Status != domain.PaymentFailed || payments[0].ErrorReason != "bank declined" {
		t.Errorf("expected one FAILED payment with reason, got %+v", payments)
	}

	// A retried checkout can still be captured.
	if _, err := f.reconciler.Handle(ctx, paymentBody(t, "payment.captured", "evt_2", "pay_2", f.order.ID), "valid"); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	order, _ = f.repo.GetOrder(ctx, f.order.ID)
	if order.OrderStatus != domain.OrderConfirmed || order.PaymentStatus != domain.PaymentPaid {
		t.Errorf("expected CONFIRMED/PAID, got %s/%s", order.OrderStatus, order.PaymentStatus)
	}
}

func TestReconciler_Subscriptions(t *testing.T) {
	ctx := context.Background()

	t.Run("charged creates one delivery order", func(t *testing.T) {
		f := newFixture(t)

		if _, err := f.reconciler.Handle(ctx, subscriptionBody(t, "subscription.charged", "evt_1", "pay_s1"), "valid"); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		res, err := f.reconciler.Handle(ctx, subscriptionBody(t, "subscription.charged", "evt_2", "pay_s1"), "valid")
		if err != nil || res.Status != webhooks.StatusAlreadyProcessed {
			t.Fatalf("expected already_processed, got %+v err=%v", res, err)
		}

		payments := f.repo.Payments()
		if len(payments) != 1 || payments[0].SubscriptionID != "s1" {
			t.Errorf("expected one subscription payment, got %+v", payments)
		}

		orders, _ := f.repo.ListOrders(ctx, ports.ListFilter{UserID: "u1"})
		delivered := 0
		for _, o := range orders {
			if o.SubscriptionID == "s1" {
				delivered++
				if o.OrderStatus != domain.OrderConfirmed || o.PaymentStatus != domain.PaymentPaid {
					t.Errorf("expected CONFIRMED/PAID delivery order, got %s/%s", o.OrderStatus, o.PaymentStatus)
				}
			}
		}
		if delivered != 1 {
			t.Errorf("expected one delivery order, got %d", delivered)
		}

		p, _ := f.repo.GetProduct(ctx, "p1")
		if p.StockQuantity != 9 {
			t.Errorf("expected stock 9, got %d", p.StockQuantity)
		}
	})

	t.Run("charge for a new payment on a delivered day records payment only", func(t *testing.T) {
		f := newFixture(t)

		_, _ = f.reconciler.Handle(ctx, subscriptionBody(t, "subscription.charged", "evt_1", "pay_s1"), "valid")
		if _, err := f.reconciler.Handle(ctx, subscriptionBody(t, "subscription.charged", "evt_2", "pay_s2"), "valid"); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if n := len(f.repo.Payments()); n != 2 {
			t.Errorf("expected two payments, got %d", n)
		}
		p, _ := f.repo.GetProduct(ctx, "p1")
		if p.StockQuantity != 9 {
			t.Errorf("expected a single delivery, stock 9, got %d", p.StockQuantity)
		}
	})

	t.Run("charged keys the delivery on the scheduler's calendar day", func(t *testing.T) {
		f := newFixture(t)
		ist := time.FixedZone("IST", 5*3600+1800)
		m, err := metrics.NewMetrics(noop.NewMeterProvider().Meter("test"))
		if err != nil {
			t.Fatalf("failed to create metrics: %v", err)
		}
		reconciler, err := webhooks.NewReconciler(f.repo, &mockGateway{}, f.notifier, slog.New(slog.NewTextHandler(io.Discard, nil)), m, ist)
		if err != nil {
			t.Fatalf("failed to create reconciler: %v", err)
		}
		// 01:30 on the 11th in IST, still the 10th in UTC.
		now := time.Date(2024, 1, 10, 20, 0, 0, 0, time.UTC)
		webhooks.SetClock(reconciler, func() time.Time { return now })

		if _, err := reconciler.Handle(ctx, subscriptionBody(t, "subscription.charged", "evt_1", "pay_s1"), "valid"); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		orders, _ := f.repo.ListOrders(ctx, ports.ListFilter{UserID: "u1"})
		var delivery *domain.Order
		for i := range orders {
			if orders[i].SubscriptionID == "s1" {
				delivery = &orders[i]
			}
		}
		want := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
		if delivery == nil || delivery.DeliveryDate == nil || !delivery.DeliveryDate.Equal(want) {
			t.Fatalf("expected delivery dated 2024-01-11, got %+v", delivery)
		}

		// The scheduler's run for the same local day finds it delivered.
		var outcome subscriptions.DeliveryOutcome
		err = f.repo.WithinTx(ctx, func(ctx context.Context, tx ports.Repository) error {
			d, err := subscriptions.Deliver(ctx, tx, "s1", want, now)
			outcome = d.Outcome
			return err
		})
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if outcome != subscriptions.OutcomeAlreadyDelivered {
			t.Errorf("expected already delivered, got %s", outcome)
		}
	})

	t.Run("cancelled cancels the subscription", func(t *testing.T) {
		f := newFixture(t)

		if _, err := f.reconciler.Handle(ctx, subscriptionBody(t, "subscription.cancelled", "evt_1", ""), "valid"); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		sub, _ := f.repo.GetSubscription(ctx, "s1")
		if sub.Status != domain.SubscriptionCancelled {
			t.Errorf("expected CANCELLED, got %s", sub.Status)
		}
	})
}

func TestReconciler_Rejects(t *testing.T) {
	ctx := context.Background()

	t.Run("bad signature", func(t *testing.T) {
		f := newFixture(t)
		for _, sig := range []string{"", "forged"} {
			_, err := f.reconciler.Handle(ctx, paymentBody(t, "payment.captured", "evt_1", "pay_1", f.order.ID), sig)
			if !errors.Is(err, domain.ErrInvalidSignature) {
				t.Errorf("signature %q: expected ErrInvalidSignature, got %v", sig, err)
			}
		}

		// Nothing was claimed, so a correctly signed delivery is applied.
		res, err := f.reconciler.Handle(ctx, paymentBody(t, "payment.captured", "evt_1", "pay_1", f.order.ID), "valid")
		if err != nil || res.Status != webhooks.StatusSuccess {
			t.Errorf("expected success, got %+v err=%v", res, err)
		}
	})

	t.Run("malformed bodies", func(t *testing.T) {
		f := newFixture(t)
		bodies := map[string]string{
			"not json":        `{"event":`,
			"missing event":   `{"payload":{}}`,
			"missing payment": `{"event":"payment.captured","payload":{}}`,
			"empty entity id": `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"","amount":1}}}}`,
			"missing sub":     `{"event":"subscription.cancelled","payload":{"payment":{"entity":{"id":"p","amount":1}}}}`,
		}
		for name, body := range bodies {
			t.Run(name, func(t *testing.T) {
				if _, err := f.reconciler.Handle(ctx, []byte(body), "valid"); !errors.Is(err, domain.ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
			})
		}
	})

	t.Run("payment without order note", func(t *testing.T) {
		f := newFixture(t)
		body := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","amount":100,"notes":[]}}}}`
		if _, err := f.reconciler.Handle(ctx, []byte(body), "valid"); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("unknown events are acknowledged and ignored", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.reconciler.Handle(ctx, []byte(`{"event":"refund.created","payload":{}}`), "valid")
		if err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if res.Status != webhooks.StatusSuccess || res.Event != "refund.created" {
			t.Errorf("unexpected result: %+v", res)
		}
	})
}
