package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/text/language"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type mockNotifier struct {
	notifyFn func(ctx context.Context, n ports.Notification) error
}

func (m *mockNotifier) Notify(ctx context.Context, n ports.Notification) error {
	if m.notifyFn != nil {
		return m.notifyFn(ctx, n)
	}
	return nil
}

func testMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	return m
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher(t *testing.T) {
	t.Run("delivers queued notifications before close returns", func(t *testing.T) {
		var mu sync.Mutex
		var got []string
		notifier := &mockNotifier{notifyFn: func(_ context.Context, n ports.Notification) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, n.EntityID)
			return nil
		}}

		d := NewDispatcher(notifier, discardLogger(), testMetrics(t), Config{QueueSize: 10, Workers: 2})
		for _, id := range []string{"o1", "o2", "o3"} {
			d.Dispatch(ports.Notification{Kind: ports.NotifyOrderPlaced, EntityID: id})
		}

		if err := d.Close(context.Background()); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}

		if len(got) != 3 {
			t.Errorf("expected 3 deliveries, got %d", len(got))
		}
	})

	t.Run("drops notifications when the queue is full", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		var delivered sync.WaitGroup
		var count int
		var mu sync.Mutex
		notifier := &mockNotifier{notifyFn: func(_ context.Context, n ports.Notification) error {
			if n.EntityID == "first" {
				close(started)
				<-release
			}
			mu.Lock()
			count++
			mu.Unlock()
			delivered.Done()
			return nil
		}}

		d := NewDispatcher(notifier, discardLogger(), testMetrics(t), Config{QueueSize: 1, Workers: 1})
		delivered.Add(2)
		d.Dispatch(ports.Notification{EntityID: "first"})
		<-started
		d.Dispatch(ports.Notification{EntityID: "second"})
		d.Dispatch(ports.Notification{EntityID: "third"})
		close(release)
		delivered.Wait()

		if err := d.Close(context.Background()); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 deliveries with one dropped, got %d", count)
		}
	})

	t.Run("swallows notifier errors", func(t *testing.T) {
		notifier := &mockNotifier{notifyFn: func(context.Context, ports.Notification) error {
			return errors.New("sms gateway down")
		}}

		d := NewDispatcher(notifier, discardLogger(), testMetrics(t), Config{})
		d.Dispatch(ports.Notification{Kind: ports.NotifyPaymentFailed, EntityID: "o1"})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := d.Close(ctx); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
	})

	t.Run("ignores dispatch after close", func(t *testing.T) {
		d := NewDispatcher(&mockNotifier{}, discardLogger(), testMetrics(t), Config{})
		_ = d.Close(context.Background())
		d.Dispatch(ports.Notification{EntityID: "late"})
	})
}

func TestRenderer(t *testing.T) {
	r := NewRenderer(language.English)

	t.Run("formats amounts with grouping and two decimals", func(t *testing.T) {
		body := r.Render(ports.Notification{
			Kind: ports.NotifyOrderPlaced,
			Data: map[string]string{"order_number": "ORD-1", "amount": "12345.5"},
		})
		if !strings.Contains(body, "₹12,345.50") {
			t.Errorf("expected formatted amount in %q", body)
		}
		if !strings.Contains(body, "ORD-1") {
			t.Errorf("expected order number in %q", body)
		}
	})

	t.Run("keeps unparsable amounts verbatim", func(t *testing.T) {
		body := r.Render(ports.Notification{
			Kind: ports.NotifyOrderRefunded,
			Data: map[string]string{"order_number": "ORD-2", "amount": "n/a"},
		})
		if !strings.Contains(body, "n/a") {
			t.Errorf("expected raw amount in %q", body)
		}
	})
}
