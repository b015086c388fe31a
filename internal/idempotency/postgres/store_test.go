//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aspect2729/indostarnaturals-sub000/internal/database/dbtest"
	"github.com/aspect2729/indostarnaturals-sub000/internal/idempotency/postgres"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

func TestStoreSaveAndGet(t *testing.T) {
	store := postgres.NewStore(dbtest.NewPool(t), 0)
	ctx := context.Background()

	first := ports.StoredResponse{StatusCode: 201, Body: []byte(`{"id":"order-1"}`), OrderID: "order-1"}
	second := ports.StoredResponse{StatusCode: 201, Body: []byte(`{"id":"order-2"}`), OrderID: "order-2"}

	if err := store.Save(ctx, "user-1:key-1", first); err != nil {
		t.Fatalf("failed to save idempotency key: %v", err)
	}
	if err := store.Save(ctx, "user-1:key-1", second); err != nil {
		t.Fatalf("failed to save conflicting key: %v", err)
	}

	got, err := store.Get(ctx, "user-1:key-1")
	if err != nil {
		t.Fatalf("failed to get idempotency key: %v", err)
	}
	if got == nil {
		t.Fatal("expected response, got nil")
	}
	if got.OrderID != "order-1" || string(got.Body) != string(first.Body) {
		t.Errorf("expected first response to be preserved, got %+v", got)
	}

	missing, err := store.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil response, got %+v", missing)
	}
}

func TestStoreClaim_Concurrent(t *testing.T) {
	store := postgres.NewStore(dbtest.NewPool(t), 0)
	ctx := context.Background()
	key := domain.EventKey{Type: "payment.captured", EntityID: "pay_123"}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.Claim(ctx, key)
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			if claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one successful claim, got %d", wins.Load())
	}
}
