package lock

import (
	"context"
	"testing"
	"time"
)

func TestLocal(t *testing.T) {
	ctx := context.Background()

	t.Run("grants one holder at a time", func(t *testing.T) {
		l := NewLocal()

		release, ok, err := l.Acquire(ctx, "batch:2024-01-10", time.Minute)
		if err != nil || !ok {
			t.Fatalf("expected first acquire to succeed, got ok=%v err=%v", ok, err)
		}

		if _, ok, _ := l.Acquire(ctx, "batch:2024-01-10", time.Minute); ok {
			t.Fatal("expected second acquire to fail while held")
		}

		if _, ok, _ := l.Acquire(ctx, "batch:2024-01-11", time.Minute); !ok {
			t.Error("expected a different name to be available")
		}

		if err := release(ctx); err != nil {
			t.Fatalf("expected no error, got: %v", err)
		}
		if _, ok, _ := l.Acquire(ctx, "batch:2024-01-10", time.Minute); !ok {
			t.Error("expected acquire to succeed after release")
		}
	})

	t.Run("expires leases after ttl", func(t *testing.T) {
		l := NewLocal()
		now := time.Date(2024, 1, 10, 2, 0, 0, 0, time.UTC)
		l.now = func() time.Time { return now }

		stale, _, _ := l.Acquire(ctx, "batch", time.Minute)
		now = now.Add(2 * time.Minute)

		if _, ok, _ := l.Acquire(ctx, "batch", time.Minute); !ok {
			t.Fatal("expected expired lease to be reclaimable")
		}

		_ = stale(ctx)
		if _, ok, _ := l.Acquire(ctx, "batch", time.Minute); ok {
			t.Error("expected stale release to leave the new lease in place")
		}
	})
}
