package main

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/subscriptions"
)

func TestNextRun(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2024, 1, 10, 4, 0, 0, 0, ist),
			want: time.Date(2024, 1, 10, 6, 0, 0, 0, ist),
		},
		{
			name: "exactly at the hour rolls to tomorrow",
			now:  time.Date(2024, 1, 10, 6, 0, 0, 0, ist),
			want: time.Date(2024, 1, 11, 6, 0, 0, 0, ist),
		},
		{
			name: "uses the local calendar day",
			now:  time.Date(2024, 1, 9, 23, 0, 0, 0, time.UTC),
			want: time.Date(2024, 1, 10, 6, 0, 0, 0, ist),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextRun(tt.now, 6, ist)
			if !got.Equal(tt.want) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) Sweep(context.Context) (subscriptions.SweepReport, error) {
	s.calls.Add(1)
	return subscriptions.SweepReport{}, nil
}

func TestRunSweeper(t *testing.T) {
	t.Run("sweeps on every tick until cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		sweeper := &countingSweeper{}
		done := make(chan struct{})

		go func() {
			runSweeper(ctx, sweeper, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
			close(done)
		}()

		deadline := time.After(2 * time.Second)
		for sweeper.calls.Load() < 2 {
			select {
			case <-deadline:
				t.Fatal("expected at least two sweeps")
			case <-time.After(5 * time.Millisecond):
			}
		}

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("expected sweeper loop to stop after cancel")
		}
	})
}
