package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/subscriptions"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
)

type batchRunner interface {
	Run(ctx context.Context, today time.Time) (subscriptions.BatchReport, error)
}

type intentSweeper interface {
	Sweep(ctx context.Context) (subscriptions.SweepReport, error)
}

type purger interface {
	Purge(ctx context.Context) (int64, error)
}

// nextRun returns the first occurrence of hour:00 in loc strictly after now.
func nextRun(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// runDaily fires the delivery batch once a day at hour in loc. The batch
// date is the calendar day in loc at the moment the run starts.
func runDaily(ctx context.Context, runner batchRunner, hour int, loc *time.Location, logger *slog.Logger) {
	for {
		next := nextRun(time.Now(), hour, loc)
		logger.Info("next subscription batch scheduled", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		today := domain.Day(time.Now().In(loc))
		if _, err := runner.Run(ctx, today); err != nil {
			logger.Error("subscription batch failed", "error", err, "date", today.Format(time.DateOnly))
		}
	}
}

func runSweeper(ctx context.Context, sweeper intentSweeper, interval time.Duration, logger *slog.Logger) {
	every(ctx, interval, func() {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			logger.Error("intent sweep failed", "error", err)
			return
		}
		if report.Stale > 0 {
			logger.Info("intent sweep finished",
				"stale", report.Stale,
				"completed", report.Completed,
				"failed", report.Failed,
			)
		}
	})
}

func runPurge(ctx context.Context, store purger, interval time.Duration, logger *slog.Logger) {
	every(ctx, interval, func() {
		removed, err := store.Purge(ctx)
		if err != nil {
			logger.Error("idempotency purge failed", "error", err)
			return
		}
		if removed > 0 {
			logger.Info("expired idempotency keys purged", "removed", removed)
		}
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
