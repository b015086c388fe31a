package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/metrics"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
	"github.com/aspect2729/indostarnaturals-sub000/internal/telemetry"
)

// ErrBatchRunning is returned when another instance holds the batch lock for the day.
var ErrBatchRunning = errors.New("subscription batch already running")

type SchedulerConfig struct {
	Workers      int
	MaxAttempts  uint
	RetryInitial time.Duration
	UnitTimeout  time.Duration
	LockTTL      time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
	if c.UnitTimeout <= 0 {
		c.UnitTimeout = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Minute
	}
	return c
}

type DeliveryFailure struct {
	SubscriptionID string `json:"subscription_id"`
	Error          string `json:"error"`
}

// BatchReport aggregates one scheduler run. The batch always completes; per
// subscription failures are listed instead of aborting the run.
type BatchReport struct {
	Date      string            `json:"date"`
	Due       int               `json:"due"`
	Delivered int               `json:"delivered"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Failures  []DeliveryFailure `json:"failures"`
}

// Scheduler creates the day's delivery orders for every due subscription.
type Scheduler struct {
	repo     ports.Repository
	locker   ports.Locker
	notifier ports.Dispatcher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      SchedulerConfig
	now      func() time.Time
}

// NewScheduler wires a scheduler. locker may be nil for a single instance.
func NewScheduler(
	repo ports.Repository,
	locker ports.Locker,
	notifier ports.Dispatcher,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	cfg SchedulerConfig,
) *Scheduler {
	return &Scheduler{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run processes every active subscription due on or before today.
func (s *Scheduler) Run(ctx context.Context, today time.Time) (BatchReport, error) {
	today = domain.Day(today)
	report := BatchReport{Date: today.Format(time.DateOnly), Failures: []DeliveryFailure{}}

	ctx, span := telemetry.StartSpan(ctx, "Scheduler.Run")
	defer span.End()
	telemetry.AddSpanAttributes(span, attribute.String("batch.date", report.Date))

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, "subscription-batch:"+report.Date, s.cfg.LockTTL)
		if err != nil {
			telemetry.RecordSpanError(span, err)
			return report, fmt.Errorf("acquire batch lock: %w", err)
		}
		if !ok {
			return report, ErrBatchRunning
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "failed to release batch lock", "error", err)
			}
		}()
	}

	start := time.Now()
	due, err := s.repo.ListDueSubscriptions(ctx, today)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return report, fmt.Errorf("list due subscriptions: %w", err)
	}
	report.Due = len(due)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)

	for _, sub := range due {
		g.Go(func() error {
			delivery, err := s.processOne(ctx, sub.ID, today)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				report.Failures = append(report.Failures, DeliveryFailure{SubscriptionID: sub.ID, Error: err.Error()})
			case delivery.Outcome == OutcomeDelivered:
				report.Delivered++
			default:
				report.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.metrics.RecordBatchDuration(ctx, time.Since(start).Seconds())
	telemetry.AddSpanAttributes(span,
		attribute.Int("batch.due", report.Due),
		attribute.Int("batch.delivered", report.Delivered),
		attribute.Int("batch.skipped", report.Skipped),
		attribute.Int("batch.failed", report.Failed),
	)

	level := slog.LevelInfo
	if report.Failed > 0 {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "subscription batch finished",
		"date", report.Date,
		"due", report.Due,
		"delivered", report.Delivered,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"failures", report.Failures,
	)
	telemetry.SetSpanSuccess(span)
	return report, nil
}

// processOne delivers one subscription with bounded retries. Business errors
// are not retried.
func (s *Scheduler) processOne(ctx context.Context, subscriptionID string, today time.Time) (Delivery, error) {
	ctx, span := telemetry.StartSpan(ctx, "Scheduler.Deliver")
	defer span.End()
	telemetry.AddSpanAttributes(span, attribute.String("subscription.id", subscriptionID))

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.cfg.RetryInitial

	attempt := 0
	delivery, err := backoff.Retry(ctx, func() (Delivery, error) {
		attempt++
		d, err := s.deliver(ctx, subscriptionID, today)
		if err != nil && !retryable(err) {
			return d, backoff.Permanent(err)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "delivery attempt failed",
				"error", err,
				"subscription_id", subscriptionID,
				"attempt", attempt,
			)
		}
		return d, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(s.cfg.MaxAttempts))

	if err != nil {
		s.metrics.RecordDelivery(ctx, string(OutcomeFailed))
		telemetry.RecordSpanError(span, err)
		s.logger.ErrorContext(ctx, "subscription delivery failed",
			"error", err,
			"subscription_id", subscriptionID,
			"attempts", attempt,
		)
		return delivery, err
	}

	s.metrics.RecordDelivery(ctx, string(delivery.Outcome))
	telemetry.AddSpanAttributes(span, attribute.String("delivery.outcome", string(delivery.Outcome)))
	telemetry.SetSpanSuccess(span)

	switch delivery.Outcome {
	case OutcomeDelivered:
		s.logger.InfoContext(ctx, "subscription delivered",
			"subscription_id", subscriptionID,
			"order_id", delivery.Order.ID,
			"delivery_date", delivery.Day.Format(time.DateOnly),
		)
		s.notifier.Dispatch(DeliveryNotification(delivery))
	case OutcomeSkipped:
		s.logger.InfoContext(ctx, "subscription delivery skipped",
			"subscription_id", subscriptionID,
			"reason", delivery.Reason,
		)
	}
	return delivery, nil
}

func (s *Scheduler) deliver(ctx context.Context, subscriptionID string, today time.Time) (Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UnitTimeout)
	defer cancel()

	var delivery Delivery
	err := s.repo.WithinTx(ctx, func(ctx context.Context, tx ports.Repository) error {
		var err error
		delivery, err = Deliver(ctx, tx, subscriptionID, today, s.now())
		return err
	})
	return delivery, err
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict):
		return false
	default:
		return true
	}
}
