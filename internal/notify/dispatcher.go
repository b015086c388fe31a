package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
	"github.com/aspect2729/indostarnaturals-sub000/internal/telemetry"
)

var ErrClosed = errors.New("dispatcher closed")

type Config struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

// Dispatcher delivers notifications on background workers. Dispatch never
// blocks: when the queue is full the notification is dropped and logged.
type Dispatcher struct {
	notifier ports.Notifier
	logger   *slog.Logger
	metrics  *Metrics
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan ports.Notification
	wg     sync.WaitGroup
}

var _ ports.Dispatcher = (*Dispatcher)(nil)

func NewDispatcher(notifier ports.Notifier, logger *slog.Logger, metrics *Metrics, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		timeout:  cfg.SendTimeout,
		queue:    make(chan ports.Notification, cfg.QueueSize),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.work()
	}

	return d
}

func (d *Dispatcher) Dispatch(n ports.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("notification dropped", "kind", string(n.Kind), "entity_id", n.EntityID, "error", ErrClosed)
		return
	}

	select {
	case d.queue <- n:
	default:
		d.metrics.RecordDropped(context.Background(), string(n.Kind))
		d.logger.Warn("notification dropped, queue full", "kind", string(n.Kind), "entity_id", n.EntityID)
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for n := range d.queue {
		d.send(n)
	}
}

func (d *Dispatcher) send(n ports.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "Notifier.Notify")
	defer span.End()
	telemetry.AddSpanAttributes(span,
		attribute.String("notification.kind", string(n.Kind)),
		attribute.String("notification.entity_id", n.EntityID),
	)

	start := time.Now()
	err := d.notifier.Notify(ctx, n)
	d.metrics.RecordSend(ctx, string(n.Kind), time.Since(start).Seconds(), err == nil)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		d.logger.WarnContext(ctx, "notification failed",
			"kind", string(n.Kind),
			"user_id", n.UserID,
			"entity_id", n.EntityID,
			"error", err,
		)
		return
	}
	telemetry.SetSpanSuccess(span)
}

// Close stops accepting notifications and waits for queued ones until ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
