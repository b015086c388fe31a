package notify

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	sendLatency metric.Float64Histogram
	dropped     metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.sendLatency, err = meter.Float64Histogram(
		"notification_send_duration_seconds",
		metric.WithDescription("Notification delivery latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create notification_send_duration histogram: %w", err)
	}

	m.dropped, err = meter.Int64Counter(
		"notifications_dropped_total",
		metric.WithDescription("Notifications dropped because the queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("create notifications_dropped counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordSend(ctx context.Context, kind string, durationSeconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.sendLatency.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordDropped(ctx context.Context, kind string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
