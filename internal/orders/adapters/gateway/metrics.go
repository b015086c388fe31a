package gateway

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics measure outbound gateway calls.
type Metrics struct {
	callLatency metric.Float64Histogram
	calls       metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.callLatency, err = meter.Float64Histogram(
		"payment_gateway_call_duration_seconds",
		metric.WithDescription("Payment gateway call latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_gateway_call_duration histogram: %w", err)
	}

	m.calls, err = meter.Int64Counter(
		"payment_gateway_calls_total",
		metric.WithDescription("Payment gateway calls by operation and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create payment_gateway_calls counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordCall(ctx context.Context, operation string, durationSeconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.callLatency.Record(ctx, durationSeconds, attrs)
	m.calls.Add(ctx, 1, attrs)
}
