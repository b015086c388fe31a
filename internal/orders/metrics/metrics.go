package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the business instruments of the order core.
type Metrics struct {
	ordersCreatedTotal    metric.Int64Counter
	orderCreationDuration metric.Float64Histogram
	webhooksTotal         metric.Int64Counter
	refundsTotal          metric.Int64Counter
	deliveriesTotal       metric.Int64Counter
	batchDuration         metric.Float64Histogram
	gatewayIntentsTotal   metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.ordersCreatedTotal, err = meter.Int64Counter(
		"orders_created_total",
		metric.WithDescription("Total number of checkout attempts"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create orders_created_total counter: %w", err)
	}

	m.orderCreationDuration, err = meter.Float64Histogram(
		"order_creation_duration_seconds",
		metric.WithDescription("Duration of checkout operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_creation_duration histogram: %w", err)
	}

	m.webhooksTotal, err = meter.Int64Counter(
		"webhooks_received_total",
		metric.WithDescription("Gateway webhooks by event and outcome"),
		metric.WithUnit("{webhook}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create webhooks_received_total counter: %w", err)
	}

	m.refundsTotal, err = meter.Int64Counter(
		"refunds_processed_total",
		metric.WithDescription("Refund attempts by outcome"),
		metric.WithUnit("{refund}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create refunds_processed_total counter: %w", err)
	}

	m.deliveriesTotal, err = meter.Int64Counter(
		"subscription_deliveries_total",
		metric.WithDescription("Scheduled subscription deliveries by outcome"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create subscription_deliveries_total counter: %w", err)
	}

	m.batchDuration, err = meter.Float64Histogram(
		"subscription_batch_duration_seconds",
		metric.WithDescription("Duration of daily subscription batches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create subscription_batch_duration histogram: %w", err)
	}

	m.gatewayIntentsTotal, err = meter.Int64Counter(
		"gateway_intents_total",
		metric.WithDescription("Subscription transitions pushed to the gateway by action and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create gateway_intents_total counter: %w", err)
	}

	return m, nil
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func (m *Metrics) RecordOrderCreated(ctx context.Context, success bool) {
	m.ordersCreatedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", statusLabel(success)),
	))
}

func (m *Metrics) RecordOrderCreationDuration(ctx context.Context, durationSeconds float64) {
	m.orderCreationDuration.Record(ctx, durationSeconds)
}

// RecordWebhook counts a webhook. outcome is one of processed,
// already_processed, ignored, rejected or error.
func (m *Metrics) RecordWebhook(ctx context.Context, event, outcome string) {
	m.webhooksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordRefund(ctx context.Context, success bool) {
	m.refundsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", statusLabel(success)),
	))
}

func (m *Metrics) RecordDelivery(ctx context.Context, outcome string) {
	m.deliveriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordBatchDuration(ctx context.Context, durationSeconds float64) {
	m.batchDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordGatewayIntent(ctx context.Context, action string, success bool) {
	m.gatewayIntentsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", statusLabel(success)),
	))
}
