package database

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	queryDuration metric.Float64Histogram
	txOutcomes    metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.queryDuration, err = meter.Float64Histogram(
		"db_query_duration_seconds",
		metric.WithDescription("Database query duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_query_duration histogram: %w", err)
	}

	m.txOutcomes, err = meter.Int64Counter(
		"db_transactions_total",
		metric.WithDescription("Database transactions by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_transactions counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordQuery(ctx context.Context, operation string, durationSeconds float64) {
	m.queryDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordTx counts a finished transaction as committed or rolled back.
func (m *Metrics) RecordTx(ctx context.Context, committed bool) {
	outcome := "rollback"
	if committed {
		outcome = "commit"
	}
	m.txOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
