package commands

import (
	"context"
	"log/slog"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/metrics"
	"github.com/aspect2729/indostarnaturals-sub000/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type RefundHandler interface {
	Handle(ctx context.Context, cmd RefundOrderCommand) (*domain.Order, error)
}

type ObservableRefundHandler struct {
	handler RefundHandler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewObservableRefundHandler(handler RefundHandler, logger *slog.Logger, metrics *metrics.Metrics) *ObservableRefundHandler {
	return &ObservableRefundHandler{handler: handler, logger: logger, metrics: metrics}
}

func (o *ObservableRefundHandler) Handle(ctx context.Context, cmd RefundOrderCommand) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "RefundOrderCommand.Handle")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("order.id", cmd.OrderID),
		attribute.String("actor.id", cmd.ActorID),
	)

	order, err := o.handler.Handle(ctx, cmd)
	o.metrics.RecordRefund(ctx, err == nil)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		o.logger.ErrorContext(ctx, "refund failed", "error", err, "order_id", cmd.OrderID, "actor_id", cmd.ActorID)
		return nil, err
	}

	o.logger.InfoContext(ctx, "order refunded",
		"order_id", order.ID,
		"refund_amount", order.FinalAmount.StringFixed(2),
		"actor_id", cmd.ActorID,
	)
	telemetry.SetSpanSuccess(span)
	return order, nil
}
