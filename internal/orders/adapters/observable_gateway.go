package adapters

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/adapters/gateway"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
	"github.com/aspect2729/indostarnaturals-sub000/internal/telemetry"
)

// ObservableGateway traces and measures every call to the payment gateway.
type ObservableGateway struct {
	gateway ports.PaymentGateway
	metrics *gateway.Metrics
}

func NewObservableGateway(gw ports.PaymentGateway, metrics *gateway.Metrics) *ObservableGateway {
	return &ObservableGateway{gateway: gw, metrics: metrics}
}

func (g *ObservableGateway) call(ctx context.Context, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "PaymentGateway."+operation)
	defer span.End()

	telemetry.AddSpanAttributes(span, append(attrs, attribute.String("operation", operation))...)

	start := time.Now()
	err := fn(ctx)
	g.metrics.RecordCall(ctx, operation, time.Since(start).Seconds(), err == nil)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return err
	}

	telemetry.SetSpanSuccess(span)
	return nil
}

func (g *ObservableGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, reference string) (*ports.GatewayOrder, error) {
	var out *ports.GatewayOrder
	err := g.call(ctx, "create_order", []attribute.KeyValue{
		attribute.String("order.id", reference),
		attribute.Int64("amount_minor", amountMinor),
	}, func(ctx context.Context) error {
		var err error
		out, err = g.gateway.CreateOrder(ctx, amountMinor, currency, reference)
		return err
	})
	return out, err
}

func (g *ObservableGateway) CreateSubscription(ctx context.Context, plan ports.SubscriptionPlan) (*ports.GatewaySubscription, error) {
	var out *ports.GatewaySubscription
	err := g.call(ctx, "create_subscription", []attribute.KeyValue{
		attribute.String("subscription.id", plan.Reference),
		attribute.String("plan_frequency", string(plan.Frequency)),
	}, func(ctx context.Context) error {
		var err error
		out, err = g.gateway.CreateSubscription(ctx, plan)
		return err
	})
	return out, err
}

func (g *ObservableGateway) PauseSubscription(ctx context.Context, id string) error {
	return g.call(ctx, "pause_subscription", gatewaySubscriptionAttrs(id), func(ctx context.Context) error {
		return g.gateway.PauseSubscription(ctx, id)
	})
}

func (g *ObservableGateway) ResumeSubscription(ctx context.Context, id string) error {
	return g.call(ctx, "resume_subscription", gatewaySubscriptionAttrs(id), func(ctx context.Context) error {
		return g.gateway.ResumeSubscription(ctx, id)
	})
}

func (g *ObservableGateway) CancelSubscription(ctx context.Context, id string) error {
	return g.call(ctx, "cancel_subscription", gatewaySubscriptionAttrs(id), func(ctx context.Context) error {
		return g.gateway.CancelSubscription(ctx, id)
	})
}

// VerifySignature is local HMAC work and is not traced.
func (g *ObservableGateway) VerifySignature(payload []byte, signature string) bool {
	return g.gateway.VerifySignature(payload, signature)
}

func gatewaySubscriptionAttrs(id string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("gateway.subscription_id", id)}
}
