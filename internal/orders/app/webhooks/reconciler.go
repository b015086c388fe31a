package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/app/subscriptions"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/metrics"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
	"github.com/aspect2729/indostarnaturals-sub000/internal/telemetry"
)

const (
	StatusSuccess          = "success"
	StatusAlreadyProcessed = "already_processed"
)

// Result is returned to the gateway on a 2xx response.
type Result struct {
	Status string `json:"status"`
	Event  string `json:"event"`
}

// Reconciler applies gateway webhooks to orders, payments and subscriptions.
// Each logical event takes effect at most once, whatever its delivery id.
type Reconciler struct {
	repo     ports.Repository
	gateway  ports.PaymentGateway
	notifier ports.Dispatcher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	schema   *jsonschema.Schema
	// location decides the calendar day of a subscription charge, so it must
	// match the scheduler's.
	location *time.Location
	now      func() time.Time
}

// NewReconciler wires a reconciler. A nil location means UTC.
func NewReconciler(
	repo ports.Repository,
	gateway ports.PaymentGateway,
	notifier ports.Dispatcher,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	location *time.Location,
) (*Reconciler, error) {
	schema, err := compileEnvelopeSchema()
	if err != nil {
		return nil, err
	}
	if location == nil {
		location = time.UTC
	}
	return &Reconciler{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		schema:   schema,
		location: location,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle verifies, decodes and applies one webhook delivery.
func (r *Reconciler) Handle(ctx context.Context, body []byte, signature string) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "WebhookReconciler.Handle")
	defer span.End()

	if signature == "" || !r.gateway.VerifySignature(body, signature) {
		r.metrics.RecordWebhook(ctx, "unknown", "rejected")
		telemetry.RecordSpanError(span, domain.ErrInvalidSignature)
		r.logger.WarnContext(ctx, "webhook rejected", "reason", "invalid signature")
		return Result{}, domain.ErrInvalidSignature
	}

	env, err := r.decode(body)
	if err != nil {
		r.metrics.RecordWebhook(ctx, "unknown", "rejected")
		telemetry.RecordSpanError(span, err)
		r.logger.WarnContext(ctx, "webhook rejected", "error", err)
		return Result{}, err
	}
	telemetry.AddSpanAttributes(span,
		attribute.String("webhook.event", env.Event),
		attribute.String("webhook.delivery_id", env.ID),
	)

	key, ok := eventKey(env)
	if !ok {
		r.metrics.RecordWebhook(ctx, env.Event, "ignored")
		r.logger.InfoContext(ctx, "webhook event ignored", "event", env.Event, "delivery_id", env.ID)
		telemetry.SetSpanSuccess(span)
		return Result{Status: StatusSuccess, Event: env.Event}, nil
	}
	telemetry.AddSpanAttributes(span, attribute.String("webhook.key", key.String()))

	var (
		duplicate bool
		outbox    []ports.Notification
	)
	err = r.repo.WithinTx(ctx, func(ctx context.Context, tx ports.Repository) error {
		outbox = nil

		claimed, err := tx.ClaimEvent(ctx, key)
		if err != nil {
			return err
		}
		if !claimed {
			duplicate = true
			return nil
		}

		now := r.now()
		switch env.Event {
		case EventPaymentCaptured:
			outbox, err = r.paymentCaptured(ctx, tx, env, now)
		case EventPaymentFailed:
			outbox, err = r.paymentFailed(ctx, tx, env, now)
		case EventSubscriptionCharged:
			outbox, err = r.subscriptionCharged(ctx, tx, env, now)
		case EventSubscriptionCancelled:
			outbox, err = r.subscriptionCancelled(ctx, tx, env, now)
		}
		return err
	})
	if err != nil {
		r.metrics.RecordWebhook(ctx, env.Event, "error")
		telemetry.RecordSpanError(span, err)
		r.logger.ErrorContext(ctx, "webhook processing failed",
			"error", err,
			"event", env.Event,
			"key", key.String(),
			"delivery_id", env.ID,
		)
		return Result{}, err
	}

	if duplicate {
		r.metrics.RecordWebhook(ctx, env.Event, StatusAlreadyProcessed)
		r.logger.InfoContext(ctx, "webhook already processed", "event", env.Event, "key", key.String(), "delivery_id", env.ID)
		telemetry.SetSpanSuccess(span)
		return Result{Status: StatusAlreadyProcessed, Event: env.Event}, nil
	}

	for _, n := range outbox {
		r.notifier.Dispatch(n)
	}

	r.metrics.RecordWebhook(ctx, env.Event, "processed")
	r.logger.InfoContext(ctx, "webhook processed", "event", env.Event, "key", key.String(), "delivery_id", env.ID)
	telemetry.SetSpanSuccess(span)
	return Result{Status: StatusSuccess, Event: env.Event}, nil
}

func (r *Reconciler) decode(body []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed webhook body: %v", domain.ErrValidation, err)
	}
	if err := r.schema.Validate(raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: webhook body does not match schema: %v", domain.ErrValidation, err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed webhook body: %v", domain.ErrValidation, err)
	}
	return env, nil
}

// eventKey is the idempotency key of the logical event carried by env.
func eventKey(env Envelope) (domain.EventKey, bool) {
	switch env.Event {
	case EventPaymentCaptured, EventPaymentFailed, EventSubscriptionCharged:
		return domain.EventKey{Type: env.Event, EntityID: env.Payload.Payment.Entity.ID}, true
	case EventSubscriptionCancelled:
		return domain.EventKey{Type: env.Event, EntityID: env.Payload.Subscription.Entity.ID}, true
	default:
		return domain.EventKey{}, false
	}
}

func newPayment(entity PaymentEntity, status domain.PaymentStatus, now time.Time) domain.Payment {
	currency := strings.ToUpper(entity.Currency)
	if currency == "" {
		currency = domain.Currency
	}
	return domain.Payment{
		ID:               domain.NewID(),
		GatewayPaymentID: entity.ID,
		GatewayOrderID:   entity.OrderID,
		Amount:           domain.FromMinorUnits(entity.Amount),
		Currency:         currency,
		Status:           status,
		Method:           entity.Method,
		ErrorReason:      entity.ErrorDescription,
		CreatedAt:        now,
	}
}

func orderIDFrom(entity PaymentEntity) (string, error) {
	id := strings.TrimSpace(entity.Notes["order_id"])
	if id == "" {
		return "", fmt.Errorf("%w: payment %s carries no order_id note", domain.ErrValidation, entity.ID)
	}
	return id, nil
}

func (r *Reconciler) paymentCaptured(ctx context.Context, tx ports.Repository, env Envelope, now time.Time) ([]ports.Notification, error) {
	entity := env.Payload.Payment.Entity
	orderID, err := orderIDFrom(entity)
	if err != nil {
		return nil, err
	}
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment := newPayment(entity, domain.PaymentPaid, now)
	payment.OrderID = order.ID
	if _, err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	before := order.OrderStatus
	confirmed := order.OrderStatus == domain.OrderPending
	if confirmed {
		if err := tx.UpdateOrderStatus(ctx, order.ID, domain.OrderConfirmed, domain.PaymentPaid); err != nil {
			return nil, err
		}
		order.OrderStatus = domain.OrderConfirmed
		order.PaymentStatus = domain.PaymentPaid
	} else {
		// The money was taken even though fulfilment moved on, so the order
		// must stay refundable. A refunded order keeps its status.
		if order.PaymentStatus != domain.PaymentPaid && order.PaymentStatus != domain.PaymentRefunded {
			if err := tx.UpdateOrderStatus(ctx, order.ID, order.OrderStatus, domain.PaymentPaid); err != nil {
				return nil, err
			}
			order.PaymentStatus = domain.PaymentPaid
		}
		r.logger.WarnContext(ctx, "payment captured for order that is no longer pending",
			"order_id", order.ID,
			"order_status", order.OrderStatus,
			"payment_status", order.PaymentStatus,
			"payment_id", entity.ID,
		)
	}

	if err := tx.AppendAudit(ctx, domain.NewAuditEntry("", domain.AuditPaymentCaptured, "order", order.ID, map[string]any{
		"razorpay_payment_id": entity.ID,
		"amount":              payment.Amount.StringFixed(2),
		"before":              string(before),
		"after":               string(order.OrderStatus),
		"delivery_id":         env.ID,
	}, now)); err != nil {
		return nil, err
	}

	if !confirmed {
		return nil, nil
	}
	return []ports.Notification{{
		Kind:     ports.NotifyOrderConfirmed,
		UserID:   order.UserID,
		EntityID: order.ID,
		Data: map[string]string{
			"order_number": order.OrderNumber,
			"amount":       order.FinalAmount.StringFixed(2),
		},
	}}, nil
}

func (r *Reconciler) paymentFailed(ctx context.Context, tx ports.Repository, env Envelope, now time.Time) ([]ports.Notification, error) {
	entity := env.Payload.Payment.Entity
	orderID, err := orderIDFrom(entity)
	if err != nil {
		return nil, err
	}
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment := newPayment(entity, domain.PaymentFailed, now)
	payment.OrderID = order.ID
	if _, err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	// A failed attempt never downgrades an order that was paid by another attempt.
	if order.PaymentStatus == domain.PaymentPending || order.PaymentStatus == domain.PaymentFailed {
		if err := tx.UpdateOrderStatus(ctx, order.ID, order.OrderStatus, domain.PaymentFailed); err != nil {
			return nil, err
		}
	}

	if err := tx.AppendAudit(ctx, domain.NewAuditEntry("", domain.AuditPaymentFailed, "order", order.ID, map[string]any{
		"razorpay_payment_id": entity.ID,
		"amount":              payment.Amount.StringFixed(2),
		"reason":              entity.ErrorDescription,
		"delivery_id":         env.ID,
	}, now)); err != nil {
		return nil, err
	}

	return []ports.Notification{{
		Kind:     ports.NotifyPaymentFailed,
		UserID:   order.UserID,
		EntityID: order.ID,
		Data: map[string]string{
			"order_number": order.OrderNumber,
			"amount":       order.FinalAmount.StringFixed(2),
			"reason":       entity.ErrorDescription,
		},
	}}, nil
}

func (r *Reconciler) subscriptionCharged(ctx context.Context, tx ports.Repository, env Envelope, now time.Time) ([]ports.Notification, error) {
	entity := env.Payload.Payment.Entity
	sub, err := tx.GetSubscriptionByGatewayID(ctx, env.Payload.Subscription.Entity.ID)
	if err != nil {
		return nil, err
	}

	payment := newPayment(entity, domain.PaymentPaid, now)
	payment.SubscriptionID = sub.ID
	if _, err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}

	delivery, err := subscriptions.Deliver(ctx, tx, sub.ID, domain.Day(now.In(r.location)), now)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"razorpay_payment_id": entity.ID,
		"amount":              payment.Amount.StringFixed(2),
		"delivery_outcome":    string(delivery.Outcome),
		"delivery_id":         env.ID,
	}
	if delivery.Reason != "" {
		payload["delivery_reason"] = delivery.Reason
	}
	if delivery.Order != nil {
		payload["order_id"] = delivery.Order.ID
	}
	if err := tx.AppendAudit(ctx, domain.NewAuditEntry("", domain.AuditSubscriptionCharged, "subscription", sub.ID, payload, now)); err != nil {
		return nil, err
	}

	if delivery.Outcome != subscriptions.OutcomeDelivered {
		return nil, nil
	}
	return []ports.Notification{subscriptions.DeliveryNotification(delivery)}, nil
}

func (r *Reconciler) subscriptionCancelled(ctx context.Context, tx ports.Repository, env Envelope, now time.Time) ([]ports.Notification, error) {
	found, err := tx.GetSubscriptionByGatewayID(ctx, env.Payload.Subscription.Entity.ID)
	if err != nil {
		return nil, err
	}
	sub, err := tx.LockSubscription(ctx, found.ID)
	if err != nil {
		return nil, err
	}

	from := sub.Status
	if from != domain.SubscriptionCancelled {
		if err := sub.Apply(domain.ActionCancel, now); err != nil {
			return nil, err
		}
		sub.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, *sub); err != nil {
			return nil, err
		}
	}

	if err := tx.AppendAudit(ctx, domain.NewAuditEntry("", domain.AuditSubscriptionChanged, "subscription", sub.ID, map[string]any{
		"action":      string(domain.ActionCancel),
		"from":        string(from),
		"to":          string(domain.SubscriptionCancelled),
		"source":      "gateway",
		"delivery_id": env.ID,
	}, now)); err != nil {
		return nil, err
	}

	if from == domain.SubscriptionCancelled {
		return nil, nil
	}
	return []ports.Notification{{
		Kind:     ports.NotifySubscriptionChanged,
		UserID:   sub.UserID,
		EntityID: sub.ID,
		Data:     map[string]string{"status": string(domain.SubscriptionCancelled)},
	}}, nil
}
