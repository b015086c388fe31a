package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/metrics"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
	"github.com/aspect2729/indostarnaturals-sub000/internal/telemetry"
)

// maxRedriveAttempts bounds how often the sweeper retries one intent before
// giving up on it.
const maxRedriveAttempts = 5

type CreateCommand struct {
	UserID        string
	ProductID     string
	AddressID     string
	PlanFrequency string
	StartDate     *time.Time
}

func (c CreateCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(c.ProductID) == "" {
		return fmt.Errorf("%w: product_id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(c.AddressID) == "" {
		return fmt.Errorf("%w: address_id is required", domain.ErrValidation)
	}
	_, err := domain.ParseFrequency(c.PlanFrequency)
	return err
}

type TransitionCommand struct {
	SubscriptionID string
	// UserID restricts the transition to the subscription owner when set.
	UserID string
	Action domain.SubscriptionAction
}

// StateMachine owns subscription lifecycle changes. Every transition is
// recorded as a gateway intent before the gateway is called, and the local
// row only changes after the gateway accepted the call.
type StateMachine struct {
	repo     ports.Repository
	gateway  ports.PaymentGateway
	notifier ports.Dispatcher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewStateMachine(
	repo ports.Repository,
	gateway ports.PaymentGateway,
	notifier ports.Dispatcher,
	logger *slog.Logger,
	metrics *metrics.Metrics,
) *StateMachine {
	return &StateMachine{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a recurring plan with the gateway and stores an ACTIVE
// subscription whose first delivery is on the start date, or tomorrow.
func (m *StateMachine) Create(ctx context.Context, cmd CreateCommand) (*domain.Subscription, error) {
	ctx, span := telemetry.StartSpan(ctx, "Subscriptions.Create")
	defer span.End()

	if err := cmd.Validate(); err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	frequency, _ := domain.ParseFrequency(cmd.PlanFrequency)

	now := m.now()
	tomorrow := domain.AddDays(domain.Day(now), 1)
	next := tomorrow
	if cmd.StartDate != nil {
		next = domain.Day(*cmd.StartDate)
		if next.Before(tomorrow) {
			return nil, fmt.Errorf("%w: start_date must be in the future", domain.ErrValidation)
		}
	}

	product, err := m.repo.GetProduct(ctx, cmd.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, domain.ErrProductUnavailable
	}
	owned, err := m.repo.AddressBelongsTo(ctx, cmd.AddressID, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, domain.ErrAddressNotOwned
	}

	sub := domain.Subscription{
		ID:               domain.NewID(),
		UserID:           cmd.UserID,
		ProductID:        product.ID,
		AddressID:        cmd.AddressID,
		PlanFrequency:    frequency,
		Status:           domain.SubscriptionActive,
		NextDeliveryDate: next,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	telemetry.AddSpanAttributes(span, attribute.String("subscription.id", sub.ID))

	remote, err := m.gateway.CreateSubscription(ctx, ports.SubscriptionPlan{
		Frequency:   frequency,
		CustomerRef: cmd.UserID,
		Reference:   sub.ID,
	})
	if err != nil {
		err = fmt.Errorf("%w: create gateway subscription: %v", domain.ErrExternal, err)
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	sub.GatewaySubscriptionID = remote.ID

	err = m.repo.WithinTx(ctx, func(ctx context.Context, tx ports.Repository) error {
		if err := tx.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, domain.NewAuditEntry(cmd.UserID, domain.AuditSubscriptionCreated, "subscription", sub.ID, map[string]any{
			"product_id":              sub.ProductID,
			"plan_frequency":          string(sub.PlanFrequency),
			"next_delivery_date":      sub.NextDeliveryDate.Format(time.DateOnly),
			"gateway_subscription_id": sub.GatewaySubscriptionID,
		}, now))
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "gateway subscription created but local insert failed",
			"error", err,
			"subscription_id", sub.ID,
			"gateway_subscription_id", sub.GatewaySubscriptionID,
		)
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	m.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"plan_frequency", sub.PlanFrequency,
		"next_delivery_date", sub.NextDeliveryDate.Format(time.DateOnly),
	)
	telemetry.SetSpanSuccess(span)
	return &sub, nil
}

// List returns the user's subscriptions, newest first.
func (m *StateMachine) List(ctx context.Context, userID string) ([]domain.Subscription, error) {
	subs, err := m.repo.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []domain.Subscription{}
	}
	return subs, nil
}

// Transition pauses, resumes or cancels a subscription.
func (m *StateMachine) Transition(ctx context.Context, cmd TransitionCommand) (*domain.Subscription, error) {
	ctx, span := telemetry.StartSpan(ctx, "Subscriptions.Transition")
	defer span.End()

	telemetry.AddSpanAttributes(span,
		attribute.String("subscription.id", cmd.SubscriptionID),
		attribute.String("subscription.action", string(cmd.Action)),
	)

	sub, err := m.repo.GetSubscription(ctx, cmd.SubscriptionID)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	if cmd.UserID != "" && sub.UserID != cmd.UserID {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err := sub.CheckTransition(cmd.Action); err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	now := m.now()
	intent := domain.GatewayIntent{
		ID:             domain.NewID(),
		SubscriptionID: sub.ID,
		ActorID:        cmd.UserID,
		Action:         cmd.Action,
		Status:         domain.IntentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.repo.CreateIntent(ctx, intent); err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	updated, err := m.drive(ctx, intent, sub, true)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	telemetry.SetSpanSuccess(span)
	return updated, nil
}

// drive performs the gateway call of intent and then applies it locally.
// interactive calls fail the intent on the first gateway error; redrives
// leave it pending until maxRedriveAttempts.
func (m *StateMachine) drive(ctx context.Context, intent domain.GatewayIntent, sub *domain.Subscription, interactive bool) (*domain.Subscription, error) {
	intent.Attempts++

	err := m.callGateway(ctx, intent.Action, sub.GatewaySubscriptionID)
	if errors.Is(err, ports.ErrAlreadyInState) {
		err = nil
	}
	if err != nil {
		m.metrics.RecordGatewayIntent(ctx, string(intent.Action), false)

		intent.LastError = err.Error()
		intent.UpdatedAt = m.now()
		if interactive || intent.Attempts >= maxRedriveAttempts {
			intent.Status = domain.IntentFailed
		}
		if uerr := m.repo.UpdateIntent(ctx, intent); uerr != nil {
			m.logger.ErrorContext(ctx, "failed to record gateway intent failure", "error", uerr, "intent_id", intent.ID)
		}

		m.logger.WarnContext(ctx, "gateway rejected subscription transition",
			"error", err,
			"subscription_id", sub.ID,
			"action", intent.Action,
			"attempts", intent.Attempts,
		)
		return nil, fmt.Errorf("%w: %s gateway subscription: %v", domain.ErrExternal, intent.Action, err)
	}

	var updated domain.Subscription
	err = m.repo.WithinTx(ctx, func(ctx context.Context, tx ports.Repository) error {
		current, err := tx.LockSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		from := current.Status
		now := m.now()

		if current.Status != intent.Action.Target() {
			if err := current.Apply(intent.Action, now); err != nil {
				return err
			}
			current.UpdatedAt = now
			if err := tx.UpdateSubscription(ctx, *current); err != nil {
				return err
			}
		}

		intent.Status = domain.IntentCompleted
		intent.LastError = ""
		intent.UpdatedAt = now
		if err := tx.UpdateIntent(ctx, intent); err != nil {
			return err
		}

		updated = *current
		return tx.AppendAudit(ctx, domain.NewAuditEntry(intent.ActorID, domain.AuditSubscriptionChanged, "subscription", current.ID, map[string]any{
			"action":             string(intent.Action),
			"from":               string(from),
			"to":                 string(current.Status),
			"intent_id":          intent.ID,
			"next_delivery_date": current.NextDeliveryDate.Format(time.DateOnly),
		}, now))
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		// The local row moved on since the intent was recorded.
		intent.Status = domain.IntentFailed
		intent.LastError = err.Error()
		intent.UpdatedAt = m.now()
		if uerr := m.repo.UpdateIntent(ctx, intent); uerr != nil {
			m.logger.ErrorContext(ctx, "failed to record gateway intent failure", "error", uerr, "intent_id", intent.ID)
		}
		return nil, err
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "gateway accepted subscription transition but local update failed",
			"error", err,
			"subscription_id", sub.ID,
			"intent_id", intent.ID,
		)
		return nil, err
	}

	m.metrics.RecordGatewayIntent(ctx, string(intent.Action), true)
	m.logger.InfoContext(ctx, "subscription transitioned",
		"subscription_id", updated.ID,
		"action", intent.Action,
		"status", updated.Status,
	)
	m.notifier.Dispatch(ports.Notification{
		Kind:     ports.NotifySubscriptionChanged,
		UserID:   updated.UserID,
		EntityID: updated.ID,
		Data: map[string]string{
			"status":             string(updated.Status),
			"next_delivery_date": updated.NextDeliveryDate.Format(time.DateOnly),
		},
	})
	return &updated, nil
}

func (m *StateMachine) callGateway(ctx context.Context, action domain.SubscriptionAction, gatewayID string) error {
	switch action {
	case domain.ActionPause:
		return m.gateway.PauseSubscription(ctx, gatewayID)
	case domain.ActionResume:
		return m.gateway.ResumeSubscription(ctx, gatewayID)
	case domain.ActionCancel:
		return m.gateway.CancelSubscription(ctx, gatewayID)
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrValidation, action)
	}
}
