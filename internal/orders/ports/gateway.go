package ports

import (
	"context"
	"errors"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
)

// ErrAlreadyInState is returned by subscription calls when the remote
// subscription is already in the requested state.
var ErrAlreadyInState = errors.New("gateway subscription already in requested state")

// GatewayOrder is the remote order a client pays against.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
}

// SubscriptionPlan is what the gateway needs to start recurring billing.
type SubscriptionPlan struct {
	Frequency   domain.Frequency
	CustomerRef string
	Reference   string
}

type GatewaySubscription struct {
	ID     string
	Status string
}

// PaymentGateway is the narrow surface of the payment provider the core uses.
// Every call must honour ctx for its deadline.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, reference string) (*GatewayOrder, error)
	CreateSubscription(ctx context.Context, plan SubscriptionPlan) (*GatewaySubscription, error)
	PauseSubscription(ctx context.Context, id string) error
	ResumeSubscription(ctx context.Context, id string) error
	CancelSubscription(ctx context.Context, id string) error
	VerifySignature(payload []byte, signature string) bool
}
