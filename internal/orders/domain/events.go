package domain

import (
	"fmt"
	"time"
)

// EventKey identifies one logical external or scheduled event. At most one
// effect is ever applied per key.
type EventKey struct {
	Type     string
	EntityID string
}

func (k EventKey) String() string {
	return k.Type + ":" + k.EntityID
}

// DeliveryKey identifies a scheduled delivery of a subscription on a date.
func DeliveryKey(subscriptionID string, date time.Time) EventKey {
	return EventKey{
		Type:     "subscription.delivery",
		EntityID: fmt.Sprintf("%s:%s", subscriptionID, Day(date).Format(time.DateOnly)),
	}
}

// IntentStatus is the state of a recorded gateway call.
type IntentStatus string

const (
	IntentPending   IntentStatus = "PENDING"
	IntentCompleted IntentStatus = "COMPLETED"
	IntentFailed    IntentStatus = "FAILED"
)

// GatewayIntent is an outbox row written before a subscription transition is
// sent to the gateway and closed once the local row reflects it.
type GatewayIntent struct {
	ID             string             `json:"id"`
	SubscriptionID string             `json:"subscription_id"`
	ActorID        string             `json:"actor_id,omitempty"`
	Action         SubscriptionAction `json:"action"`
	Status         IntentStatus       `json:"status"`
	Attempts       int                `json:"attempts"`
	LastError      string             `json:"last_error,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}
