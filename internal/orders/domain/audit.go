package domain

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions written by the order core.
const (
	AuditOrderCreated         = "order.created"
	AuditOrderStatusUpdated   = "order.status_updated"
	AuditOrderRefunded        = "order.refunded"
	AuditPaymentCaptured      = "payment.captured"
	AuditPaymentFailed        = "payment.failed"
	AuditSubscriptionCreated  = "subscription.created"
	AuditSubscriptionChanged  = "subscription.status_changed"
	AuditSubscriptionCharged  = "subscription.charged"
	AuditSubscriptionDelivery = "subscription.delivered"
)

// AuditEntry is an append-only record of a state change. ActorID is empty for
// system actions.
type AuditEntry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewAuditEntry builds an entry with a fresh id. actorID is empty for system
// actions.
func NewAuditEntry(actorID, action, entityType, entityID string, payload map[string]any, now time.Time) AuditEntry {
	return AuditEntry{
		ID:         NewID(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		CreatedAt:  now,
	}
}

// NewID returns a time-ordered UUID.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
