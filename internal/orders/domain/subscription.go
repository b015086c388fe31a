package domain

import (
	"fmt"
	"strings"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionPaused    SubscriptionStatus = "PAUSED"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

// Frequency is the delivery cadence of a subscription.
type Frequency string

const (
	FrequencyDaily         Frequency = "DAILY"
	FrequencyAlternateDays Frequency = "ALTERNATE_DAYS"
	FrequencyWeekly        Frequency = "WEEKLY"
)

// ParseFrequency validates a frequency coming from a client.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(s)))
	if f.Days() == 0 {
		return "", fmt.Errorf("%w: unknown plan frequency %q", ErrValidation, s)
	}
	return f, nil
}

// Days is the offset between two deliveries, or 0 for an unknown frequency.
func (f Frequency) Days() int {
	switch f {
	case FrequencyDaily:
		return 1
	case FrequencyAlternateDays:
		return 2
	case FrequencyWeekly:
		return 7
	default:
		return 0
	}
}

// Subscription is a recurring delivery of one unit of a product.
type Subscription struct {
	ID                    string             `json:"id"`
	UserID                string             `json:"user_id"`
	ProductID             string             `json:"product_id"`
	AddressID             string             `json:"address_id"`
	PlanFrequency         Frequency          `json:"plan_frequency"`
	Status                SubscriptionStatus `json:"status"`
	NextDeliveryDate      time.Time          `json:"next_delivery_date"`
	GatewaySubscriptionID string             `json:"gateway_subscription_id,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// SubscriptionAction is a user or gateway driven transition.
type SubscriptionAction string

const (
	ActionPause  SubscriptionAction = "pause"
	ActionResume SubscriptionAction = "resume"
	ActionCancel SubscriptionAction = "cancel"
)

// Target returns the status an action leads to.
func (a SubscriptionAction) Target() SubscriptionStatus {
	switch a {
	case ActionPause:
		return SubscriptionPaused
	case ActionResume:
		return SubscriptionActive
	default:
		return SubscriptionCancelled
	}
}

// CheckTransition reports whether action is allowed from the current status.
func (s Subscription) CheckTransition(action SubscriptionAction) error {
	ok := false
	switch action {
	case ActionPause:
		ok = s.Status == SubscriptionActive
	case ActionResume:
		ok = s.Status == SubscriptionPaused
	case ActionCancel:
		ok = s.Status != SubscriptionCancelled
	}
	if !ok {
		return fmt.Errorf("%w: cannot %s subscription in status %s", ErrInvalidTransition, action, s.Status)
	}
	return nil
}

// Apply moves the subscription through action. Resume reschedules from today.
// The next delivery date never moves backwards.
func (s *Subscription) Apply(action SubscriptionAction, today time.Time) error {
	if err := s.CheckTransition(action); err != nil {
		return err
	}
	s.Status = action.Target()
	if action == ActionResume {
		next := AddDays(Day(today), s.PlanFrequency.Days())
		if next.After(s.NextDeliveryDate) {
			s.NextDeliveryDate = next
		}
	}
	return nil
}

// Advance moves the next delivery date forward by whole cycles until it lies
// after today. Missed cycles are skipped, not back-filled.
func (s *Subscription) Advance(today time.Time) {
	days := s.PlanFrequency.Days()
	if days == 0 {
		days = 1
	}
	next := AddDays(Day(s.NextDeliveryDate), days)
	for !next.After(Day(today)) {
		next = AddDays(next, days)
	}
	s.NextDeliveryDate = next
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays adds n calendar days to a date.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}
