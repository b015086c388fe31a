package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSubscriptionAdvance(t *testing.T) {
	tests := []struct {
		name      string
		frequency domain.Frequency
		next      time.Time
		today     time.Time
		want      time.Time
	}{
		{"daily on time", domain.FrequencyDaily, date(2024, 1, 10), date(2024, 1, 10), date(2024, 1, 11)},
		{"alternate days", domain.FrequencyAlternateDays, date(2024, 1, 10), date(2024, 1, 10), date(2024, 1, 12)},
		{"weekly across a month", domain.FrequencyWeekly, date(2024, 1, 29), date(2024, 1, 29), date(2024, 2, 5)},
		{"late delivery skips missed cycles", domain.FrequencyAlternateDays, date(2024, 1, 10), date(2024, 1, 15), date(2024, 1, 16)},
		{"early charge moves past the due date", domain.FrequencyDaily, date(2024, 1, 12), date(2024, 1, 10), date(2024, 1, 13)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := domain.Subscription{PlanFrequency: tt.frequency, NextDeliveryDate: tt.next}
			sub.Advance(tt.today)
			if !sub.NextDeliveryDate.Equal(tt.want) {
				t.Errorf("expected %s, got %s", tt.want.Format(time.DateOnly), sub.NextDeliveryDate.Format(time.DateOnly))
			}
		})
	}
}

func TestSubscriptionTransitions(t *testing.T) {
	today := date(2024, 1, 10)

	t.Run("allowed moves", func(t *testing.T) {
		sub := domain.Subscription{Status: domain.SubscriptionActive, PlanFrequency: domain.FrequencyDaily, NextDeliveryDate: date(2024, 1, 5)}

		if err := sub.Apply(domain.ActionPause, today); err != nil || sub.Status != domain.SubscriptionPaused {
			t.Fatalf("expected PAUSED, got %s err=%v", sub.Status, err)
		}
		if err := sub.Apply(domain.ActionResume, today); err != nil || sub.Status != domain.SubscriptionActive {
			t.Fatalf("expected ACTIVE, got %s err=%v", sub.Status, err)
		}
		if !sub.NextDeliveryDate.Equal(date(2024, 1, 11)) {
			t.Errorf("expected resume to reschedule from today, got %s", sub.NextDeliveryDate)
		}
		if err := sub.Apply(domain.ActionCancel, today); err != nil || sub.Status != domain.SubscriptionCancelled {
			t.Fatalf("expected CANCELLED, got %s err=%v", sub.Status, err)
		}
	})

	t.Run("resume keeps a later next delivery date", func(t *testing.T) {
		sub := domain.Subscription{Status: domain.SubscriptionPaused, PlanFrequency: domain.FrequencyDaily, NextDeliveryDate: date(2024, 2, 1)}
		_ = sub.Apply(domain.ActionResume, today)
		if !sub.NextDeliveryDate.Equal(date(2024, 2, 1)) {
			t.Errorf("expected next delivery to stay 2024-02-01, got %s", sub.NextDeliveryDate)
		}
	})

	invalid := []struct {
		status domain.SubscriptionStatus
		action domain.SubscriptionAction
	}{
		{domain.SubscriptionPaused, domain.ActionPause},
		{domain.SubscriptionActive, domain.ActionResume},
		{domain.SubscriptionCancelled, domain.ActionResume},
		{domain.SubscriptionCancelled, domain.ActionCancel},
		{domain.SubscriptionCancelled, domain.ActionPause},
	}
	for _, tt := range invalid {
		t.Run(string(tt.action)+" from "+string(tt.status), func(t *testing.T) {
			sub := domain.Subscription{Status: tt.status, PlanFrequency: domain.FrequencyDaily}
			if err := sub.Apply(tt.action, today); !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if sub.Status != tt.status {
				t.Errorf("expected status to stay %s, got %s", tt.status, sub.Status)
			}
		})
	}
}

func TestParseFrequency(t *testing.T) {
	if f, err := domain.ParseFrequency("alternate_days"); err != nil || f != domain.FrequencyAlternateDays {
		t.Errorf("expected ALTERNATE_DAYS, got %s err=%v", f, err)
	}
	if _, err := domain.ParseFrequency("MONTHLY"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestDeliveryKey(t *testing.T) {
	morning := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 1, 10, 22, 30, 0, 0, time.UTC)
	if domain.DeliveryKey("s1", morning) != domain.DeliveryKey("s1", evening) {
		t.Error("expected one key per subscription and day")
	}
	if domain.DeliveryKey("s1", morning) == domain.DeliveryKey("s1", morning.AddDate(0, 0, 1)) {
		t.Error("expected different days to produce different keys")
	}
}
