package subscriptions

import (
	"context"
	"time"
)

// SweepReport summarises one pass over stale gateway intents.
type SweepReport struct {
	Stale     int `json:"stale"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Sweeper re-drives gateway intents left PENDING by a crash between the
// gateway call and the local commit.
type Sweeper struct {
	machine *StateMachine
	grace   time.Duration
	batch   int
}

func NewSweeper(machine *StateMachine, grace time.Duration, batch int) *Sweeper {
	return &Sweeper{machine: machine, grace: grace, batch: batch}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	m := s.machine
	cutoff := m.now().Add(-s.grace)

	intents, err := m.repo.ListStaleIntents(ctx, cutoff, s.batch)
	if err != nil {
		return SweepReport{}, err
	}

	report := SweepReport{Stale: len(intents)}
	for _, intent := range intents {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		sub, err := m.repo.GetSubscription(ctx, intent.SubscriptionID)
		if err == nil {
			_, err = m.drive(ctx, intent, sub, false)
		}
		if err != nil {
			report.Failed++
			m.logger.WarnContext(ctx, "gateway intent redrive failed",
				"error", err,
				"intent_id", intent.ID,
				"subscription_id", intent.SubscriptionID,
			)
			continue
		}
		report.Completed++
	}

	if report.Stale > 0 {
		m.logger.InfoContext(ctx, "gateway intent sweep finished",
			"stale", report.Stale,
			"completed", report.Completed,
			"failed", report.Failed,
		)
	}
	return report, nil
}
