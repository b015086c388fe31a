package webhooks

import "time"

// SetClock replaces the reconciler's clock.
func SetClock(r *Reconciler, now func() time.Time) {
	r.now = now
}
