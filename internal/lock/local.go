package lock

import (
	"context"
	"sync"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

var _ ports.Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time), now: time.Now}
}

func (l *Local) Acquire(_ context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.held[name]; ok && l.now().Before(expiry) {
		return nil, false, nil
	}
	expiry := l.now().Add(ttl)
	l.held[name] = expiry

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[name].Equal(expiry) {
			delete(l.held, name)
		}
		return nil
	}
	return release, true, nil
}
