package ports

import (
	"context"
	"time"
)

// Locker grants a named lease shared by all service instances.
type Locker interface {
	// Acquire returns a release func, or ok=false when another holder owns name.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
