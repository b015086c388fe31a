package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

type entry struct {
	response ports.StoredResponse
	savedAt  time.Time
}

// Store retains Idempotency-Key responses for replaying duplicate requests.
type Store struct {
	mu    sync.RWMutex
	items map[string]entry
	ttl   time.Duration
	now   func() time.Time
}

// NewStore creates an in-memory store. A zero ttl keeps responses forever.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		items: make(map[string]entry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *Store) expired(e entry) bool {
	return s.ttl > 0 && s.now().Sub(e.savedAt) >= s.ttl
}

// Get returns the stored response for key if present and not expired.
func (s *Store) Get(_ context.Context, key string) (*ports.StoredResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	if !ok || s.expired(e) {
		return nil, nil
	}
	resp := e.response
	return &resp, nil
}

// Save keeps the first response stored for key.
func (s *Store) Save(_ context.Context, key string, response ports.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[key]; ok && !s.expired(e) {
		return nil
	}
	s.items[key] = entry{response: response, savedAt: s.now()}
	return nil
}

// Purge drops expired responses.
func (s *Store) Purge(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, e := range s.items {
		if s.expired(e) {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}
