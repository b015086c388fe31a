package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/domain"
	"github.com/aspect2729/indostarnaturals-sub000/internal/orders/ports"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps Idempotency-Key responses and processed event markers.
// Bound to a transaction, its writes commit or roll back with that transaction.
type Store struct {
	q   Querier
	ttl time.Duration
}

// NewStore returns a store over q. A zero ttl keeps responses forever.
func NewStore(q Querier, ttl time.Duration) *Store {
	return &Store{q: q, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, key string) (*ports.StoredResponse, error) {
	query := `
		SELECT status_code, body, order_id
		FROM idempotency_keys
		WHERE key = $1
		  AND ($2::bigint = 0 OR created_at > NOW() - make_interval(secs => $2::bigint))
	`

	var resp ports.StoredResponse
	err := s.q.QueryRow(ctx, query, key, int64(s.ttl.Seconds())).Scan(
		&resp.StatusCode,
		&resp.Body,
		&resp.OrderID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select idempotency key: %w", err)
	}

	return &resp, nil
}

func (s *Store) Save(ctx context.Context, key string, response ports.StoredResponse) error {
	query := `
		INSERT INTO idempotency_keys (key, status_code, body, order_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
	`

	if _, err := s.q.Exec(ctx, query, key, response.StatusCode, response.Body, response.OrderID); err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}

	return nil
}

// Claim inserts the event marker and reports whether this call created it.
// The primary key makes concurrent claims for one key race-free.
func (s *Store) Claim(ctx context.Context, key domain.EventKey) (bool, error) {
	query := `
		INSERT INTO processed_events (event_type, entity_id)
		VALUES ($1, $2)
		ON CONFLICT (event_type, entity_id) DO NOTHING
	`

	tag, err := s.q.Exec(ctx, query, key.Type, key.EntityID)
	if err != nil {
		return false, fmt.Errorf("insert processed event: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// Purge deletes stored responses older than the ttl.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	tag, err := s.q.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE created_at <= NOW() - make_interval(secs => $1::bigint)`,
		int64(s.ttl.Seconds()),
	)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}

	return tag.RowsAffected(), nil
}
