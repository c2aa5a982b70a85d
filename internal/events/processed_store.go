// Package events suppresses duplicate webhook deliveries.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Deduper claims webhook event ids. Claim returns true the first time an
// id is seen for a provider and false for every redelivery. Release drops a
// claim whose event could not be handed off, so a redelivery is accepted.
type Deduper interface {
	Claim(ctx context.Context, provider, eventID string) (bool, error)
	Release(ctx context.Context, provider, eventID string) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ProcessedStore records handled events in the processed_events table.
type ProcessedStore struct {
	pool execer
}

var _ Deduper = (*ProcessedStore)(nil)

// NewProcessedStore builds a store on a pgx pool.
func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec execer) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// Claim inserts the event id, reporting false when it already existed.
func (s *ProcessedStore) Claim(ctx context.Context, provider, eventID string) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Release deletes the claim for one event.
func (s *ProcessedStore) Release(ctx context.Context, provider, eventID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE provider = $1 AND event_id = $2`, provider, eventID); err != nil {
		return fmt.Errorf("events: release claim: %w", err)
	}
	return nil
}

// Purge forgets events processed before cutoff.
func (s *ProcessedStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("events: purge processed: %w", err)
	}
	return ct.RowsAffected(), nil
}

// MemoryDeduper remembers event ids in process for a bounded window. Used
// when no database is configured.
type MemoryDeduper struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

var _ Deduper = (*MemoryDeduper)(nil)

// NewMemoryDeduper remembers ids for window.
func NewMemoryDeduper(window time.Duration) *MemoryDeduper {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &MemoryDeduper{window: window, now: time.Now, seen: make(map[string]time.Time)}
}

// Claim records the id and reports whether it was new.
func (d *MemoryDeduper) Claim(_ context.Context, provider, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}
	key := provider + ":" + eventID
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now
	return true, nil
}

// Release forgets the id.
func (d *MemoryDeduper) Release(_ context.Context, provider, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, provider+":"+eventID)
	return nil
}
