package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/leadqual/internal/qualification"
)

// CacheObserver receives cache hit/miss notifications.
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

// CachedStore reads through a Cache and writes through to the backing Store.
type CachedStore struct {
	store    Store
	cache    *Cache
	observer CacheObserver
}

var _ Store = (*CachedStore)(nil)

// NewCachedStore composes cache over store. observer may be nil.
func NewCachedStore(store Store, cache *Cache, observer CacheObserver) *CachedStore {
	if store == nil {
		panic("statestore: backing store cannot be nil")
	}
	if cache == nil {
		cache = NewCache(DefaultCacheSize, DefaultCacheTTL)
	}
	return &CachedStore{store: store, cache: cache, observer: observer}
}

// Get serves from cache when fresh, otherwise loads and caches.
func (s *CachedStore) Get(ctx context.Context, threadID string) (*qualification.ConversationState, error) {
	if state, ok := s.cache.Get(threadID); ok {
		s.observe(true)
		return state, nil
	}
	s.observe(false)
	state, err := s.store.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(state)
	return state, nil
}

// Put writes to the store first; the cache is only updated on success.
func (s *CachedStore) Put(ctx context.Context, state *qualification.ConversationState) error {
	if err := s.store.Put(ctx, state); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			s.cache.Invalidate(state.ThreadID)
		}
		return err
	}
	s.cache.Set(state)
	return nil
}

// Scan reads listings from the store directly.
func (s *CachedStore) Scan(ctx context.Context, activeSince time.Time, limit int) ([]Summary, error) {
	return s.store.Scan(ctx, activeSince, limit)
}

// DeleteOlderThan deletes from the store and drops matching cache entries.
func (s *CachedStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return n, err
	}
	s.cache.EvictInactive(cutoff)
	return n, nil
}

// ListExpired reads from the store directly.
func (s *CachedStore) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*qualification.ConversationState, error) {
	return s.store.ListExpired(ctx, cutoff, limit)
}

func (s *CachedStore) observe(hit bool) {
	if s.observer != nil {
		s.observer.ObserveCacheLookup(hit)
	}
}
