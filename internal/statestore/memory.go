package statestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/leadqual/internal/qualification"
)

// MemoryStore keeps encoded states in a map. It is used for local
// development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

type memoryItem struct {
	data    []byte
	version int64
	summary Summary
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

// Get returns a fresh copy of the stored state.
func (s *MemoryStore) Get(ctx context.Context, threadID string) (*qualification.ConversationState, error) {
	s.mu.RLock()
	item, ok := s.items[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	state, err := qualification.Decode(item.data)
	if err != nil {
		return nil, err
	}
	state.Version = item.version
	return state, nil
}

// Put stores the state if its version matches.
func (s *MemoryStore) Put(ctx context.Context, state *qualification.ConversationState) error {
	if state == nil || state.ThreadID == "" {
		return errors.New("statestore: state with thread id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.items[state.ThreadID]
	if exists && current.version != state.Version {
		return ErrVersionConflict
	}
	if !exists && state.Version != 0 {
		return ErrVersionConflict
	}

	next := state.Version + 1
	snapshot := state.Clone()
	snapshot.Version = next
	data, err := qualification.Encode(snapshot)
	if err != nil {
		return err
	}
	s.items[state.ThreadID] = memoryItem{data: data, version: next, summary: summaryOf(snapshot)}
	state.Version = next
	return nil
}

// Scan lists threads active since activeSince, most recent first.
func (s *MemoryStore) Scan(ctx context.Context, activeSince time.Time, limit int) ([]Summary, error) {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.items))
	for _, item := range s.items {
		if !item.summary.LastActivity.Before(activeSince) {
			out = append(out, item.summary)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteOlderThan removes threads whose last activity is strictly before cutoff.
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, item := range s.items {
		if item.summary.LastActivity.Before(cutoff) {
			delete(s.items, id)
			deleted++
		}
	}
	return deleted, nil
}

// ListExpired returns up to limit states that DeleteOlderThan would remove,
// oldest first.
func (s *MemoryStore) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*qualification.ConversationState, error) {
	s.mu.RLock()
	var expired []memoryItem
	for _, item := range s.items {
		if item.summary.LastActivity.Before(cutoff) {
			expired = append(expired, item)
		}
	}
	s.mu.RUnlock()

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].summary.LastActivity.Before(expired[j].summary.LastActivity)
	})
	if limit = normalizeLimit(limit); len(expired) > limit {
		expired = expired[:limit]
	}
	out := make([]*qualification.ConversationState, 0, len(expired))
	for _, item := range expired {
		state, err := qualification.Decode(item.data)
		if err != nil {
			return nil, err
		}
		state.Version = item.version
		out = append(out, state)
	}
	return out, nil
}
