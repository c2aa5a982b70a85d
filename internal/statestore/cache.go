package statestore

import (
	"container/list"
	"sync"
	"time"

	"github.com/wolfman30/leadqual/internal/qualification"
)

// Cache defaults.
const (
	DefaultCacheSize = 100
	DefaultCacheTTL  = time.Hour
)

// Cache is a bounded cache of conversation states with a time-to-live. When
// full it evicts the conversation with the oldest LastActivity, so reads from
// dashboards do not keep idle threads ahead of active ones; ties go to the
// least recently used entry. Entries are deep copies so callers can mutate
// freely.
type Cache struct {
	mu      sync.Mutex
	size    int
	ttl     time.Duration
	now     func() time.Time
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	threadID string
	state    *qualification.ConversationState
	storedAt time.Time
}

// CacheOption customises a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache builds a cache holding at most size entries for ttl each.
func NewCache(size int, ttl time.Duration, opts ...CacheOption) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		size:    size,
		ttl:     ttl,
		now:     time.Now,
		order:   list.New(),
		entries: make(map[string]*list.Element, size),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached state. Expired entries count as misses
// and are dropped.
func (c *Cache) Get(threadID string) (*qualification.ConversationState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[threadID]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.storedAt) >= c.ttl {
		c.removeElement(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.state.Clone(), true
}

// Set stores a copy of state, evicting the least active entry when full.
func (c *Cache) Set(state *qualification.ConversationState) {
	if state == nil || state.ThreadID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[state.ThreadID]; ok {
		entry := el.Value.(*cacheEntry)
		entry.state = state.Clone()
		entry.storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.size {
		c.removeElement(c.leastActive())
	}
	el := c.order.PushFront(&cacheEntry{threadID: state.ThreadID, state: state.Clone(), storedAt: c.now()})
	c.entries[state.ThreadID] = el
}

// Invalidate drops the entry for threadID.
func (c *Cache) Invalidate(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[threadID]; ok {
		c.removeElement(el)
	}
}

// EvictInactive drops entries whose state was last active before cutoff.
func (c *Cache) EvictInactive(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*cacheEntry).state.LastActivity.Before(cutoff) {
			c.removeElement(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len reports the number of cached entries, including expired ones not yet
// observed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// leastActive scans from the least recently used end so that equal
// activity times fall back to recency.
func (c *Cache) leastActive() *list.Element {
	var victim *list.Element
	for el := c.order.Back(); el != nil; el = el.Prev() {
		if victim == nil || el.Value.(*cacheEntry).state.LastActivity.Before(victim.Value.(*cacheEntry).state.LastActivity) {
			victim = el
		}
	}
	return victim
}

func (c *Cache) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).threadID)
}
