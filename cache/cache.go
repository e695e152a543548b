// Package cache holds the engine's in-memory read caches: peer profiles,
// peer public keys, thread-list pages, per-thread message windows, and an
// unread-count index. Every sub-cache is TTL-bounded, size-bounded, and
// carries monotonic per-key versions so readers can detect a concurrent
// invalidation. Cache contents are copies, never the authoritative record;
// on any ambiguity the backing store wins.
package cache

import (
	"sync"
	"time"
)

// DefaultBaseTTL is the staleness horizon for profile, key, and message
// caches. Thread pages use half of it: thread rows churn on every message.
const DefaultBaseTTL = 5 * time.Minute

type entry[T any] struct {
	value      T
	insertedAt time.Time
	version    uint64
}

// ttlMap is the shared sub-cache contract: Get misses on absent or stale
// keys (auto-evicting stale entries on read), Put bumps the key's version
// and evicts the oldest entries beyond the cap. Evicted-by-staleness values
// are parked so degraded read paths can still serve last-known-good data.
type ttlMap[T any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]entry[T]
	expired    map[string]T
	versions   map[string]uint64
	now        func() time.Time
}

func newTTLMap[T any](ttl time.Duration, maxEntries int) *ttlMap[T] {
	return &ttlMap[T]{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]entry[T]),
		expired:    make(map[string]T),
		versions:   make(map[string]uint64),
		now:        time.Now,
	}
}

func (m *ttlMap[T]) get(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	e, ok := m.entries[key]
	if !ok {
		return zero, false
	}
	if m.now().Sub(e.insertedAt) > m.ttl {
		delete(m.entries, key)
		m.expired[key] = e.value
		return zero, false
	}

	return e.value, true
}

// stale returns the freshest value held for key regardless of TTL. Used
// only when the backing store is unreachable.
func (m *ttlMap[T]) stale(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		return e.value, true
	}
	if v, ok := m.expired[key]; ok {
		return v, true
	}

	var zero T
	return zero, false
}

func (m *ttlMap[T]) put(key string, value T) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := m.versions[key] + 1
	m.versions[key] = version
	m.entries[key] = entry[T]{value: value, insertedAt: m.now(), version: version}
	delete(m.expired, key)

	for m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		m.evictOldestLocked()
	}

	return version
}

func (m *ttlMap[T]) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for key, e := range m.entries {
		if !found || e.insertedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = key, e.insertedAt, true
		}
	}
	if found {
		delete(m.entries, oldestKey)
	}
}

func (m *ttlMap[T]) version(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[key]
}

// invalidate drops the key and bumps its version, so a reader that snapshots
// the version before a store fetch can tell the invalidation happened and
// skip re-caching its now-superseded result.
func (m *ttlMap[T]) invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, hadEntry := m.entries[key]
	_, hadExpired := m.expired[key]
	if hadEntry || hadExpired {
		m.versions[key]++
	}
	delete(m.entries, key)
	delete(m.expired, key)
}

func (m *ttlMap[T]) invalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		m.versions[key]++
	}
	for key := range m.expired {
		if _, ok := m.entries[key]; !ok {
			m.versions[key]++
		}
	}
	m.entries = make(map[string]entry[T])
	m.expired = make(map[string]T)
}

func (m *ttlMap[T]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Caches bundles the session-scoped sub-caches. One instance per session;
// no cross-session sharing.
type Caches struct {
	Profiles *ProfileCache
	Keys     *KeyCache
	Threads  *ThreadCache
	Messages *MessageCache
	Unread   *UnreadIndex
}

// New constructs all sub-caches from one base TTL. Thread pages get half
// the base TTL.
func New(baseTTL time.Duration) *Caches {
	if baseTTL <= 0 {
		baseTTL = DefaultBaseTTL
	}

	return &Caches{
		Profiles: newProfileCache(baseTTL),
		Keys:     newKeyCache(baseTTL),
		Threads:  newThreadCache(baseTTL / 2),
		Messages: newMessageCache(baseTTL),
		Unread:   newUnreadIndex(baseTTL),
	}
}

// InvalidateAll drops every cached entry across all sub-caches.
func (c *Caches) InvalidateAll() {
	c.Profiles.m.invalidateAll()
	c.Keys.m.invalidateAll()
	c.Threads.m.invalidateAll()
	c.Messages.m.invalidateAll()
	c.Unread.m.invalidateAll()
}
