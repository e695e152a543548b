package cache

import (
	"strconv"
	"time"

	"orgchat/crypto"
	"orgchat/models"
)

const (
	// MaxCachedThreads caps how many thread rows a cached page may hold.
	MaxCachedThreads = 50
	// MaxWindowMessages caps the per-thread message window.
	MaxWindowMessages = 100

	maxProfileEntries = 256
	maxKeyEntries     = 256
	maxThreadPages    = 8
	maxMessageThreads = 50
)

// ProfileCache caches directory profiles by user id.
type ProfileCache struct {
	m *ttlMap[models.Profile]
}

func newProfileCache(ttl time.Duration) *ProfileCache {
	return &ProfileCache{m: newTTLMap[models.Profile](ttl, maxProfileEntries)}
}

func (c *ProfileCache) Get(userID string) (models.Profile, bool) {
	return c.m.get(userID)
}

func (c *ProfileCache) Put(userID string, profile models.Profile) uint64 {
	return c.m.put(userID, profile)
}

func (c *ProfileCache) Invalidate(userID string) {
	c.m.invalidate(userID)
}

// KeyCache caches published public keys by user id.
type KeyCache struct {
	m *ttlMap[[crypto.KeySize]byte]
}

func newKeyCache(ttl time.Duration) *KeyCache {
	return &KeyCache{m: newTTLMap[[crypto.KeySize]byte](ttl, maxKeyEntries)}
}

func (c *KeyCache) Get(userID string) ([crypto.KeySize]byte, bool) {
	return c.m.get(userID)
}

func (c *KeyCache) Put(userID string, key [crypto.KeySize]byte) uint64 {
	return c.m.put(userID, key)
}

func (c *KeyCache) Invalidate(userID string) {
	c.m.invalidate(userID)
}

// ThreadCache caches thread-list pages. Shorter TTL than the other caches:
// unread counts and last-message pointers churn on every message.
type ThreadCache struct {
	m *ttlMap[[]models.ThreadSummary]
}

func newThreadCache(ttl time.Duration) *ThreadCache {
	return &ThreadCache{m: newTTLMap[[]models.ThreadSummary](ttl, maxThreadPages)}
}

func (c *ThreadCache) Get(page int) ([]models.ThreadSummary, bool) {
	return c.m.get(pageKey(page))
}

// Stale returns the last-known page content regardless of TTL.
func (c *ThreadCache) Stale(page int) ([]models.ThreadSummary, bool) {
	return c.m.stale(pageKey(page))
}

func (c *ThreadCache) Put(page int, threads []models.ThreadSummary) uint64 {
	if len(threads) > MaxCachedThreads {
		threads = threads[:MaxCachedThreads:MaxCachedThreads]
	}
	return c.m.put(pageKey(page), threads)
}

func (c *ThreadCache) Version(page int) uint64 {
	return c.m.version(pageKey(page))
}

func (c *ThreadCache) InvalidateAll() {
	c.m.invalidateAll()
}

func pageKey(page int) string {
	return strconv.Itoa(page)
}

// MessageCache caches the active (page zero) message window per thread.
// Older history is immutable and always fetched from the store.
type MessageCache struct {
	m *ttlMap[[]models.Message]
}

func newMessageCache(ttl time.Duration) *MessageCache {
	return &MessageCache{m: newTTLMap[[]models.Message](ttl, maxMessageThreads)}
}

func (c *MessageCache) Get(threadID string) ([]models.Message, bool) {
	return c.m.get(threadID)
}

// Stale returns the last-known window regardless of TTL.
func (c *MessageCache) Stale(threadID string) ([]models.Message, bool) {
	return c.m.stale(threadID)
}

// Put stores the window, keeping only the newest MaxWindowMessages entries.
// Messages are expected in ascending CreatedAt order.
func (c *MessageCache) Put(threadID string, messages []models.Message) uint64 {
	if len(messages) > MaxWindowMessages {
		messages = messages[len(messages)-MaxWindowMessages:]
	}
	return c.m.put(threadID, messages)
}

func (c *MessageCache) Version(threadID string) uint64 {
	return c.m.version(threadID)
}

func (c *MessageCache) Invalidate(threadID string) {
	c.m.invalidate(threadID)
}

// UnreadIndex tracks unread counts per thread. The only bucket where
// unknown or expired reads as zero rather than "must refetch": a safe
// default for badge counts, not for authoritative read state.
type UnreadIndex struct {
	m *ttlMap[int]
}

func newUnreadIndex(ttl time.Duration) *UnreadIndex {
	return &UnreadIndex{m: newTTLMap[int](ttl, 0)}
}

// Count returns the cached unread count, or zero when unknown or expired.
func (c *UnreadIndex) Count(threadID string) int {
	n, ok := c.m.get(threadID)
	if !ok {
		return 0
	}
	return n
}

func (c *UnreadIndex) Set(threadID string, count int) {
	if count < 0 {
		count = 0
	}
	c.m.put(threadID, count)
}

// Bump increments the count, treating an expired entry as zero.
func (c *UnreadIndex) Bump(threadID string) int {
	next := c.Count(threadID) + 1
	c.m.put(threadID, next)
	return next
}

// Zero resets the count immediately, ahead of the backing-store update.
func (c *UnreadIndex) Zero(threadID string) {
	c.m.put(threadID, 0)
}
