// ABOUTME: Completed-response caches keyed by deduplication key.
// ABOUTME: Thread-safe TTL+size-bounded memory cache and a no-op cache that disables reuse.

package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/2389/wxcallback/internal/message"
)

// Retention defaults. The platform retries an unacknowledged callback three
// times within roughly fifteen seconds, so five minutes leaves ample margin.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 100_000
	cleanupInterval   = time.Minute
)

// ResponseCache stores completed responses by deduplication key.
// Implementations must be safe for concurrent use and keep an entry
// retrievable for at least the platform's redelivery window.
type ResponseCache interface {
	Add(ctx context.Context, key string, resp message.Response) error
	Get(ctx context.Context, key string) (message.Response, bool, error)
}

// cacheEntry stores the response, insertion time and list element for a key.
type cacheEntry struct {
	response  message.Response
	timestamp time.Time
	element   *list.Element
}

// MemoryCache is an in-process ResponseCache bounded by age and size.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewMemoryCache creates a cache with the given TTL and maximum size.
// Non-positive values fall back to DefaultTTL and DefaultMaxEntries.
// A background goroutine periodically removes expired entries.
func NewMemoryCache(ttl time.Duration, maxSize int) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	c := &MemoryCache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the response for key if present and not expired.
func (c *MemoryCache) Get(_ context.Context, key string) (message.Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return nil, false, nil
	}
	return entry.response, true, nil
}

// Add stores resp under key. If the cache is at capacity, the oldest entry
// is evicted to make room.
func (c *MemoryCache) Add(_ context.Context, key string, resp message.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if entry, exists := c.entries[key]; exists {
		entry.response = resp
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return nil
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		response:  resp,
		timestamp: now,
		element:   elem,
	}
	return nil
}

// Len returns the number of stored entries, expired ones included until the
// next sweep.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *MemoryCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *MemoryCache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
	return nil
}

// NullCache never retains anything, so only in-flight duplicates are
// collapsed.
type NullCache struct{}

func (NullCache) Add(context.Context, string, message.Response) error { return nil }

func (NullCache) Get(context.Context, string) (message.Response, bool, error) {
	return nil, false, nil
}
