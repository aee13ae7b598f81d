// ABOUTME: Tests for the completed-response caches.
// ABOUTME: Validates TTL expiration, size limits, eviction order, cleanup, and concurrency safety.

package dedupe

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wxcallback/internal/message"
)

func textResponse(content string) message.Response {
	return &message.Text{Header: message.Header{ToUserName: "u", FromUserName: "gh"}, Content: content}
}

func mustGet(t *testing.T, c ResponseCache, key string) (message.Response, bool) {
	t.Helper()
	resp, ok, err := c.Get(context.Background(), key)
	require.NoError(t, err)
	return resp, ok
}

func TestMemoryCache_Get_NotSeen(t *testing.T) {
	cache := NewMemoryCache(5*time.Minute, 100)
	defer cache.Close()

	_, ok := mustGet(t, cache, "never-seen-key")
	assert.False(t, ok)
}

func TestMemoryCache_AddAndGet(t *testing.T) {
	cache := NewMemoryCache(5*time.Minute, 100)
	defer cache.Close()

	resp := textResponse("OK-42")
	require.NoError(t, cache.Add(context.Background(), "msg:A:42", resp))

	got, ok := mustGet(t, cache, "msg:A:42")
	require.True(t, ok)
	assert.Same(t, resp, got)
}

func TestMemoryCache_Expired(t *testing.T) {
	cache := NewMemoryCache(10*time.Millisecond, 100)
	defer cache.Close()

	require.NoError(t, cache.Add(context.Background(), "expiring-key", textResponse("x")))

	_, ok := mustGet(t, cache, "expiring-key")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	_, ok = mustGet(t, cache, "expiring-key")
	assert.False(t, ok)
}

func TestMemoryCache_DefaultsForNonPositiveLimits(t *testing.T) {
	cache := NewMemoryCache(0, 0)
	defer cache.Close()

	assert.Equal(t, DefaultTTL, cache.ttl)
	assert.Equal(t, DefaultMaxEntries, cache.maxSize)
}

func TestMemoryCache_EvictionOrder(t *testing.T) {
	cache := NewMemoryCache(5*time.Minute, 3)
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, "first", textResponse("1")))
	require.NoError(t, cache.Add(ctx, "second", textResponse("2")))
	require.NoError(t, cache.Add(ctx, "third", textResponse("3")))

	// Add fourth - should evict "first" (oldest)
	require.NoError(t, cache.Add(ctx, "fourth", textResponse("4")))

	_, ok := mustGet(t, cache, "first")
	assert.False(t, ok, "first should be evicted")
	for _, key := range []string{"second", "third", "fourth"} {
		_, ok := mustGet(t, cache, key)
		assert.True(t, ok, key)
	}

	// Re-adding "second" moves it to the back, so "third" goes next.
	require.NoError(t, cache.Add(ctx, "second", textResponse("2b")))
	require.NoError(t, cache.Add(ctx, "fifth", textResponse("5")))

	_, ok = mustGet(t, cache, "third")
	assert.False(t, ok, "third should be evicted")
	got, ok := mustGet(t, cache, "second")
	require.True(t, ok)
	text, err := got.Serialize()
	require.NoError(t, err)
	assert.Contains(t, text, "2b")
	assert.Equal(t, 3, cache.Len())
}

func TestMemoryCache_Cleanup(t *testing.T) {
	cache := NewMemoryCache(10*time.Millisecond, 100)
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, "cleanup-1", textResponse("1")))
	require.NoError(t, cache.Add(ctx, "cleanup-2", textResponse("2")))

	time.Sleep(20 * time.Millisecond)

	// Trigger cleanup manually rather than waiting for the ticker
	cache.runCleanup()

	assert.Equal(t, 0, cache.Len(), "cleanup should remove expired entries from map")
	cache.mu.RLock()
	assert.Equal(t, 0, cache.order.Len())
	cache.mu.RUnlock()
}

func TestMemoryCache_Concurrent(t *testing.T) {
	cache := NewMemoryCache(5*time.Minute, 1000)
	defer cache.Close()
	ctx := context.Background()

	const numGoroutines = 100
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				key := fmt.Sprintf("key-%d-%d", id%26, j%10)
				_ = cache.Add(ctx, key, textResponse(key))
				_, _, _ = cache.Get(ctx, key)
			}
		}(i)
	}

	wg.Wait()

	require.NoError(t, cache.Add(ctx, "final-key", textResponse("final")))
	_, ok := mustGet(t, cache, "final-key")
	assert.True(t, ok)
}

func TestMemoryCache_Close(t *testing.T) {
	cache := NewMemoryCache(5*time.Minute, 100)

	assert.NoError(t, cache.Close())
	// Multiple closes should not panic
	assert.NoError(t, cache.Close())
}

func TestNullCache(t *testing.T) {
	var cache NullCache

	require.NoError(t, cache.Add(context.Background(), "k", textResponse("x")))
	_, ok := mustGet(t, cache, "k")
	assert.False(t, ok)
}
