// ABOUTME: Tests for SQLite store construction and the response cache table
// ABOUTME: Covers file creation, in-memory mode, TTL expiry, upserts and purging

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wxcallback/internal/message"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created in the nested directory
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	// Schema must be visible on the connection used for queries
	cache := store.ResponseCache(time.Minute)
	require.NoError(t, cache.Add(ctx, "k", message.Success{}))
	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResponseCache_AddAndGet(t *testing.T) {
	store := setupTestStore(t)
	cache := store.ResponseCache(time.Minute)
	ctx := context.Background()

	reply := &message.Text{Header: message.Header{ToUserName: "A", FromUserName: "gh", CreateTime: 1000}, Content: "OK-42"}
	require.NoError(t, cache.Add(ctx, "msg:A:42", reply))

	got, ok, err := cache.Get(ctx, "msg:A:42")
	require.NoError(t, err)
	require.True(t, ok)

	want, err := reply.Serialize()
	require.NoError(t, err)
	text, err := got.Serialize()
	require.NoError(t, err)
	assert.Equal(t, want, text)
	assert.True(t, got.EncryptionRequired())
}

func TestResponseCache_PreservesEncryptionFlag(t *testing.T) {
	store := setupTestStore(t)
	cache := store.ResponseCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Add(ctx, "k", message.Success{}))

	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.EncryptionRequired())
	text, err := got.Serialize()
	require.NoError(t, err)
	assert.Equal(t, message.SuccessText, text)
}

func TestResponseCache_Miss(t *testing.T) {
	store := setupTestStore(t)

	_, ok, err := store.ResponseCache(time.Minute).Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResponseCache_ExpiryAndPurge(t *testing.T) {
	store := setupTestStore(t)
	cache := store.ResponseCache(time.Minute)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Add(ctx, "old", message.Success{}))
	now = now.Add(30 * time.Second)
	require.NoError(t, cache.Add(ctx, "fresh", message.Success{}))

	now = now.Add(45 * time.Second)

	_, ok, err := cache.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok, "expired rows must be invisible before purging")

	_, ok, err = cache.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := cache.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var count int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM response_cache`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestResponseCache_AddReplacesAndRefreshes(t *testing.T) {
	store := setupTestStore(t)
	cache := store.ResponseCache(time.Minute)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Add(ctx, "k", &message.Raw{Text: "first"}))
	now = now.Add(50 * time.Second)
	require.NoError(t, cache.Add(ctx, "k", &message.Raw{Text: "second", Encrypt: true}))
	now = now.Add(50 * time.Second)

	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	text, err := got.Serialize()
	require.NoError(t, err)
	assert.Equal(t, "second", text)
	assert.True(t, got.EncryptionRequired())
}

func TestResponseCache_RunPurgerStopsOnCancel(t *testing.T) {
	store := setupTestStore(t)
	cache := store.ResponseCache(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, cache.Add(ctx, "k", message.Success{}))

	done := make(chan struct{})
	go func() {
		cache.RunPurger(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		var count int
		if err := store.DB().QueryRow(`SELECT COUNT(*) FROM response_cache`).Scan(&count); err != nil {
			return false
		}
		return count == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPurger did not return after cancel")
	}
}
