// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows gateway tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	entries []MessageLogEntry
	pingErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// SetPingError makes Ping fail with err until reset with nil.
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// AppendMessageLog stores a copy of e.
func (m *MockStore) AppendMessageLog(ctx context.Context, e *MessageLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Direction != DirectionRequest && e.Direction != DirectionResponse {
		return fmt.Errorf("invalid direction %q", e.Direction)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	m.entries = append(m.entries, *e)
	return nil
}

// ListMessageLog returns matching entries newest first.
func (m *MockStore) ListMessageLog(ctx context.Context, f MessageLogFilter) ([]MessageLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []MessageLogEntry{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if f.Integration != nil && e.Integration != *f.Integration {
			continue
		}
		if f.RequestID != nil && e.RequestID != *f.RequestID {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		result = append(result, e)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit := normalizeLogLimit(f.Limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Ping reports the error set with SetPingError.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
