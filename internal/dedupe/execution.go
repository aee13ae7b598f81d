// ABOUTME: In-flight execution table: dedup key -> pending computation of its response
// ABOUTME: Also provides key-granular locks so lookup-then-register is atomic per key

package dedupe

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389/wxcallback/internal/message"
)

// Execution is a one-shot pending result shared by every caller waiting on
// the same key.
type Execution struct {
	done chan struct{}
	once sync.Once
	resp message.Response
	err  error
}

// NewExecution creates an unresolved Execution.
func NewExecution() *Execution {
	return &Execution{done: make(chan struct{})}
}

// Resolve publishes the result. Only the first call has any effect.
func (e *Execution) Resolve(resp message.Response, err error) {
	e.once.Do(func() {
		e.resp = resp
		e.err = err
		close(e.done)
	})
}

// Done is closed once the execution has been resolved.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the execution resolves or ctx is done. Giving up on the
// wait does not affect the execution itself.
func (e *Execution) Wait(ctx context.Context) (message.Response, error) {
	select {
	case <-e.done:
		return e.resp, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// keyLock is a reference-counted mutex for a single key.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// ExecutionTable maps dedup keys to in-flight executions. All methods are
// safe for concurrent use; the internal mutex is only held for map access.
type ExecutionTable struct {
	mu      sync.Mutex
	entries map[string]*Execution
	locks   map[string]*keyLock
}

// NewExecutionTable creates an empty table.
func NewExecutionTable() *ExecutionTable {
	return &ExecutionTable{
		entries: make(map[string]*Execution),
		locks:   make(map[string]*keyLock),
	}
}

// Add registers exec under key. Adding to an occupied key is a caller bug
// and panics.
func (t *ExecutionTable) Add(key string, exec *Execution) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; exists {
		panic(fmt.Sprintf("dedupe: execution already registered for key %q", key))
	}
	t.entries[key] = exec
}

// Get returns the execution registered under key without waiting on it.
func (t *ExecutionTable) Get(key string) (*Execution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exec, ok := t.entries[key]
	return exec, ok
}

// Remove deletes the entry for key. Removing an absent key is a no-op.
func (t *ExecutionTable) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Len returns the number of in-flight executions.
func (t *ExecutionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Lock acquires the exclusive lock for key and returns its release func.
// Locks for different keys never contend with each other. The release func
// must be called exactly once.
func (t *ExecutionTable) Lock(key string) (unlock func()) {
	t.mu.Lock()
	kl, ok := t.locks[key]
	if !ok {
		kl = &keyLock{}
		t.locks[key] = kl
	}
	kl.refs++
	t.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()

		t.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}
