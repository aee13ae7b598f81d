// ABOUTME: Asynchronous message-log writer exposed as a messaging observer
// ABOUTME: A bounded queue keeps database latency out of the callback path

package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/wxcallback/internal/messaging"
)

// DefaultRecorderBuffer is the queue size used when none is given.
const DefaultRecorderBuffer = 1024

// Recorder writes observed callbacks to a MessageLog from a single worker
// goroutine. When the queue is full entries are dropped with a warning.
type Recorder struct {
	log     MessageLog
	logger  *slog.Logger
	entries chan *MessageLogEntry

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts a recorder writing to log.
func NewRecorder(log MessageLog, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	r := &Recorder{
		log:     log,
		logger:  logger.With("component", "recorder"),
		entries: make(chan *MessageLogEntry, buffer),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Observer returns a messaging.Observer that records under integration.
func (r *Recorder) Observer(integration string) messaging.Observer {
	return recorderObserver{r: r, integration: integration}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.log.AppendMessageLog(ctx, e); err != nil {
			r.logger.Warn("writing message log", "request_id", e.RequestID, "error", err)
		}
		cancel()
	}
}

func (r *Recorder) enqueue(e *MessageLogEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.entries <- e:
	default:
		r.logger.Warn("message log queue full, dropping entry",
			"integration", e.Integration,
			"request_id", e.RequestID,
			"direction", e.Direction,
		)
	}
}

// Close stops accepting entries and waits until queued ones are written.
// It is safe to call multiple times.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.entries)
	}
	r.mu.Unlock()

	<-r.done
	return nil
}

type recorderObserver struct {
	r           *Recorder
	integration string
}

func (o recorderObserver) OnRequestRead(ctx context.Context, text string) {
	o.r.enqueue(&MessageLogEntry{
		RequestID:   messaging.RequestID(ctx),
		Integration: o.integration,
		Direction:   DirectionRequest,
		Body:        text,
		CreatedAt:   time.Now().UTC(),
	})
}

func (o recorderObserver) OnResponseGenerated(ctx context.Context, text string, source messaging.Source) {
	o.r.enqueue(&MessageLogEntry{
		RequestID:   messaging.RequestID(ctx),
		Integration: o.integration,
		Direction:   DirectionResponse,
		Source:      source.String(),
		Body:        text,
		CreatedAt:   time.Now().UTC(),
	})
}
