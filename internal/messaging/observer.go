// ABOUTME: Observation hooks fired for every processed callback
// ABOUTME: Observers audit or measure traffic; they cannot change the outcome of a call

package messaging

import (
	"context"
	"log/slog"
)

// Source tells how a response was produced.
type Source int

const (
	// SourceNew means the handler ran for this call.
	SourceNew Source = iota
	// SourceExecuting means the call joined a computation already in flight.
	SourceExecuting
	// SourceCache means the response was found in the completed-response cache.
	SourceCache
)

func (s Source) String() string {
	switch s {
	case SourceNew:
		return "new"
	case SourceExecuting:
		return "executing"
	case SourceCache:
		return "cache"
	default:
		return "unknown"
	}
}

// Observer receives the decrypted request text and the serialized reply of
// each call. Implementations must return quickly; panics are recovered and
// logged by the Center.
type Observer interface {
	OnRequestRead(ctx context.Context, text string)
	OnResponseGenerated(ctx context.Context, text string, source Source)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnRequestRead(context.Context, string) {}

func (NopObserver) OnResponseGenerated(context.Context, string, Source) {}

// MultiObserver fans events out to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) OnRequestRead(ctx context.Context, text string) {
	for _, o := range m {
		o.OnRequestRead(ctx, text)
	}
}

func (m MultiObserver) OnResponseGenerated(ctx context.Context, text string, source Source) {
	for _, o := range m {
		o.OnResponseGenerated(ctx, text, source)
	}
}

// LogObserver writes both events to a slog.Logger at debug level.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) OnRequestRead(ctx context.Context, text string) {
	o.Logger.DebugContext(ctx, "request read",
		"request_id", RequestID(ctx),
		"bytes", len(text),
		"text", text,
	)
}

func (o LogObserver) OnResponseGenerated(ctx context.Context, text string, source Source) {
	o.Logger.DebugContext(ctx, "response generated",
		"request_id", RequestID(ctx),
		"source", source.String(),
		"bytes", len(text),
		"text", text,
	)
}
