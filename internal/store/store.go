// ABOUTME: Store interfaces and data types for wxcallback persistence
// ABOUTME: Defines the message log entry types shared by the SQLite and mock stores

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Direction values for MessageLogEntry
const (
	DirectionRequest  = "request"  // decrypted inbound body
	DirectionResponse = "response" // serialized reply before encryption
)

// MessageLogEntry is one observed callback body.
type MessageLogEntry struct {
	ID          string    // UUID v4
	RequestID   string    // correlates the request and response of one call
	Integration string    // configured integration name
	Direction   string    // DirectionRequest or DirectionResponse
	Source      string    // response source ("new", "executing", "cache"); empty for requests
	Body        string    // plaintext body
	CreatedAt   time.Time // when it was observed
}

// MessageLogFilter specifies filtering options for listing log entries.
type MessageLogFilter struct {
	Integration *string    // filter by integration
	RequestID   *string    // filter by request
	Since       *time.Time // entries at or after this time
	Limit       int        // max results (default 100, max 1000)
}

// MessageLog records and lists observed callback bodies.
type MessageLog interface {
	AppendMessageLog(ctx context.Context, e *MessageLogEntry) error
	ListMessageLog(ctx context.Context, f MessageLogFilter) ([]MessageLogEntry, error)
}

// Store is the persistence surface the gateway depends on.
type Store interface {
	MessageLog
	Ping(ctx context.Context) error
	Close() error
}
