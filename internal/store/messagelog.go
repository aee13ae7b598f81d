// ABOUTME: Message log store methods: decrypted requests and generated replies per call
// ABOUTME: Entries are appended by the recorder and listed by the HTTP API

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// AppendMessageLog appends a new entry to the message log.
// Generates ID and CreatedAt if not set.
func (s *SQLiteStore) AppendMessageLog(ctx context.Context, e *MessageLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Direction != DirectionRequest && e.Direction != DirectionResponse {
		return fmt.Errorf("invalid direction %q", e.Direction)
	}

	query := `
		INSERT INTO message_log (id, request_id, integration, direction, source, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.RequestID,
		e.Integration,
		e.Direction,
		e.Source,
		e.Body,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting message log entry: %w", err)
	}

	s.logger.Debug("appended message log",
		"id", e.ID,
		"request_id", e.RequestID,
		"integration", e.Integration,
		"direction", e.Direction,
	)
	return nil
}

// normalizeLogLimit applies default (100) and cap (1000) to a list limit.
func normalizeLogLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanMessageLogEntry scans a row into a MessageLogEntry.
func scanMessageLogEntry(scanner interface{ Scan(dest ...any) error }) (MessageLogEntry, error) {
	var e MessageLogEntry
	var tsStr string

	if err := scanner.Scan(
		&e.ID,
		&e.RequestID,
		&e.Integration,
		&e.Direction,
		&e.Source,
		&e.Body,
		&tsStr,
	); err != nil {
		return e, fmt.Errorf("scanning message log entry: %w", err)
	}

	var err error
	e.CreatedAt, err = time.Parse(timeLayout, tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}
	return e, nil
}

const messageLogQuery = `
	SELECT id, request_id, integration, direction, source, body, created_at
	FROM message_log
	WHERE (? IS NULL OR integration = ?)
	  AND (? IS NULL OR request_id = ?)
	  AND (? IS NULL OR created_at >= ?)
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?
`

// ListMessageLog returns entries matching the filter, newest first.
func (s *SQLiteStore) ListMessageLog(ctx context.Context, f MessageLogFilter) ([]MessageLogEntry, error) {
	limit := normalizeLogLimit(f.Limit)

	var sinceStr *string
	if f.Since != nil {
		str := f.Since.UTC().Format(timeLayout)
		sinceStr = &str
	}

	rows, err := s.db.QueryContext(ctx, messageLogQuery,
		f.Integration, f.Integration,
		f.RequestID, f.RequestID,
		sinceStr, sinceStr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying message log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []MessageLogEntry
	for rows.Next() {
		e, err := scanMessageLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message log entries: %w", err)
	}

	if entries == nil {
		entries = []MessageLogEntry{}
	}
	return entries, nil
}
