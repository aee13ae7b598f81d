// ABOUTME: SQLite-backed completed-response cache shared by every process on one host
// ABOUTME: Rows expire after the configured TTL and are purged on a ticker

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/wxcallback/internal/dedupe"
	"github.com/2389/wxcallback/internal/message"
)

// ResponseCache implements dedupe.ResponseCache on the response_cache table.
// Responses are stored serialized and come back as *message.Raw.
type ResponseCache struct {
	store *SQLiteStore
	ttl   time.Duration
	now   func() time.Time
}

var _ dedupe.ResponseCache = (*ResponseCache)(nil)

// ResponseCache returns a cache over this store. A non-positive ttl falls
// back to dedupe.DefaultTTL.
func (s *SQLiteStore) ResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = dedupe.DefaultTTL
	}
	return &ResponseCache{store: s, ttl: ttl, now: time.Now}
}

// Add stores resp under key, replacing any previous row.
func (c *ResponseCache) Add(ctx context.Context, key string, resp message.Response) error {
	body, err := resp.Serialize()
	if err != nil {
		return fmt.Errorf("serializing response: %w", err)
	}

	now := c.now().UTC()
	query := `
		INSERT INTO response_cache (cache_key, body, encrypt, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			body = excluded.body,
			encrypt = excluded.encrypt,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`
	_, err = c.store.db.ExecContext(ctx, query,
		key,
		body,
		resp.EncryptionRequired(),
		now.Format(timeLayout),
		now.Add(c.ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("caching response: %w", err)
	}
	return nil
}

// Get returns the unexpired response stored under key.
func (c *ResponseCache) Get(ctx context.Context, key string) (message.Response, bool, error) {
	var body string
	var encrypt bool
	err := c.store.db.QueryRowContext(ctx,
		`SELECT body, encrypt FROM response_cache WHERE cache_key = ? AND expires_at > ?`,
		key, c.now().UnixMilli(),
	).Scan(&body, &encrypt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached response: %w", err)
	}
	return &message.Raw{Text: body, Encrypt: encrypt}, true, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (c *ResponseCache) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.store.db.ExecContext(ctx,
		`DELETE FROM response_cache WHERE expires_at <= ?`, c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purging expired responses: %w", err)
	}
	return res.RowsAffected()
}

// RunPurger calls PurgeExpired every interval until ctx is done.
func (c *ResponseCache) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.PurgeExpired(ctx)
			if err != nil {
				c.store.logger.Warn("purging response cache", "error", err)
				continue
			}
			if n > 0 {
				c.store.logger.Debug("purged expired responses", "count", n)
			}
		}
	}
}
