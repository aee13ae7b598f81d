// ABOUTME: Redis-backed completed-response cache for deployments with several instances
// ABOUTME: Entries are JSON {text, encrypt} written with SET PX so Redis handles expiry

package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/wxcallback/internal/dedupe"
	"github.com/2389/wxcallback/internal/message"
)

// DefaultPrefix namespaces keys when none is configured.
const DefaultPrefix = "wxcallback:response:"

// Options configures a Cache.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type entry struct {
	Text    string `json:"text"`
	Encrypt bool   `json:"encrypt"`
}

// Cache implements dedupe.ResponseCache on Redis.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
}

var _ dedupe.ResponseCache = (*Cache)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	c := NewWithClient(client, opts.Prefix, opts.TTL)
	c.owned = true
	return c, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = dedupe.DefaultTTL
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

// Add stores the serialized response under key for the configured TTL.
func (c *Cache) Add(ctx context.Context, key string, resp message.Response) error {
	text, err := resp.Serialize()
	if err != nil {
		return fmt.Errorf("serializing response: %w", err)
	}
	data, err := json.Marshal(entry{Text: text, Encrypt: resp.EncryptionRequired()})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Get returns the response stored under key, if it has not expired.
func (c *Cache) Get(ctx context.Context, key string) (message.Response, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	return &message.Raw{Text: e.Text, Encrypt: e.Encrypt}, true, nil
}

// Ping checks that Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client if New created it.
func (c *Cache) Close() error {
	if c.owned {
		return c.client.Close()
	}
	return nil
}
