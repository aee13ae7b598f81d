// ABOUTME: Center is the per-integration callback pipeline
// ABOUTME: Decrypt, parse, deduplicate against in-flight and completed work, dispatch, encrypt

package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/2389/wxcallback/internal/crypt"
	"github.com/2389/wxcallback/internal/dedupe"
	"github.com/2389/wxcallback/internal/message"
)

// Params are the query parameters the platform sends with each callback.
type Params struct {
	Signature string
	Timestamp string
	Nonce     string
}

// Config configures a Center.
type Config struct {
	// Name identifies the integration in logs.
	Name string

	// Secrets enables the encryption envelope. Nil means the platform is in
	// plaintext mode and bodies pass through unchanged.
	Secrets *crypt.Secrets

	Handlers HandlerFactory

	// Cache holds completed responses. When nil the Center creates and owns
	// a MemoryCache sized by CacheTTL and CacheMaxEntries.
	Cache           dedupe.ResponseCache
	CacheTTL        time.Duration
	CacheMaxEntries int

	// Executions may be shared between Centers that share a Cache.
	Executions *dedupe.ExecutionTable

	Observer Observer
	Logger   *slog.Logger
}

// Center processes callbacks for a single integration.
// It is safe for concurrent use.
type Center struct {
	name       string
	envelope   *crypt.Envelope
	handlers   HandlerFactory
	cache      dedupe.ResponseCache
	ownedCache io.Closer
	executions *dedupe.ExecutionTable
	observer   Observer
	logger     *slog.Logger
}

// New creates a Center from cfg.
func New(cfg Config) (*Center, error) {
	if cfg.Handlers == nil {
		return nil, errors.New("messaging: handler factory is required")
	}

	var envelope *crypt.Envelope
	if cfg.Secrets != nil {
		var err error
		envelope, err = crypt.New(*cfg.Secrets)
		if err != nil {
			return nil, fmt.Errorf("creating envelope: %w", err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Center{
		name:       cfg.Name,
		envelope:   envelope,
		handlers:   cfg.Handlers,
		cache:      cfg.Cache,
		executions: cfg.Executions,
		observer:   cfg.Observer,
		logger:     logger.With("component", "messaging", "integration", cfg.Name),
	}

	if c.cache == nil {
		mem := dedupe.NewMemoryCache(cfg.CacheTTL, cfg.CacheMaxEntries)
		c.cache = mem
		c.ownedCache = mem
	}
	if c.executions == nil {
		c.executions = dedupe.NewExecutionTable()
	}
	if c.observer == nil {
		c.observer = NopObserver{}
	}

	return c, nil
}

// Name returns the integration name.
func (c *Center) Name() string {
	return c.name
}

// Encrypted reports whether the envelope is enabled.
func (c *Center) Encrypted() bool {
	return c.envelope != nil
}

// Close releases the cache the Center created for itself. Caches passed in
// through Config are left to their owner.
func (c *Center) Close() error {
	if c.ownedCache != nil {
		return c.ownedCache.Close()
	}
	return nil
}

// ProcessMessage handles one callback body and returns the reply text.
// Every error is an *Error. Redeliveries of a message that is still being
// processed wait for the original; redeliveries of a finished message get
// the cached reply. The handler is never cancelled by ctx.
func (c *Center) ProcessMessage(ctx context.Context, p Params, body io.Reader) (string, error) {
	ctx = ensureRequestID(ctx)

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", newError(KindMalformedMessage, fmt.Errorf("reading body: %w", err))
	}

	text, err := c.open(p, raw)
	if err != nil {
		return "", err
	}
	c.notifyRequestRead(ctx, text)

	req, err := message.Parse(text)
	if err != nil {
		return "", newError(KindMalformedMessage, err)
	}

	resp, source, err := c.dispatch(ctx, req.GetDuplicationKey(), req)
	if err != nil {
		return "", err
	}

	out, err := resp.Serialize()
	if err != nil {
		return "", newError(KindHandlerFailed, fmt.Errorf("serializing response: %w", err))
	}
	c.notifyResponseGenerated(ctx, out, source)

	if c.envelope == nil || !resp.EncryptionRequired() {
		return out, nil
	}

	sealed, err := c.envelope.EncryptReply(out, p.Timestamp, p.Nonce)
	if err != nil {
		return "", newError(KindEncryptionFailed, err)
	}
	return sealed, nil
}

func (c *Center) open(p Params, raw []byte) (string, error) {
	if c.envelope == nil {
		return string(raw), nil
	}
	text, err := c.envelope.VerifyAndDecrypt(p.Signature, p.Timestamp, p.Nonce, raw)
	if err != nil {
		return "", envelopeError(err)
	}
	return text, nil
}

// dispatch resolves key against the execution table, then the cache, and
// otherwise starts a new execution. The decision is made under the key lock
// so two deliveries can never both start one.
func (c *Center) dispatch(ctx context.Context, key string, req *message.Request) (message.Response, Source, error) {
	unlock := c.executions.Lock(key)

	if exec, ok := c.executions.Get(key); ok {
		unlock()
		resp, err := exec.Wait(ctx)
		return resp, SourceExecuting, waitError(err)
	}

	// The lookup outlives the caller: a dropped connection must not turn a
	// cached key into a miss.
	cached, ok, err := c.cache.Get(context.WithoutCancel(ctx), key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			unlock()
			return nil, SourceNew, newError(KindUnknown, ctxErr)
		}
		c.logger.Warn("response cache lookup failed", "key", key, "error", err)
	}
	if ok {
		unlock()
		return cached, SourceCache, nil
	}

	exec := dedupe.NewExecution()
	c.executions.Add(key, exec)
	unlock()

	go c.execute(context.WithoutCancel(ctx), key, req, exec)

	resp, err := exec.Wait(ctx)
	return resp, SourceNew, waitError(err)
}

// execute runs the handler and hands the result from the execution table
// to the cache. On failure nothing is cached and the key is released before
// waiters are woken.
func (c *Center) execute(ctx context.Context, key string, req *message.Request, exec *dedupe.Execution) {
	start := time.Now()
	resp, err := c.invoke(ctx, req)
	if err != nil {
		c.executions.Remove(key)
		c.logger.Error("handler failed", "key", key, "error", err)
		exec.Resolve(nil, newError(KindHandlerFailed, err))
		return
	}

	unlock := c.executions.Lock(key)
	if err := c.cache.Add(ctx, key, resp); err != nil {
		c.logger.Warn("caching response failed", "key", key, "error", err)
	}
	c.executions.Remove(key)
	unlock()

	c.logger.Debug("message handled", "key", key, "duration", time.Since(start))
	exec.Resolve(resp, nil)
}

func (c *Center) invoke(ctx context.Context, req *message.Request) (resp message.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()

	h := c.handlers.NewHandler()
	if closer, ok := h.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				c.logger.Warn("closing handler", "error", cerr)
			}
		}()
	}

	resp, err = h.Handle(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("handler returned no response")
	}
	return resp, nil
}

// waitError gives a caller that stopped waiting a typed error. Handler
// failures are already typed.
func waitError(err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	return newError(KindUnknown, err)
}

func (c *Center) notifyRequestRead(ctx context.Context, text string) {
	defer c.recoverObserver("OnRequestRead")
	c.observer.OnRequestRead(ctx, text)
}

func (c *Center) notifyResponseGenerated(ctx context.Context, text string, source Source) {
	defer c.recoverObserver("OnResponseGenerated")
	c.observer.OnResponseGenerated(ctx, text, source)
}

func (c *Center) recoverObserver(hook string) {
	if r := recover(); r != nil {
		c.logger.Error("observer panicked", "hook", hook, "panic", r)
	}
}
