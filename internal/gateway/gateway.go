// ABOUTME: Gateway orchestrator that hosts one message center per integration over HTTP
// ABOUTME: Builds the cache backend, store, metrics and recorder, and manages the server lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/wxcallback/internal/auth"
	"github.com/2389/wxcallback/internal/config"
	"github.com/2389/wxcallback/internal/crypt"
	"github.com/2389/wxcallback/internal/dedupe"
	"github.com/2389/wxcallback/internal/handlers"
	"github.com/2389/wxcallback/internal/messaging"
	"github.com/2389/wxcallback/internal/metrics"
	"github.com/2389/wxcallback/internal/rediscache"
	"github.com/2389/wxcallback/internal/store"
)

// Gateway serves platform callbacks for every configured integration.
type Gateway struct {
	config      *config.Config
	router      *Router
	store       store.Store
	cache       dedupe.ResponseCache
	executions  *dedupe.ExecutionTable
	metrics     *metrics.Metrics
	recorder    *store.Recorder
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// purger deletes expired rows when the sqlite cache backend is in use
	purger *store.ResponseCache

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the SQLite store when the cache backend or the message log
// needs one. Returns nil when neither does.
func initStore(cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	if cfg.Cache.Backend != config.CacheSQLite && !cfg.MessageLog.Enabled {
		return nil, nil
	}

	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WXCALLBACK_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	logger.Info("store opened", "path", dbPath)
	return s, nil
}

// initCache builds the shared completed-response cache for the configured backend.
func initCache(ctx context.Context, cfg *config.Config, s *store.SQLiteStore, logger *slog.Logger) (dedupe.ResponseCache, *store.ResponseCache, error) {
	switch cfg.Cache.Backend {
	case config.CacheSQLite:
		rc := s.ResponseCache(cfg.Cache.TTL)
		return rc, rc, nil
	case config.CacheRedis:
		rc, err := rediscache.New(ctx, rediscache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("redis response cache enabled", "addr", cfg.Redis.Addr)
		return rc, nil, nil
	case config.CacheNone:
		logger.Warn("response cache disabled, only in-flight duplicates are collapsed")
		return dedupe.NullCache{}, nil, nil
	default:
		return dedupe.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.MaxEntries), nil, nil
	}
}

// observerFor assembles the observer chain for one integration.
func (g *Gateway) observerFor(name string) messaging.Observer {
	chain := messaging.MultiObserver{
		messaging.LogObserver{Logger: g.logger.With("integration", name)},
	}
	if g.metrics != nil {
		chain = append(chain, g.metrics.Observer(name))
	}
	if g.recorder != nil {
		chain = append(chain, g.recorder.Observer(name))
	}
	return chain
}

// buildRoutes creates one message center per configured integration.
func (g *Gateway) buildRoutes() error {
	for _, in := range g.config.Integrations {
		factory, err := handlers.ForName(in.Reply)
		if err != nil {
			return fmt.Errorf("integration %s: %w", in.Name, err)
		}

		var secrets *crypt.Secrets
		if in.Encrypted() {
			secrets = &crypt.Secrets{
				Token:          in.Token,
				EncodingAESKey: in.EncodingAESKey,
				AppID:          in.AppID,
			}
		}

		center, err := messaging.New(messaging.Config{
			Name:       in.Name,
			Secrets:    secrets,
			Handlers:   factory,
			Cache:      g.cache,
			Executions: g.executions,
			Observer:   g.observerFor(in.Name),
			Logger:     g.logger,
		})
		if err != nil {
			return fmt.Errorf("integration %s: %w", in.Name, err)
		}

		g.router.Add(&Route{Integration: in, Center: center})
		g.logger.Info("integration ready",
			"integration", in.Name,
			"encrypted", in.Encrypted(),
			"reply", in.Reply,
		)
	}
	return nil
}

// registerHTTPAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) error {
	list := http.HandlerFunc(g.handleListMessages)

	if g.config.Auth.JWTSecret == "" {
		mux.Handle("GET /api/messages", list)
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
		return nil
	}

	verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating HTTP JWT verifier: %w", err)
	}
	mux.Handle("GET /api/messages", auth.HTTPAuthMiddleware(verifier, g.logger)(list))
	g.logger.Info("HTTP auth middleware enabled")
	return nil
}

// New creates a new Gateway instance with the given configuration.
// Every resource opened before a failure is released again.
func New(cfg *config.Config, logger *slog.Logger) (gw *Gateway, err error) {
	g := &Gateway{
		config:     cfg,
		router:     NewRouter(),
		executions: dedupe.NewExecutionTable(),
		logger:     logger.With("component", "gateway"),
	}
	defer func() {
		if err != nil {
			_ = g.closeComponents()
		}
	}()

	sqlStore, err := initStore(cfg, g.logger)
	if err != nil {
		return nil, err
	}
	if sqlStore != nil {
		g.store = sqlStore
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g.cache, g.purger, err = initCache(ctx, cfg, sqlStore, g.logger)
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		g.metrics = metrics.New()
	}
	if cfg.MessageLog.Enabled {
		g.recorder = store.NewRecorder(sqlStore, cfg.MessageLog.Buffer, logger)
	}

	if err := g.buildRoutes(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	// Callback endpoints - authenticated by the platform signature
	mux.HandleFunc("GET /wx/{name}", g.handleVerify)
	mux.HandleFunc("POST /wx/{name}", g.handleCallback)

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	if g.metrics != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = config.DefaultMetricsPath
		}
		mux.Handle("GET "+path, g.metrics.Handler())
		g.logger.Info("metrics enabled", "path", path)
	}

	if err := g.registerHTTPAPIRoutes(mux); err != nil {
		return nil, err
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	return g, nil
}

// Handler returns the HTTP handler serving all gateway routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates the standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if g.purger != nil {
		grp.Go(func() error {
			g.purger.RunPurger(gctx, g.config.Cache.PurgeInterval)
			return nil
		})
	}

	grp.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return grp.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "wxcallback", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
// Funnel is how the platform reaches a callback URL on the public internet.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases everything New created. The recorder is drained
// before the store it writes to is closed.
func (g *Gateway) closeComponents() error {
	errs := g.router.closeAll()

	if c, ok := g.cache.(io.Closer); ok {
		errs = appendCloseError(errs, "cache close", c.Close())
	}
	if g.recorder != nil {
		errs = appendCloseError(errs, "recorder close", g.recorder.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errors.Join(errs...)
}

// Shutdown gracefully stops the HTTP server and releases resources.
// Calls after the first return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		if g.tsnetServer != nil {
			errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		}
		if err := g.closeComponents(); err != nil {
			errs = append(errs, err)
		}

		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
		}
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// pinger is implemented by backends that can report their reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// handleReady returns 200 OK once the store and the cache backend are reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if g.store != nil {
		if err := g.store.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "check", "store", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unavailable"))
			return
		}
	}
	if p, ok := g.cache.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "check", "cache", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("cache unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d integrations)", len(g.router.Names()))
}
