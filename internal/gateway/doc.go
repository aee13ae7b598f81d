// Package gateway hosts the callback pipeline for every configured integration.
//
// # Overview
//
// The gateway owns the HTTP server and everything the message centers share:
// the completed-response cache, the in-flight execution table, the optional
// SQLite store, Prometheus metrics and the message log recorder. Each entry
// in integrations[] becomes one messaging.Center reachable under /wx/{name}.
//
// # HTTP Endpoints
//
//   - GET /wx/{name} - Endpoint-verification handshake (echoes echostr)
//   - POST /wx/{name} - Callback delivery; errors are answered with an empty 200
//   - GET /health - Liveness check
//   - GET /health/ready - Store and cache reachability
//   - GET /metrics - Prometheus exposition (when metrics.enabled)
//   - GET /api/messages - Recorded callback bodies (JWT when auth.jwt_secret is set)
//
// # Cache Backends
//
// cache.backend selects the ResponseCache shared by all centers:
//
//   - memory - dedupe.MemoryCache, bounded by ttl and max_entries
//   - sqlite - store.ResponseCache with a periodic purge of expired rows
//   - redis - rediscache.Cache, shared between gateway instances
//   - none - dedupe.NullCache; only in-flight duplicates are collapsed
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
//
// With tailscale.enabled the listener comes from a tsnet node instead of
// server.http_addr; tailscale.funnel publishes it on the internet so the
// platform can reach the callback URL.
package gateway
