// ABOUTME: HTTP handlers for the platform callback URL /wx/{name}
// ABOUTME: GET answers the endpoint-verification handshake, POST feeds the message center

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/2389/wxcallback/internal/crypt"
	"github.com/2389/wxcallback/internal/messaging"
)

// maxCallbackBody caps the size of a callback POST body.
const maxCallbackBody = 1 << 20

// route resolves the {name} path segment, writing a 404 when it is unknown.
func (g *Gateway) route(w http.ResponseWriter, r *http.Request) (*Route, bool) {
	route, err := g.router.Route(r.PathValue("name"))
	if err != nil {
		http.NotFound(w, r)
		return nil, false
	}
	return route, true
}

// handleVerify answers GET /wx/{name}. The platform sends it once when the
// callback URL is configured and expects echostr back on a valid signature.
func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	route, ok := g.route(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if !crypt.CheckSignature(route.Integration.Token, q.Get("timestamp"), q.Get("nonce"), q.Get("signature")) {
		g.logger.Warn("endpoint verification failed",
			"integration", route.Integration.Name,
			"remote_addr", r.RemoteAddr,
		)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	g.logger.Info("endpoint verified", "integration", route.Integration.Name)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(q.Get("echostr")))
}

// handleCallback answers POST /wx/{name}. Failures are logged and answered
// with an empty 200 so the platform neither retries nor shows an error to
// the user.
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	route, ok := g.route(w, r)
	if !ok {
		return
	}

	start := time.Now()
	name := route.Integration.Name
	q := r.URL.Query()

	params := messaging.Params{
		Signature: q.Get("msg_signature"),
		Timestamp: q.Get("timestamp"),
		Nonce:     q.Get("nonce"),
	}

	// Plaintext mode has no envelope to authenticate, so the plain signature
	// over token, timestamp and nonce is checked here instead.
	if !route.Center.Encrypted() &&
		!crypt.CheckSignature(route.Integration.Token, params.Timestamp, params.Nonce, q.Get("signature")) {
		g.fail(w, name, messaging.KindSignatureInvalid, errors.New("plain signature mismatch"))
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxCallbackBody)
	reply, err := route.Center.ProcessMessage(r.Context(), params, body)
	if g.metrics != nil {
		g.metrics.ObserveDuration(name, time.Since(start))
	}
	if err != nil {
		g.fail(w, name, messaging.KindOf(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write([]byte(reply))
}

// fail records a failed callback and writes the empty acknowledgement.
func (g *Gateway) fail(w http.ResponseWriter, integration string, kind messaging.Kind, err error) {
	g.logger.Warn("callback failed",
		"integration", integration,
		"kind", kind.String(),
		"error", err,
	)
	if g.metrics != nil {
		g.metrics.ObserveFailure(integration, kind)
	}
	w.WriteHeader(http.StatusOK)
}
