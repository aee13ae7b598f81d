// ABOUTME: Prometheus metrics for callback processing, exposed on /metrics
// ABOUTME: Counts replies by response source and failures by error kind per integration

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/wxcallback/internal/messaging"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsRead   *prometheus.CounterVec
	responses      *prometheus.CounterVec
	failures       *prometheus.CounterVec
	callbackTiming *prometheus.HistogramVec
}

// New creates collectors on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wxcallback_requests_read_total",
				Help: "Callbacks whose body was decrypted and read",
			},
			[]string{"integration"},
		),
		responses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wxcallback_responses_total",
				Help: "Replies generated by integration and response source",
			},
			[]string{"integration", "source"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wxcallback_failures_total",
				Help: "Failed callbacks by integration and error kind",
			},
			[]string{"integration", "kind"},
		),
		callbackTiming: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wxcallback_callback_duration_seconds",
				Help:    "Time spent processing a callback POST",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"integration"},
		),
	}
}

// Observer returns a messaging.Observer that counts events for integration.
func (m *Metrics) Observer(integration string) messaging.Observer {
	return observer{m: m, integration: integration}
}

// ObserveFailure counts a failed callback.
func (m *Metrics) ObserveFailure(integration string, kind messaging.Kind) {
	m.failures.WithLabelValues(integration, kind.String()).Inc()
}

// ObserveDuration records how long a callback took.
func (m *Metrics) ObserveDuration(integration string, d time.Duration) {
	m.callbackTiming.WithLabelValues(integration).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type observer struct {
	m           *Metrics
	integration string
}

func (o observer) OnRequestRead(context.Context, string) {
	o.m.requestsRead.WithLabelValues(o.integration).Inc()
}

func (o observer) OnResponseGenerated(_ context.Context, _ string, source messaging.Source) {
	o.m.responses.WithLabelValues(o.integration, source.String()).Inc()
}
