// Package metrics exposes the platform's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the platform collectors on a private registry so
// tests can construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	SandboxRuns     *prometheus.CounterVec
	SandboxDuration prometheus.Histogram
	BridgeCalls     *prometheus.CounterVec
	RouterBuilds    *prometheus.CounterVec
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "app_platform_http_requests_total",
			Help: "HTTP requests by method, route class and status.",
		}, []string{"method", "class", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "app_platform_http_request_duration_seconds",
			Help:    "HTTP request latency by route class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"class"}),
		SandboxRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "app_platform_sandbox_executions_total",
			Help: "Sandbox handler executions by outcome.",
		}, []string{"outcome"}),
		SandboxDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "app_platform_sandbox_duration_seconds",
			Help:    "Sandbox execution latency.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
		BridgeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "app_platform_bridge_calls_total",
			Help: "Bridge RPC calls by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RouterBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "app_platform_router_builds_total",
			Help: "App router builds by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests,
		m.HTTPDuration,
		m.SandboxRuns,
		m.SandboxDuration,
		m.BridgeCalls,
		m.RouterBuilds,
	)
	return m
}

// Handler serves the scrape endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
