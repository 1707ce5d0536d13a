// Package metrics exposes the service's Prometheus instrumentation: request
// and retry counters per marketplace, and refresh outcome counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the service registers. One instance is
// wired through the app; a fresh registry per instance keeps tests isolated.
type Metrics struct {
	registry *prometheus.Registry

	Requests     *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	RateLimited  *prometheus.CounterVec
	AuthFailures *prometheus.CounterVec
	PagesFailed  *prometheus.CounterVec
	Refreshes    *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skindiff_upstream_requests_total",
			Help: "Catalogue page requests issued, by marketplace.",
		}, []string{"marketplace"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skindiff_upstream_retries_total",
			Help: "Request attempts beyond the first, by marketplace.",
		}, []string{"marketplace"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skindiff_upstream_rate_limited_total",
			Help: "HTTP 429 responses absorbed by the retry policy, by marketplace.",
		}, []string{"marketplace"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skindiff_upstream_auth_failures_total",
			Help: "401/403 responses that survived the credential retry, by marketplace.",
		}, []string{"marketplace"}),
		PagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skindiff_pages_failed_total",
			Help: "Catalogue pages that failed after all retries, by marketplace.",
		}, []string{"marketplace"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skindiff_refreshes_total",
			Help: "Refresh cycles by mode and outcome.",
		}, []string{"mode", "outcome"}),
	}

	reg.MustRegister(m.Requests, m.Retries, m.RateLimited, m.AuthFailures, m.PagesFailed, m.Refreshes)
	return m
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
