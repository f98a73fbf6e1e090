// Package metrics provides Prometheus metrics for the session relay.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's collectors. A nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled bool

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	cookiesRelayed   *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool, reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: enabled}
	if !enabled {
		return m
	}

	factory := promauto.With(reg)

	m.upstreamRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_requests_total",
		Help: "Upstream calls made by relay routes",
	}, []string{"route", "outcome"})

	m.upstreamDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_upstream_duration_seconds",
		Help:    "Upstream call latency per relay route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	m.cookiesRelayed = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_cookies_total",
		Help: "Upstream Set-Cookie headers processed by the translator",
	}, []string{"result"})

	m.rateLimited = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"scope"})

	return m
}

// ObserveUpstream records one upstream call. outcome is a short label such as
// "ok", "rejected" or "unreachable".
func (m *Metrics) ObserveUpstream(route, outcome string, d time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.upstreamRequests.WithLabelValues(route, outcome).Inc()
	m.upstreamDuration.WithLabelValues(route).Observe(d.Seconds())
}

// CookieRelayed records a translator outcome: relayed, downgraded or malformed.
func (m *Metrics) CookieRelayed(result string) {
	if m == nil || !m.enabled {
		return
	}
	m.cookiesRelayed.WithLabelValues(result).Inc()
}

// RateLimited records a rejected request.
func (m *Metrics) RateLimited(scope string) {
	if m == nil || !m.enabled {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}
