package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsDisabled(t *testing.T) {
	m := New(false, nil)
	require.NotNil(t, m)

	// no-op, must not panic
	m.ObserveUpstream("me", "ok", time.Millisecond)
	m.CookieRelayed("relayed")
	m.RateLimited("refresh")

	var nilMetrics *Metrics
	nilMetrics.ObserveUpstream("me", "ok", time.Millisecond)
}

func TestObserveUpstream(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(true, reg)

	m.ObserveUpstream("me", "ok", 20*time.Millisecond)
	m.ObserveUpstream("me", "ok", 30*time.Millisecond)
	m.ObserveUpstream("refresh", "unreachable", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("me", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("refresh", "unreachable")))
}

func TestCookieRelayedAndRateLimited(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(true, reg)

	m.CookieRelayed("downgraded")
	m.CookieRelayed("malformed")
	m.CookieRelayed("malformed")
	m.RateLimited("chat")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cookiesRelayed.WithLabelValues("downgraded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cookiesRelayed.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("chat")))
}
