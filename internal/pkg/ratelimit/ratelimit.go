// Package ratelimit throttles the relay routes that reach the upstream
// backend. Counters are keyed by scope and client; no session data is stored.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, scope, key string) (Decision, error)
}
