package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter is a per-process token bucket per scope and key, used when no
// redis is configured.
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewMemoryLimiter allows limit requests per window with bursts up to limit.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit < 1 {
		limit = 1
	}
	ml := &MemoryLimiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(float64(limit) / window.Seconds()),
		burst:    limit,
		idle:     5 * time.Minute,
		stop:     make(chan struct{}),
	}
	go ml.cleanupLoop(3 * time.Minute)
	return ml
}

func (ml *MemoryLimiter) Allow(_ context.Context, scope, key string) (Decision, error) {
	l := ml.get(scope + ":" + key)

	now := time.Now()
	res := l.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int64(l.TokensAt(now))}, nil
}

// Close stops the cleanup goroutine.
func (ml *MemoryLimiter) Close() {
	ml.once.Do(func() { close(ml.stop) })
}

func (ml *MemoryLimiter) get(k string) *rate.Limiter {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if e, ok := ml.limiters[k]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	l := rate.NewLimiter(ml.rate, ml.burst)
	ml.limiters[k] = &entry{limiter: l, lastSeen: time.Now()}
	return l
}

func (ml *MemoryLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ml.stop:
			return
		case <-ticker.C:
			ml.mu.Lock()
			for k, e := range ml.limiters {
				if time.Since(e.lastSeen) > ml.idle {
					delete(ml.limiters, k)
				}
			}
			ml.mu.Unlock()
		}
	}
}
