package middleware

import (
	"math"
	"strconv"

	"recipe-gateway/internal/pkg/metrics"
	"recipe-gateway/internal/pkg/ratelimit"
	"recipe-gateway/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimit throttles requests per client IP within scope. Limiter failures
// let the request through.
func RateLimit(l ratelimit.Limiter, scope string, m *metrics.Metrics, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), scope, c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			m.RateLimited(scope)
			response.TooManyRequests(c, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
