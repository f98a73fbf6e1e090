package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware allows credentialed requests from the configured origins.
// Cookies only flow cross-origin when the origin is echoed back explicitly,
// so "*" is honoured by echoing the request origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			allowed[o] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
			h.Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")
			h.Add("Vary", "Origin")
		}

		// Preflight for the gateway's own routes; proxied OPTIONS calls still reach the backend.
		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" &&
			!strings.HasPrefix(c.Request.URL.Path, "/api/proxy/") {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
