// internal/middleware/helpers.go
package middleware

import (
	"recipe-gateway/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
)

const (
	ctxRequestID   = "request_id"
	ctxClaims      = "claims"
	ctxPrincipalID = "principal_id"
	ctxJTI         = "jti"
	ctxVerified    = "verified"
)

// GetRequestID returns the id assigned by LoggingMiddleware.
func GetRequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

func GetClaims(c *gin.Context) (*jwt.Claims, bool) {
	v, exists := c.Get(ctxClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok && claims != nil
}

// MustGetClaims gets claims from context or panics
func MustGetClaims(c *gin.Context) *jwt.Claims {
	claims, ok := GetClaims(c)
	if !ok {
		panic("claims not found in context")
	}
	return claims
}

func GetPrincipalID(c *gin.Context) (string, bool) {
	id := c.GetString(ctxPrincipalID)
	return id, id != ""
}

func GetJTI(c *gin.Context) (string, bool) {
	jti := c.GetString(ctxJTI)
	return jti, jti != ""
}

// IsAuthenticated reports whether Auth verified the request's token.
func IsAuthenticated(c *gin.Context) bool {
	return c.GetBool(ctxVerified)
}

// IsAdmin reports whether the request's claims carry a role.
func IsAdmin(c *gin.Context) bool {
	claims, ok := GetClaims(c)
	return ok && claims.HasRole()
}
