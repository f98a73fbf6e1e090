// internal/middleware/auth_middleware.go
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"recipe-gateway/internal/pkg/cookies"
	"recipe-gateway/internal/pkg/jwt"
	"recipe-gateway/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// TokenVerifier checks an access token's signature and claims.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Auth accepts a Bearer token or, failing that, the access_token cookie.
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return m.authenticate(true)
}

// BearerOnly accepts only the Authorization header.
func (m *AuthMiddleware) BearerOnly() gin.HandlerFunc {
	return m.authenticate(false)
}

func (m *AuthMiddleware) authenticate(allowCookie bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" && allowCookie {
			token = cookies.FromRequest(c.Request).Access
		}
		if token == "" {
			response.Error(c, http.StatusUnauthorized, "missing authorization token", nil)
			return
		}

		claims, err := m.verifier.VerifyAccessToken(token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, "invalid or expired token", err)
			return
		}

		setClaims(c, claims)
		c.Set(ctxVerified, true)
		c.Next()
	}
}

// RequireRole must run after Auth.
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			response.Error(c, http.StatusForbidden, "authentication required", nil)
			return
		}

		role := claims.RoleString()
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}

		response.Error(c, http.StatusForbidden, "insufficient permissions", nil, map[string]interface{}{
			"required_roles": roles,
		})
	}
}

// AdminOnly returns Auth (or BearerOnly) followed by an admin role check.
func (m *AuthMiddleware) AdminOnly(bearerOnly bool) []gin.HandlerFunc {
	first := m.Auth()
	if bearerOnly {
		first = m.BearerOnly()
	}
	return []gin.HandlerFunc{
		first,
		m.RequireRole("admin", "super_admin"),
	}
}

// SessionContext annotates the request with the unverified identity carried
// by its session, for logging only. It never rejects a request.
func SessionContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokens := cookies.FromRequest(c.Request)
		if claims := jwt.DecodeFirst(extractBearer(c), tokens.Access, tokens.Refresh); claims != nil {
			setClaims(c, claims)
		}
		c.Next()
	}
}

func setClaims(c *gin.Context, claims *jwt.Claims) {
	c.Set(ctxClaims, claims)
	c.Set(ctxJTI, claims.ID)
	if id := principalIDString(claims.PrincipalID); id != "" {
		c.Set(ctxPrincipalID, id)
	} else if claims.Subject != "" {
		c.Set(ctxPrincipalID, claims.Subject)
	}
}

func principalIDString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}

// extractBearer extracts a Bearer token from the Authorization header.
func extractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
