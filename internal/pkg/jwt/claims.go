// internal/pkg/jwt/claims.go
package jwt

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Claims represents the payload of the access/refresh tokens issued by the
// upstream backend. Only the fields the gateway reads are typed.
type Claims struct {
	PrincipalID interface{}     `json:"id,omitempty"`
	Username    string          `json:"username,omitempty"`
	Email       string          `json:"email,omitempty"`
	Role        interface{}     `json:"role,omitempty"`
	User        json.RawMessage `json:"user,omitempty"`
	TokenUse    string          `json:"token_use,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the payload carries any non-null role claim.
// Upstream only sets it on admin tokens.
func (c *Claims) HasRole() bool {
	return c != nil && c.Role != nil
}

// RoleString returns the role claim when it is a string.
func (c *Claims) RoleString() string {
	if c == nil {
		return ""
	}
	s, _ := c.Role.(string)
	return s
}

// Expiry returns the exp claim.
func (c *Claims) Expiry() (time.Time, bool) {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}

// VerifyAudience checks if the expected audience is listed in the claims.
func (c *Claims) VerifyAudience(audience string, required bool) bool {
	if len(c.Audience) == 0 {
		return !required
	}

	for _, aud := range c.Audience {
		if aud == audience {
			return true
		}
	}

	return false
}
