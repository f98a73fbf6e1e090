// internal/pkg/jwt/generator.go
package jwt

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Identity is the subject a token is issued for.
type Identity struct {
	ID       int64
	Username string
	Email    string
	Role     string // empty for regular users
}

type Generator struct {
	priv       *rsa.PrivateKey
	issuer     string
	audience   string
	kid        string // key id for rotation
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	now        func() time.Time
}

func NewGenerator(priv *rsa.PrivateKey, issuer, audience, kid string, accessTTL, refreshTTL time.Duration) *Generator {
	return &Generator{
		priv:       priv,
		issuer:     issuer,
		audience:   audience,
		kid:        kid,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock replaces the time source used for iat/nbf/exp.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate signs a token of the given use and returns it with its jti and expiry.
func (g *Generator) Generate(id Identity, use string, ttl time.Duration) (string, string, time.Time, error) {
	if g.priv == nil {
		return "", "", time.Time{}, fmt.Errorf("jwt generator has nil private key")
	}

	now := g.now()
	jti := ulid.Make().String()
	exp := now.Add(ttl)

	claims := &Claims{
		PrincipalID: id.ID,
		Username:    id.Username,
		Email:       id.Email,
		TokenUse:    use,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   fmt.Sprintf("%d", id.ID),
			Audience:  []string{g.audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	// role stays absent for users; the gateway keys admin routing off its presence
	if id.Role != "" {
		claims.Role = id.Role
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if g.kid != "" {
		tok.Header["kid"] = g.kid
	}

	signed, err := tok.SignedString(g.priv)
	return signed, jti, exp, err
}

// GenerateAccessToken generates a short-lived access token
func (g *Generator) GenerateAccessToken(id Identity) (string, string, time.Time, error) {
	return g.Generate(id, UseAccess, g.AccessTTL)
}

// GenerateRefreshToken generates a refresh token (longer TTL)
func (g *Generator) GenerateRefreshToken(id Identity) (string, string, time.Time, error) {
	return g.Generate(id, UseRefresh, g.RefreshTTL)
}
