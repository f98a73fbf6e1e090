package jwt

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Decode reads the token payload without checking the signature.
// Signature verification belongs to the upstream backend; callers only use the
// result for routing decisions and refresh scheduling.
func Decode(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return claims, nil
}

// DecodeFirst returns the claims of the first token that decodes.
func DecodeFirst(tokens ...string) *Claims {
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if claims, err := Decode(t); err == nil {
			return claims
		}
	}
	return nil
}
