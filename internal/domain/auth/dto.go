// internal/domain/auth/dto.go
package auth

import (
	"encoding/json"

	xerrors "recipe-gateway/internal/pkg/errors"
)

// LoginRequest is the credential body the backend login endpoints accept.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// MeDebug lists the upstream attempts made while resolving /api/me.
type MeDebug struct {
	Tried []xerrors.Attempt `json:"tried"`
	Used  string            `json:"used,omitempty"`
}

// MeResponse is the body of GET /api/me. Missing values encode as null.
type MeResponse struct {
	User         json.RawMessage `json:"user"`
	AccessToken  *string         `json:"accessToken"`
	RefreshToken *string         `json:"refreshToken"`
	Debug        *MeDebug        `json:"debug,omitempty"`
}

// RefreshResponse is the subset of the upstream refresh body a client reads.
type RefreshResponse struct {
	User         json.RawMessage `json:"user,omitempty"`
	AccessToken  string          `json:"accessToken,omitempty"`
	RefreshToken string          `json:"refreshToken,omitempty"`
}

// LoginResponse is the upstream login body. Tokens travel as cookies; the
// body only carries a message and, for some backends, the user.
type LoginResponse struct {
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	User    json.RawMessage `json:"user,omitempty"`
}
