// internal/pkg/session/types.go
package session

import (
	"encoding/json"

	"recipe-gateway/internal/domain/auth"
)

// State is the lifecycle position of a Manager.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateAnonymous
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the client's in-memory view of the current login.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *auth.Principal
	Loading      bool
	State        State
}

// Authenticated reports whether a principal is attached.
func (s Session) Authenticated() bool {
	return s.User != nil
}

// Credentials are submitted by Login.
type Credentials struct {
	Username string
	Password string
	Admin    bool // sign in through the admin login endpoint
}

// LoginResult describes a completed sign-in.
type LoginResult struct {
	Status  int
	Message string
	// SessionReady is false when polling gave up before /api/me returned a user.
	SessionReady bool
	User         *auth.Principal
}

// meBody is the part of the /api/me and /api/refresh bodies the manager reads.
type meBody struct {
	User         json.RawMessage `json:"user"`
	AccessToken  *string         `json:"accessToken"`
	RefreshToken *string         `json:"refreshToken"`
}
