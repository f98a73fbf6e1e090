// internal/service/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"recipe-gateway/internal/domain/auth"
	"recipe-gateway/internal/pkg/jwt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWrongPortal        = errors.New("account cannot sign in here")
	ErrTokenRevoked       = errors.New("refresh token revoked")
	ErrUnknownPrincipal   = errors.New("unknown principal")
)

// account is a seeded user held in memory.
type account struct {
	id           int64
	username     string
	email        string
	role         string
	fullName     string
	passwordHash []byte
	createdAt    time.Time
}

// Session is a freshly issued token pair.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *auth.Principal
}

// AuthService is the development backend's identity store. It issues RS256
// access/refresh tokens and keeps a revocation set of refresh token ids.
type AuthService struct {
	jwtManager *jwt.Manager
	logger     *zap.Logger
	hashCost   int
	now        func() time.Time

	mu         sync.RWMutex
	byUsername map[string]*account
	byID       map[int64]*account
	nextID     int64
	revoked    map[string]time.Time // refresh jti -> token expiry
}

func NewAuthService(jwtManager *jwt.Manager, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		jwtManager: jwtManager,
		logger:     logger,
		hashCost:   bcrypt.DefaultCost,
		now:        time.Now,
		byUsername: make(map[string]*account),
		byID:       make(map[int64]*account),
		revoked:    make(map[string]time.Time),
	}
}

// WithHashCost sets the bcrypt cost used for seeded passwords.
func (s *AuthService) WithHashCost(cost int) *AuthService {
	s.hashCost = cost
	return s
}

// WithClock replaces the time source for issuing and revocation bookkeeping.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	s.jwtManager.Generator.WithClock(now)
	return s
}

// Login checks credentials and issues a session. Admin logins require a role;
// regular logins reject admin accounts.
func (s *AuthService) Login(ctx context.Context, req *auth.LoginRequest, admin bool) (*Session, error) {
	s.mu.RLock()
	acc, ok := s.byUsername[req.Username]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if admin != (acc.role != "") {
		return nil, ErrWrongPortal
	}

	s.logger.Info("login", zap.Int64("id", acc.id), zap.Bool("admin", admin))
	return s.issue(acc)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	claims, err := s.jwtManager.Verifier.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	s.mu.Lock()
	if _, revoked := s.revoked[claims.ID]; revoked {
		s.mu.Unlock()
		return nil, ErrTokenRevoked
	}
	s.revokeLocked(claims)
	s.mu.Unlock()

	acc, err := s.lookup(claims)
	if err != nil {
		return nil, err
	}
	return s.issue(acc)
}

// Logout revokes the refresh token when it verifies. Logging out without a
// valid token is not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	claims, err := s.jwtManager.Verifier.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.logger.Debug("logout with unusable refresh token", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.revokeLocked(claims)
	s.mu.Unlock()
}

// GetProfile returns the principal a verified access token belongs to.
func (s *AuthService) GetProfile(ctx context.Context, claims *jwt.Claims) (*auth.Principal, error) {
	acc, err := s.lookup(claims)
	if err != nil {
		return nil, err
	}
	return acc.principal(), nil
}

// IsRevoked reports whether a refresh token id has been revoked.
func (s *AuthService) IsRevoked(jti string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[jti]
	return ok
}

func (s *AuthService) issue(acc *account) (*Session, error) {
	id := jwt.Identity{ID: acc.id, Username: acc.username, Email: acc.email, Role: acc.role}

	access, _, accessExp, err := s.jwtManager.Generator.GenerateAccessToken(id)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refresh, _, refreshExp, err := s.jwtManager.Generator.GenerateRefreshToken(id)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		User:             acc.principal(),
	}, nil
}

func (s *AuthService) lookup(claims *jwt.Claims) (*account, error) {
	var id int64
	if _, err := fmt.Sscan(claims.Subject, &id); err != nil {
		return nil, ErrUnknownPrincipal
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.byID[id]
	if !ok {
		return nil, ErrUnknownPrincipal
	}
	return acc, nil
}

// revokeLocked records claims' jti and drops entries whose tokens have expired.
func (s *AuthService) revokeLocked(claims *jwt.Claims) {
	exp, ok := claims.Expiry()
	if !ok {
		exp = s.now().Add(s.jwtManager.Generator.RefreshTTL)
	}
	s.revoked[claims.ID] = exp

	now := s.now()
	for jti, e := range s.revoked {
		if e.Before(now) {
			delete(s.revoked, jti)
		}
	}
}

func (a *account) principal() *auth.Principal {
	p := &auth.Principal{
		ID:        auth.NumericID(a.id),
		Username:  a.username,
		Email:     a.email,
		CreatedAt: a.createdAt.UTC().Format(time.RFC3339),
	}
	if a.role != "" {
		role := a.role
		p.Role = &role
	}
	if a.fullName != "" {
		name := a.fullName
		p.FullName = &name
	}
	return p
}
