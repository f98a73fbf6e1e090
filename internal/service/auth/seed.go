// internal/service/auth/seed.go
package auth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// SeedUser describes an account created at startup.
type SeedUser struct {
	Username string
	Email    string
	Password string
	Role     string // empty for regular users
	FullName string
}

// DefaultSeedUsers are the development accounts.
var DefaultSeedUsers = []SeedUser{
	{Username: "admin", Email: "admin@recipes.local", Password: "admin12345", Role: "admin", FullName: "Site Administrator"},
	{Username: "cook", Email: "cook@recipes.local", Password: "cook12345", FullName: "Home Cook"},
}

// ParseSeedUsers reads "username:password[:role]" entries separated by commas.
func ParseSeedUsers(raw string) ([]SeedUser, error) {
	var users []SeedUser
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid seed user %q", entry)
		}
		u := SeedUser{Username: parts[0], Password: parts[1], Email: parts[0] + "@recipes.local"}
		if len(parts) == 3 {
			u.Role = parts[2]
		}
		users = append(users, u)
	}
	return users, nil
}

// EnsureUser creates the account if the username is free.
func (s *AuthService) EnsureUser(ctx context.Context, u SeedUser) error {
	if len(u.Password) < 8 {
		return fmt.Errorf("password for %s must be at least 8 characters", u.Username)
	}

	s.mu.RLock()
	_, exists := s.byUsername[u.Username]
	s.mu.RUnlock()
	if exists {
		s.logger.Info("seed user already exists", zap.String("username", u.Username))
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(u.Password), s.hashCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[u.Username]; exists {
		return nil
	}
	s.nextID++
	acc := &account{
		id:           s.nextID,
		username:     u.Username,
		email:        u.Email,
		role:         u.Role,
		fullName:     u.FullName,
		passwordHash: hashed,
		createdAt:    s.now(),
	}
	s.byUsername[acc.username] = acc
	s.byID[acc.id] = acc

	s.logger.Info("seed user created", zap.String("username", u.Username), zap.Bool("admin", u.Role != ""))
	return nil
}
