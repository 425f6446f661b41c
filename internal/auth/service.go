package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mkovalev/duochat/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotParticipant is returned when a valid account is not one of the
	// two permitted chat participants. Callers treat it as a login failure
	// and tear down the session so no authenticated-but-unauthorized
	// session stays live.
	ErrNotParticipant = errors.New("not a permitted participant")
)

// Service provides authentication for the two-person chat.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
	// allowed restricts logins to the configured participant usernames.
	// Empty means no restriction.
	allowed map[string]struct{}
}

// NewService creates an authentication service. allowedUsernames lists the
// permitted participants; pass nil to allow any stored user.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig, allowedUsernames []string) *Service {
	var allowed map[string]struct{}
	if len(allowedUsernames) > 0 {
		allowed = make(map[string]struct{}, len(allowedUsernames))
		for _, u := range allowedUsernames {
			allowed[u] = struct{}{}
		}
	}
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
		allowed:   allowed,
	}
}

// Login validates credentials, checks the participant allow-list, and
// returns a JWT token with the authenticated user.
func (s *Service) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	username = strings.TrimSpace(username)

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if s.allowed != nil {
		if _, ok := s.allowed[user.Username]; !ok {
			return "", nil, ErrNotParticipant
		}
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	return token, user, nil
}

// ValidateToken validates a JWT token and returns its claims.
func (s *Service) ValidateToken(token string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, token)
}
