package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned for missing, malformed, expired or unknown credentials
var ErrUnauthorized = errors.New("unauthorized")

// UserChecker reports whether a user id is registered
type UserChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// AuthService validates and issues HS256 bearer tokens whose subject is the user id
type AuthService struct {
	secret   []byte
	users    UserChecker
	tokenTTL time.Duration
	now      func() time.Time
}

// AuthServiceOption is a functional option for AuthService
type AuthServiceOption func(*AuthService)

// WithJWTSecret sets the HMAC signing secret
func WithJWTSecret(secret string) AuthServiceOption {
	return func(s *AuthService) {
		s.secret = []byte(secret)
	}
}

// WithUserChecker requires token subjects to exist
func WithUserChecker(users UserChecker) AuthServiceOption {
	return func(s *AuthService) {
		s.users = users
	}
}

// WithTokenTTL sets the lifetime of issued tokens
func WithTokenTTL(ttl time.Duration) AuthServiceOption {
	return func(s *AuthService) {
		s.tokenTTL = ttl
	}
}

// WithAuthClock overrides the time source, used by tests
func WithAuthClock(now func() time.Time) AuthServiceOption {
	return func(s *AuthService) {
		s.now = now
	}
}

// NewAuthService creates a new auth service
func NewAuthService(opts ...AuthServiceOption) *AuthService {
	s := &AuthService{
		tokenTTL: 24 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueToken signs a token for userID
func (s *AuthService) IssueToken(userID uuid.UUID) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret not set")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken verifies tokenString and returns its user id
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (uuid.UUID, error) {
	if tokenString == "" {
		return uuid.Nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	if len(s.secret) == 0 {
		return uuid.Nil, errors.New("jwt secret not set")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid user id in token", ErrUnauthorized)
	}

	if s.users != nil {
		ok, err := s.users.Exists(ctx, userID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to verify user: %w", err)
		}
		if !ok {
			return uuid.Nil, fmt.Errorf("%w: unknown user", ErrUnauthorized)
		}
	}

	return userID, nil
}
