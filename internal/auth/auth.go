// Package auth checks admin credentials and issues session tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"letterdesk/internal/config"
)

// AdminSubject is the subject of every admin session token.
const AdminSubject = "admin"

var (
	// ErrInvalidCredentials is returned for a wrong password.
	ErrInvalidCredentials = errors.New("Invalid credentials")
	// ErrUnauthorized is returned for a missing or invalid token.
	ErrUnauthorized = errors.New("Unauthorized")
	// ErrNotConfigured is returned when password login is not set up.
	ErrNotConfigured = errors.New("admin login is not configured: set ADMIN_PASSWORD_HASH and SESSION_SECRET")
)

// Claims are the session token claims.
type Claims struct {
	jwt.RegisteredClaims
}

// Service authenticates admin requests.
type Service struct {
	passwordHash []byte
	secret       []byte
	apiKey       string
	ttl          time.Duration
	now          func() time.Time
}

// NewService creates an auth service from configuration.
func NewService(cfg config.Auth) *Service {
	return &Service{
		passwordHash: []byte(cfg.AdminPasswordHash),
		secret:       []byte(cfg.SessionSecret),
		apiKey:       cfg.AdminAPIKey,
		ttl:          config.Duration(cfg.SessionTTL, 12*time.Hour),
		now:          time.Now,
	}
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("Failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// TTL returns the session lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Login checks password and returns a signed session token.
func (s *Service) Login(password string) (string, time.Time, error) {
	if len(s.passwordHash) == 0 || len(s.secret) == 0 {
		return "", time.Time{}, ErrNotConfigured
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return s.issue()
}

func (s *Service) issue() (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   AdminSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("Failed to sign session: %w", err)
	}
	return token, expires, nil
}

// VerifySession validates a session token.
func (s *Service) VerifySession(token string) (*Claims, error) {
	if token == "" || len(s.secret) == 0 {
		return nil, ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject != AdminSubject {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// VerifyAPIKey compares key with the configured admin API key in
// constant time.
func (s *Service) VerifyAPIKey(key string) bool {
	if s.apiKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.apiKey), []byte(key)) == 1
}

// Authenticate accepts a bearer value that is either the admin API key or
// a session token.
func (s *Service) Authenticate(bearer string) error {
	bearer = strings.TrimSpace(bearer)
	if s.VerifyAPIKey(bearer) {
		return nil
	}
	_, err := s.VerifySession(bearer)
	return err
}
