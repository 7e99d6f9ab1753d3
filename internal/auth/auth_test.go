package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"letterdesk/internal/config"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewService(config.Auth{
		AdminAPIKey:       "key-123",
		AdminPasswordHash: string(hash),
		SessionSecret:     "session-secret",
		SessionTTL:        "1h",
	})
}

func TestLoginIssuesVerifiableSession(t *testing.T) {
	svc := newTestService(t)

	token, expires, err := svc.Login("hunter2")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := svc.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, AdminSubject, claims.Subject)
	assert.NoError(t, svc.Authenticate(token))
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.Login("wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	unconfigured := NewService(config.Auth{})
	_, _, err = unconfigured.Login("hunter2")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVerifySessionRejectsExpiredAndForeignTokens(t *testing.T) {
	svc := newTestService(t)
	token, _, err := svc.Login("hunter2")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.VerifySession(token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	other := NewService(config.Auth{SessionSecret: "other", AdminPasswordHash: string(svc.passwordHash)})
	foreign, _, err := other.Login("hunter2")
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.VerifySession(foreign)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.VerifySession("")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAPIKey(t *testing.T) {
	svc := newTestService(t)
	assert.True(t, svc.VerifyAPIKey("key-123"))
	assert.False(t, svc.VerifyAPIKey("key-124"))
	assert.False(t, svc.VerifyAPIKey(""))
	assert.NoError(t, svc.Authenticate(" key-123 "))
	assert.Error(t, svc.Authenticate("nope"))

	assert.False(t, NewService(config.Auth{}).VerifyAPIKey(""))
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")))
}
