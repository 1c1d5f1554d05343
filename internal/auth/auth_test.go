// internal/auth/auth_test.go
package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService([]byte("test-secret"), time.Hour)
}

func TestService_RegisterAndVerifyPassword(t *testing.T) {
	s := newTestService()
	require.NoError(t, s.RegisterCredential(1, "alice", "hunter2"))

	userID, err := s.VerifyPassword("alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), userID)

	_, err = s.VerifyPassword("alice", "wrong-password")
	assert.Error(t, err)

	_, err = s.VerifyPassword("bob", "hunter2")
	assert.Error(t, err)
}

func TestService_RegisterCredential_RejectsEmptyUsername(t *testing.T) {
	s := newTestService()
	err := s.RegisterCredential(1, "  ", "hunter2")
	assert.Error(t, err)
}

func TestService_AccessToken_RoundTrip(t *testing.T) {
	s := newTestService()
	token, err := s.IssueAccessToken(7, 99)
	require.NoError(t, err)

	claims, err := s.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), claims.UserID)
	assert.Equal(t, uint32(99), claims.ClientID)
}

func TestService_VerifyAccessToken_RejectsForeignSecret(t *testing.T) {
	s := newTestService()
	token, err := s.IssueAccessToken(1, 1)
	require.NoError(t, err)

	other := NewService([]byte("different-secret"), time.Hour)
	_, err = other.VerifyAccessToken(token)
	assert.Error(t, err)
}

func TestService_VerifyAccessToken_RejectsExpired(t *testing.T) {
	s := NewService([]byte("test-secret"), -time.Hour)
	token, err := s.IssueAccessToken(1, 1)
	require.NoError(t, err)

	_, err = s.VerifyAccessToken(token)
	assert.Error(t, err)
}

func TestService_PersonalAccessToken_RoundTrip(t *testing.T) {
	s := newTestService()
	plaintext, pat, err := s.IssuePersonalAccessToken(42, "ci-bot", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)
	assert.NotEqual(t, plaintext, pat.TokenHash)

	userID, err := s.VerifyPersonalAccessToken(plaintext)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), userID)
}

func TestService_PersonalAccessToken_ExpiresWhenTTLElapsed(t *testing.T) {
	s := newTestService()
	ttl := -time.Minute
	plaintext, _, err := s.IssuePersonalAccessToken(1, "expired", &ttl)
	require.NoError(t, err)

	_, err = s.VerifyPersonalAccessToken(plaintext)
	assert.Error(t, err)
}

func TestService_RevokePersonalAccessToken(t *testing.T) {
	s := newTestService()
	plaintext, pat, err := s.IssuePersonalAccessToken(1, "to-revoke", nil)
	require.NoError(t, err)

	require.NoError(t, s.RevokePersonalAccessToken(pat.TokenID))

	_, err = s.VerifyPersonalAccessToken(plaintext)
	assert.Error(t, err)

	err = s.RevokePersonalAccessToken(pat.TokenID)
	assert.Error(t, err)
}
