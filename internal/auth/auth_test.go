package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials("key-1", "secret-1")
	return svc
}

func TestGenerateTokenValidCredentials(t *testing.T) {
	svc := newTestService()

	token, err := svc.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.WithinDuration(t, time.Now().Add(TokenTTL), token.Expiration, 5*time.Second)
}

func TestGenerateTokenInvalidCredentials(t *testing.T) {
	svc := newTestService()

	cases := []Credentials{
		{APIKey: "key-1", APISecret: "wrong"},
		{APIKey: "unknown", APISecret: "secret-1"},
		{},
	}
	for _, creds := range cases {
		_, err := svc.GenerateToken(creds)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
}

func TestValidateTokenRoundTrip(t *testing.T) {
	svc := newTestService()

	token, err := svc.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "key-1", claims.ClientID)
	assert.Contains(t, claims.Permissions, "reconcile")
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := newTestService()

	token, err := svc.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)

	other := NewService("different-secret")
	_, err = other.ValidateToken(token.Token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newTestService()

	_, err := svc.ValidateToken("not.a.token")
	assert.Error(t, err)
}

func TestRefreshTokenKeepsIdentity(t *testing.T) {
	svc := newTestService()

	token, err := svc.GenerateToken(Credentials{APIKey: "key-1", APISecret: "secret-1"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(token.Token)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(refreshed.Token)
	require.NoError(t, err)
	assert.Equal(t, "key-1", claims.ClientID)
	assert.Contains(t, claims.Permissions, "reconcile")
}

func TestRefreshTokenRejectsInvalid(t *testing.T) {
	svc := newTestService()

	_, err := svc.RefreshToken("bogus")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
