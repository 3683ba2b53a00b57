package credentials

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenClock struct{ now time.Time }

func (c *tokenClock) Now() time.Time { return c.now }

func newTestTokenService(t *testing.T) (*TokenService, *tokenClock) {
	t.Helper()
	clock := &tokenClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := NewTokenService(TokenConfig{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "forgecrm-auth",
		Now:           clock.Now,
	})
	require.NoError(t, err)
	return svc, clock
}

var testIdentity = Identity{
	UserID:         "6f1c2b7e-9a51-4d1c-8f0e-2d3c4b5a6978",
	Email:          "agent@forgecrm.io",
	Role:           RoleManager,
	OrganizationID: "0b7d5c1e-3f2a-4e6b-9c8d-7a6b5c4d3e2f",
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc, clock := newTestTokenService(t)

	pair, err := svc.IssueTokens(testIdentity)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, clock.now.Add(7*24*time.Hour), pair.RefreshExpiresAt)

	claims, err := svc.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, testIdentity, claims.Identity())
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
	assert.NotEmpty(t, claims.ID)

	refreshClaims, err := svc.VerifyRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, testIdentity, refreshClaims.Identity())
}

func TestTokenService_TamperedTokenFails(t *testing.T) {
	svc, _ := newTestTokenService(t)
	pair, err := svc.IssueTokens(testIdentity)
	require.NoError(t, err)

	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)
	payload := []byte(parts[1])
	if payload[10] == 'A' {
		payload[10] = 'B'
	} else {
		payload[10] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	_, err = svc.VerifyAccessToken(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_ExpiredTokenFails(t *testing.T) {
	svc, clock := newTestTokenService(t)
	pair, err := svc.IssueTokens(testIdentity)
	require.NoError(t, err)

	clock.now = clock.now.Add(16 * time.Minute)
	_, err = svc.VerifyAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.VerifyRefreshToken(pair.RefreshToken)
	assert.NoError(t, err)
}

func TestTokenService_KindsAreNotInterchangeable(t *testing.T) {
	svc, _ := newTestTokenService(t)
	pair, err := svc.IssueTokens(testIdentity)
	require.NoError(t, err)

	_, err = svc.VerifyRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.VerifyAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = svc.RefreshAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "an access token cannot mint another token")
}

func TestTokenService_MissingToken(t *testing.T) {
	svc, _ := newTestTokenService(t)

	_, err := svc.VerifyAccessToken("")
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.NotErrorIs(t, err, ErrInvalidToken)

	_, err = svc.VerifyAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RefreshComputesFreshExpiry(t *testing.T) {
	svc, clock := newTestTokenService(t)
	pair, err := svc.IssueTokens(testIdentity)
	require.NoError(t, err)

	clock.now = clock.now.Add(10 * time.Minute)
	accessToken, expiresAt, err := svc.RefreshAccessToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(15*time.Minute), expiresAt)
	assert.True(t, expiresAt.After(pair.AccessExpiresAt))

	claims, err := svc.VerifyAccessToken(accessToken)
	require.NoError(t, err)
	assert.Equal(t, testIdentity, claims.Identity())
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestNewTokenService_RejectsBadConfig(t *testing.T) {
	_, err := NewTokenService(TokenConfig{AccessSecret: "same", RefreshSecret: "same", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	assert.Error(t, err)

	_, err = NewTokenService(TokenConfig{AccessSecret: "a", AccessTTL: time.Minute, RefreshTTL: time.Hour})
	assert.Error(t, err)

	_, err = NewTokenService(TokenConfig{AccessSecret: "a", RefreshSecret: "b"})
	assert.Error(t, err)
}
