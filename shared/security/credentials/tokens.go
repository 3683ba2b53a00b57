package credentials

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMissingToken means no token was presented at all.
	ErrMissingToken = errors.New("token is missing")
	// ErrInvalidToken covers bad signatures, expiry and wrong token kinds.
	ErrInvalidToken = errors.New("token is invalid or expired")
)

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Identity is what a token says about its bearer.
type Identity struct {
	UserID         string `json:"user_id"`
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	OrganizationID string `json:"organization_id"`
}

// Claims - JWT claims of both token kinds; the subject is the user id
type Claims struct {
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	OrganizationID string    `json:"organization_id"`
	TokenType      TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// Identity extracts the bearer identity from the claims.
func (c *Claims) Identity() Identity {
	return Identity{
		UserID:         c.Subject,
		Email:          c.Email,
		Role:           c.Role,
		OrganizationID: c.OrganizationID,
	}
}

// TokenPair is returned on login and registration.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenConfig - signing secrets and lifetimes
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Now           func() time.Time
}

// TokenService signs and verifies access and refresh tokens. Each kind has
// its own secret, so an access signing key cannot mint refresh tokens.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// NewTokenService validates config and creates a TokenService.
func NewTokenService(config TokenConfig) (*TokenService, error) {
	if config.AccessSecret == "" || config.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets are required")
	}
	if config.AccessSecret == config.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if config.AccessTTL <= 0 || config.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &TokenService{
		accessSecret:  []byte(config.AccessSecret),
		refreshSecret: []byte(config.RefreshSecret),
		accessTTL:     config.AccessTTL,
		refreshTTL:    config.RefreshTTL,
		issuer:        config.Issuer,
		now:           now,
	}, nil
}

// AccessTTL returns the access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL returns the refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// IssueTokens signs a fresh access/refresh pair for identity.
func (s *TokenService) IssueTokens(identity Identity) (TokenPair, error) {
	accessToken, accessExpiresAt, err := s.sign(identity, TokenTypeAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, refreshExpiresAt, err := s.sign(identity, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// VerifyAccessToken returns the claims of a valid access token.
func (s *TokenService) VerifyAccessToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, TokenTypeAccess)
}

// VerifyRefreshToken returns the claims of a valid refresh token.
func (s *TokenService) VerifyRefreshToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, TokenTypeRefresh)
}

// RefreshAccessToken mints a new access token from a refresh token. The
// password is not checked again.
func (s *TokenService) RefreshAccessToken(refreshToken string) (string, time.Time, error) {
	claims, err := s.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.sign(claims.Identity(), TokenTypeAccess)
}

func (s *TokenService) secret(tokenType TokenType) []byte {
	if tokenType == TokenTypeRefresh {
		return s.refreshSecret
	}
	return s.accessSecret
}

func (s *TokenService) ttl(tokenType TokenType) time.Duration {
	if tokenType == TokenTypeRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

func (s *TokenService) sign(identity Identity, tokenType TokenType) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl(tokenType))

	claims := Claims{
		Email:          identity.Email,
		Role:           identity.Role,
		OrganizationID: identity.OrganizationID,
		TokenType:      tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    s.issuer,
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret(tokenType))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

func (s *TokenService) verify(tokenString string, tokenType TokenType) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		options = append(options, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret(tokenType), nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, tokenType, claims.TokenType)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
