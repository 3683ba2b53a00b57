package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"

	"forgecrm-backend/auth-service/middleware"
	"forgecrm-backend/shared/security/authflow"
	"forgecrm-backend/shared/security/credentials"
)

const (
	accessTokenCookie  = "access_token"
	refreshTokenCookie = "refresh_token"
)

// CookieConfig controls the token cookies set on login and registration.
type CookieConfig struct {
	Secure   bool
	Domain   string
	SameSite http.SameSite
}

// ParseSameSite maps the COOKIE_SAMESITE value to http.SameSite.
func ParseSameSite(value string) http.SameSite {
	switch value {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

type AuthHandler struct {
	service *authflow.Service
	cookies CookieConfig
}

func NewAuthHandler(service *authflow.Service, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{service: service, cookies: cookies}
}

// Login Request/Response structs
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email" example:"admin@forgecrm.io"`
	Password string `json:"password" binding:"required" example:"ChangeMe!2025"`
}

type LoginResponse struct {
	Token            string    `json:"token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	User             UserInfo  `json:"user"`
}

type UserInfo struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Register Request struct
type RegisterRequest struct {
	Email          string `json:"email" binding:"required,email" example:"user@example.com"`
	Password       string `json:"password" binding:"required" example:"Str0ng!Passw0rd"`
	FirstName      string `json:"first_name" binding:"required" example:"John"`
	LastName       string `json:"last_name" binding:"required" example:"Doe"`
	OrganizationID string `json:"organization_id,omitempty" binding:"omitempty,uuid"`
}

// Refresh Request struct. The token may also come from the refresh cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

type RefreshResponse struct {
	Token     string    `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	ExpiresAt time.Time `json:"expires_at" example:"2025-06-02T19:37:11.076935+03:00"`
}

// Validate Request struct
type ValidateRequest struct {
	Token string `json:"token" binding:"required"`
}

type ValidateResponse struct {
	Valid     bool       `json:"valid"`
	UserID    string     `json:"user_id,omitempty"`
	Email     string     `json:"email,omitempty"`
	Role      string     `json:"role,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func newUserInfo(account authflow.Account) UserInfo {
	return UserInfo{
		ID:             account.ID,
		Email:          account.Email,
		FirstName:      account.FirstName,
		LastName:       account.LastName,
		Role:           string(account.Role),
		OrganizationID: account.OrganizationID,
	}
}

// POST /api/auth/login
// @Summary User login
// @Description Authenticate a user and return JWT tokens
// @Tags auth
// @Accept json
// @Produce json
// @Param login body LoginRequest true "Login credentials"
// @Success 200 {object} handlers.LoginResponse "Successful login"
// @Failure 400 {object} map[string]string "Invalid request format"
// @Failure 401 {object} map[string]string "Invalid credentials"
// @Failure 423 {object} map[string]interface{} "Account locked"
// @Failure 429 {object} map[string]interface{} "Too many login attempts"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.service.Login(c.Request.Context(), authflow.Attempt{
		ClientIdentity: middleware.ClientIdentity(c),
		Email:          req.Email,
		Password:       req.Password,
	})
	if err != nil {
		var throttled *authflow.ThrottledError
		var locked *authflow.LockedError
		switch {
		case errors.As(err, &throttled):
			middleware.SetRateLimitHeaders(c, throttled.Decision)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many login attempts. Please try again later.",
				"retry_after": throttled.Decision.RetryAfterSeconds,
			})
		case errors.As(err, &locked):
			c.JSON(http.StatusLocked, gin.H{
				"error":             locked.Error(),
				"locked_until":      locked.Until,
				"remaining_minutes": locked.RemainingMinutes,
			})
		case errors.Is(err, authflow.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		default:
			internalError(c, "Login failed", err)
		}
		return
	}

	h.setTokenCookies(c, session.Tokens)

	c.JSON(http.StatusOK, LoginResponse{
		Token:            session.Tokens.AccessToken,
		RefreshToken:     session.Tokens.RefreshToken,
		ExpiresAt:        session.Tokens.AccessExpiresAt,
		RefreshExpiresAt: session.Tokens.RefreshExpiresAt,
		User:             newUserInfo(session.Account),
	})
}

// POST /api/auth/register
// @Summary Register a new user
// @Description Create an agent account and return JWT tokens
// @Tags auth
// @Accept json
// @Produce json
// @Param register body RegisterRequest true "Registration details"
// @Success 201 {object} handlers.LoginResponse "Account created"
// @Failure 400 {object} map[string]interface{} "Invalid request or password policy violation"
// @Failure 409 {object} map[string]string "Email already registered"
// @Failure 429 {object} map[string]interface{} "Too many registration attempts"
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.service.Register(c.Request.Context(), authflow.Registration{
		Email:          req.Email,
		Password:       req.Password,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		var policyErr *credentials.PolicyError
		switch {
		case errors.As(err, &policyErr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "Password does not meet requirements",
				"violations": policyErr.Violations,
			})
		case errors.Is(err, authflow.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		default:
			internalError(c, "Registration failed", err)
		}
		return
	}

	h.setTokenCookies(c, session.Tokens)

	c.JSON(http.StatusCreated, LoginResponse{
		Token:            session.Tokens.AccessToken,
		RefreshToken:     session.Tokens.RefreshToken,
		ExpiresAt:        session.Tokens.AccessExpiresAt,
		RefreshExpiresAt: session.Tokens.RefreshExpiresAt,
		User:             newUserInfo(session.Account),
	})
}

// POST /api/auth/refresh
// @Summary Refresh access token
// @Description Exchange a refresh token for a new access token
// @Tags auth
// @Accept json
// @Produce json
// @Param refresh body RefreshRequest false "Refresh token (or refresh_token cookie)"
// @Success 200 {object} handlers.RefreshResponse "New access token"
// @Failure 401 {object} map[string]string "Invalid refresh token"
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	// Body is optional when the cookie carries the token.
	_ = c.ShouldBindJSON(&req)

	refreshToken := req.RefreshToken
	if refreshToken == "" {
		refreshToken, _ = c.Cookie(refreshTokenCookie)
	}

	accessToken, expiresAt, err := h.service.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, credentials.ErrMissingToken) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Refresh token is required", "code": "token_missing"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token", "code": "token_invalid"})
		return
	}

	h.setCookie(c, accessTokenCookie, accessToken, time.Until(expiresAt))

	c.JSON(http.StatusOK, RefreshResponse{
		Token:     accessToken,
		ExpiresAt: expiresAt,
	})
}

// POST /api/auth/validate
// @Summary Validate access token
// @Description Check whether an access token is valid and return its claims
// @Tags auth
// @Accept json
// @Produce json
// @Param validate body ValidateRequest true "Token to validate"
// @Success 200 {object} handlers.ValidateResponse "Validation result"
// @Failure 400 {object} map[string]string "Invalid request format"
// @Router /auth/validate [post]
func (h *AuthHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := h.service.Tokens().VerifyAccessToken(req.Token)
	if err != nil {
		c.JSON(http.StatusOK, ValidateResponse{Valid: false})
		return
	}

	response := ValidateResponse{
		Valid:  true,
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   string(claims.Role),
	}
	if claims.ExpiresAt != nil {
		expiresAt := claims.ExpiresAt.Time
		response.ExpiresAt = &expiresAt
	}
	c.JSON(http.StatusOK, response)
}

// GET /api/auth/me
// @Summary Current user
// @Description Return the identity carried by the access token
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} handlers.UserInfo "Authenticated identity"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	value, exists := c.Get(middleware.ContextClaims)
	claims, ok := value.(*credentials.Claims)
	if !exists || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": "token_missing"})
		return
	}

	c.JSON(http.StatusOK, UserInfo{
		ID:             claims.Subject,
		Email:          claims.Email,
		Role:           string(claims.Role),
		OrganizationID: claims.OrganizationID,
	})
}

// POST /api/auth/logout
// @Summary Logout
// @Description Clear the token cookies
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logged out"
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	h.setCookie(c, accessTokenCookie, "", -time.Second)
	h.setCookie(c, refreshTokenCookie, "", -time.Second)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *AuthHandler) setTokenCookies(c *gin.Context, tokens credentials.TokenPair) {
	h.setCookie(c, accessTokenCookie, tokens.AccessToken, time.Until(tokens.AccessExpiresAt))
	h.setCookie(c, refreshTokenCookie, tokens.RefreshToken, time.Until(tokens.RefreshExpiresAt))
}

func (h *AuthHandler) setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if ttl < 0 {
		maxAge = -1
	}
	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(name, value, maxAge, "/", h.cookies.Domain, h.cookies.Secure, true)
}

// internalError reports err and hides it from the client.
func internalError(c *gin.Context, message string, err error) {
	if hub := sentry.GetHubFromContext(c.Request.Context()); hub != nil {
		hub.CaptureException(err)
	} else {
		sentry.CaptureException(err)
	}
	log.Printf("❌ %s: %v", message, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}
