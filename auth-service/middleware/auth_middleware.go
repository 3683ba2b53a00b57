package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"forgecrm-backend/shared/security/credentials"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID         = "userID"
	ContextUserEmail      = "userEmail"
	ContextUserRole       = "userRole"
	ContextOrganizationID = "organizationID"
	ContextClaims         = "claims"
)

// AuthMiddleware verifies the bearer access token and stores its claims in
// the gin context. The error code tells a missing token apart from an
// invalid one so clients can choose between login and silent refresh.
func AuthMiddleware(tokens *credentials.TokenService) gin.HandlerFunc {
	return authenticate(tokens, false)
}

// WebSocketAuthMiddleware also accepts the token as the "token" query
// parameter, since browsers cannot set headers on WebSocket handshakes.
func WebSocketAuthMiddleware(tokens *credentials.TokenService) gin.HandlerFunc {
	return authenticate(tokens, true)
}

func authenticate(tokens *credentials.TokenService, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, formatOK := ExtractTokenFromHeader(c.Request)
		if !formatOK {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization format. Expected Bearer {token}",
				"code":  "token_invalid",
			})
			return
		}
		if tokenString == "" && allowQuery {
			tokenString = c.Query("token")
		}

		claims, err := tokens.VerifyAccessToken(tokenString)
		if err != nil {
			if errors.Is(err, credentials.ErrMissingToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Authorization header is required",
					"code":  "token_missing",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
				"code":  "token_invalid",
			})
			return
		}

		c.Set(ContextUserID, claims.Subject)
		c.Set(ContextUserEmail, claims.Email)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextOrganizationID, claims.OrganizationID)
		c.Set(ContextClaims, claims)

		c.Next()
	}
}

// RequireRole lets the request through when the authenticated role is at
// least required. It must run after AuthMiddleware.
func RequireRole(required credentials.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ContextUserRole)
		userRole, _ := role.(credentials.Role)

		if !credentials.HasPermission(userRole, required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
				"code":  "forbidden",
			})
			return
		}
		c.Next()
	}
}

// ExtractTokenFromHeader returns the bearer token. The second result is
// false when a header is present but not in Bearer form.
func ExtractTokenFromHeader(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return "", true
	}

	tokenParts := strings.SplitN(authHeader, " ", 2)
	if len(tokenParts) != 2 || !strings.EqualFold(tokenParts[0], "Bearer") {
		return "", false
	}

	return strings.TrimSpace(tokenParts[1]), true
}
