package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"forgecrm-backend/shared/security/audit"
)

const CorrelationHeader = "X-Correlation-ID"

// CorrelationMiddleware assigns every request a correlation id, echoes it
// on the response and attaches the audit request context to the request.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(CorrelationHeader)
		if correlationID == "" || len(correlationID) > 100 {
			correlationID = uuid.New().String()
		}

		c.Set("correlationID", correlationID)
		c.Header(CorrelationHeader, correlationID)

		ctx := audit.WithRequestContext(c.Request.Context(), audit.RequestContext{
			IPAddress:     ClientIdentity(c),
			UserAgent:     c.GetHeader("User-Agent"),
			Path:          c.Request.URL.Path,
			CorrelationID: correlationID,
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
