package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
)

// SentryRecovery turns panics into a 500 response and reports them.
func SentryRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				correlationID, _ := c.Get("correlationID")

				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("panic", rec)
					scope.SetExtra("stack", string(debug.Stack()))
					scope.SetTag("path", c.Request.URL.Path)
					scope.SetTag("correlation_id", correlationIDString(correlationID))
					sentry.CaptureMessage("panic in request")
				})

				log.Printf("❌ Panic recovered on %s %s: %v", c.Request.Method, c.Request.URL.Path, rec)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()

		c.Next()
	}
}

func correlationIDString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
