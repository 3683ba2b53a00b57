package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// UnknownClient is used when no network identity can be derived.
const UnknownClient = "unknown"

// ClientIdentity returns the rate limiting key of the caller: the first
// X-Forwarded-For hop, else the connection source, else UnknownClient.
func ClientIdentity(c *gin.Context) string {
	if forwarded := strings.TrimSpace(c.GetHeader("X-Forwarded-For")); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}

	remoteAddr := strings.TrimSpace(c.Request.RemoteAddr)
	if remoteAddr == "" {
		return UnknownClient
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	return remoteAddr
}
