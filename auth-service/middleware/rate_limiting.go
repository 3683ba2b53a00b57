package middleware

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"forgecrm-backend/shared/security/ratelimit"
)

// SetRateLimitHeaders writes the X-RateLimit-* headers and, for a rejected
// decision, Retry-After.
func SetRateLimitHeaders(c *gin.Context, decision ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	if !decision.Allowed {
		c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
	}
}

// RateLimitMiddleware applies a fixed-window limiter keyed by client
// identity. Store failures reject the request.
func RateLimitMiddleware(limiter *ratelimit.Limiter, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := limiter.Check(c.Request.Context(), ClientIdentity(c))
		if err != nil {
			sentry.CaptureException(err)
			log.Printf("❌ Rate limit check failed: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		SetRateLimitHeaders(c, decision)
		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"message":     message,
				"retry_after": decision.RetryAfterSeconds,
			})
			return
		}

		c.Next()
	}
}

type clientBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// GlobalRateLimiter is a per-client token bucket in front of every route.
// It smooths bursts; the fixed-window limiters enforce the endpoint budgets.
type GlobalRateLimiter struct {
	buckets  map[string]*clientBucket
	mutex    sync.Mutex
	perSec   rate.Limit
	burst    int
	idleTime time.Duration
	stopped  chan struct{}
}

// NewGlobalRateLimiter creates the limiter and starts its cleanup loop,
// which runs until ctx is cancelled. Buckets idle for longer than idleTime
// are dropped.
func NewGlobalRateLimiter(ctx context.Context, perSecond float64, burst int, idleTime time.Duration) *GlobalRateLimiter {
	limiter := &GlobalRateLimiter{
		buckets:  make(map[string]*clientBucket),
		perSec:   rate.Limit(perSecond),
		burst:    burst,
		idleTime: idleTime,
		stopped:  make(chan struct{}),
	}

	go limiter.cleanup(ctx)

	return limiter
}

// cleanup - Remove idle buckets
func (gl *GlobalRateLimiter) cleanup(ctx context.Context) {
	defer close(gl.stopped)

	ticker := time.NewTicker(gl.idleTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			gl.removeIdle(now)
		}
	}
}

func (gl *GlobalRateLimiter) removeIdle(now time.Time) int {
	gl.mutex.Lock()
	defer gl.mutex.Unlock()

	removed := 0
	for key, bucket := range gl.buckets {
		if now.Sub(bucket.lastAccess) > gl.idleTime {
			delete(gl.buckets, key)
			removed++
		}
	}
	return removed
}

func (gl *GlobalRateLimiter) allow(key string) bool {
	gl.mutex.Lock()
	bucket, exists := gl.buckets[key]
	if !exists {
		bucket = &clientBucket{limiter: rate.NewLimiter(gl.perSec, gl.burst)}
		gl.buckets[key] = bucket
	}
	bucket.lastAccess = time.Now()
	gl.mutex.Unlock()

	return bucket.limiter.Allow()
}

// Middleware rejects bursts above the configured rate with 429.
func (gl *GlobalRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !gl.allow(ClientIdentity(c)) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too many requests",
				"message": "Request rate exceeded. Please slow down.",
			})
			return
		}
		c.Next()
	}
}
