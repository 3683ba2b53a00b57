// Package ratelimit implements the per-client fixed-window request budget
// that sits in front of every login attempt.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"forgecrm-backend/shared/store"
)

// Config - limiter settings
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

// Limiter counts attempts per client identity in fixed windows.
type Limiter struct {
	store  store.Store
	config Config
	scope  string
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithScope keeps budgets of different endpoints apart.
func WithScope(scope string) Option {
	return func(l *Limiter) {
		l.scope = scope
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter backed by s.
func New(s store.Store, config Config, opts ...Option) *Limiter {
	l := &Limiter{
		store:  s,
		config: config,
		scope:  "default",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the configured attempts per window.
func (l *Limiter) Limit() int {
	return l.config.MaxAttempts
}

func (l *Limiter) key(clientIdentity string) string {
	return fmt.Sprintf("ratelimit:%s:%s", l.scope, clientIdentity)
}

// Check consumes one unit of the client's budget, allowed or not.
func (l *Limiter) Check(ctx context.Context, clientIdentity string) (Decision, error) {
	count, resetAt, err := l.store.Increment(ctx, l.key(clientIdentity), l.config.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}

	decision := Decision{
		Allowed:   count <= int64(l.config.MaxAttempts),
		Limit:     l.config.MaxAttempts,
		Remaining: l.config.MaxAttempts - int(count),
		ResetAt:   resetAt,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}

	if !decision.Allowed {
		decision.RetryAfterSeconds = retryAfter(resetAt.Sub(l.now()))
	}
	return decision, nil
}

func retryAfter(remaining time.Duration) int {
	seconds := int(math.Ceil(remaining.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
