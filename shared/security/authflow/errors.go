package authflow

import (
	"errors"
	"fmt"
	"time"

	"forgecrm-backend/shared/security/ratelimit"
)

var (
	// ErrInvalidCredentials is deliberately generic: it does not say
	// whether the email exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("email is already registered")
)

// ThrottledError - the client identity spent its request budget
type ThrottledError struct {
	Decision ratelimit.Decision
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %d seconds", e.Decision.RetryAfterSeconds)
}

// LockedError - the account is in its lockout cooldown
type LockedError struct {
	Until            time.Time
	RemainingMinutes int
}

func (e *LockedError) Error() string {
	unit := "minutes"
	if e.RemainingMinutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("account is temporarily locked, try again in %d %s", e.RemainingMinutes, unit)
}
