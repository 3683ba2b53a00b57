package credentials

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// maxPasswordBytes is bcrypt's input limit.
const maxPasswordBytes = 72

// ErrPasswordReused is returned when a new password matches one of the
// remembered previous passwords.
var ErrPasswordReused = errors.New("password was used recently")

// PasswordPolicy describes the complexity rules for new passwords.
type PasswordPolicy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireNumber  bool
	RequireSpecial bool
	HistoryDepth   int
}

// DefaultPasswordPolicy returns the policy used when nothing is configured.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireNumber:  true,
		RequireSpecial: true,
		HistoryDepth:   5,
	}
}

// PolicyError lists every rule a password violates.
type PolicyError struct {
	Violations []string
}

func (e *PolicyError) Error() string {
	return "password does not meet policy: " + strings.Join(e.Violations, "; ")
}

// Validate checks password against the policy. It returns a *PolicyError
// or nil.
func (p PasswordPolicy) Validate(password string) error {
	var violations []string

	if len([]rune(password)) < p.MinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", p.MinLength))
	}
	if len(password) > maxPasswordBytes {
		violations = append(violations, fmt.Sprintf("must be at most %d bytes", maxPasswordBytes))
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasNumber = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if p.RequireUpper && !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if p.RequireLower && !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if p.RequireNumber && !hasNumber {
		violations = append(violations, "must contain a number")
	}
	if p.RequireSpecial && !hasSpecial {
		violations = append(violations, "must contain a special character")
	}

	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}

// CheckHistory rejects password when it matches one of the newest
// HistoryDepth hashes. previousHashes must be ordered newest first.
func (p PasswordPolicy) CheckHistory(hasher *PasswordHasher, password string, previousHashes []string) error {
	depth := p.HistoryDepth
	if depth <= 0 {
		return nil
	}
	if len(previousHashes) < depth {
		depth = len(previousHashes)
	}

	for _, hash := range previousHashes[:depth] {
		if hasher.Verify(password, hash) {
			return ErrPasswordReused
		}
	}
	return nil
}
