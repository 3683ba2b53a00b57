// Package authflow binds the login defense components into the login,
// registration, password change and refresh flows.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"forgecrm-backend/shared/security/audit"
	"forgecrm-backend/shared/security/credentials"
	"forgecrm-backend/shared/security/lockout"
	"forgecrm-backend/shared/security/ratelimit"
)

// Account is the persistence view of a user needed for authentication.
type Account struct {
	ID             string
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	Role           credentials.Role
	OrganizationID string
	Active         bool
}

// Identity converts the account into token claims.
func (a *Account) Identity() credentials.Identity {
	return credentials.Identity{
		UserID:         a.ID,
		Email:          a.Email,
		Role:           a.Role,
		OrganizationID: a.OrganizationID,
	}
}

// NewAccount is the input for account creation.
type NewAccount struct {
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	Role           credentials.Role
	OrganizationID string
}

// AccountStore is the persistence collaborator. Lookups return
// ErrAccountNotFound and creation returns ErrEmailTaken.
type AccountStore interface {
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	FindAccountByID(ctx context.Context, id string) (*Account, error)
	CreateAccount(ctx context.Context, account NewAccount) (*Account, error)
	// UpdatePassword stores newHash and moves the old hash into the
	// history, keeping at most keepHistory entries.
	UpdatePassword(ctx context.Context, userID, newHash string, keepHistory int) error
	// PasswordHistory returns previous hashes, newest first.
	PasswordHistory(ctx context.Context, userID string, limit int) ([]string, error)
}

// Attempt is one inbound login request.
type Attempt struct {
	ClientIdentity string
	Email          string
	Password       string
}

// Registration is one inbound sign-up request.
type Registration struct {
	Email          string
	Password       string
	FirstName      string
	LastName       string
	OrganizationID string
}

// Session is the result of a successful login or registration.
type Session struct {
	Tokens  credentials.TokenPair
	Account Account
}

// Dependencies wires a Service.
type Dependencies struct {
	Limiter  *ratelimit.Limiter
	Lockout  *lockout.Tracker
	Hasher   *credentials.PasswordHasher
	Policy   credentials.PasswordPolicy
	Tokens   *credentials.TokenService
	Accounts AccountStore
	Audit    lockout.Recorder
}

// Service runs the authentication flows.
type Service struct {
	limiter  *ratelimit.Limiter
	lockout  *lockout.Tracker
	hasher   *credentials.PasswordHasher
	policy   credentials.PasswordPolicy
	tokens   *credentials.TokenService
	accounts AccountStore
	audit    lockout.Recorder
}

// NewService creates a Service. A nil Limiter disables throttling, which
// is only meant for tests.
func NewService(deps Dependencies) *Service {
	return &Service{
		limiter:  deps.Limiter,
		lockout:  deps.Lockout,
		hasher:   deps.Hasher,
		policy:   deps.Policy,
		tokens:   deps.Tokens,
		accounts: deps.Accounts,
		audit:    deps.Audit,
	}
}

// Tokens exposes the token service for request authentication.
func (s *Service) Tokens() *credentials.TokenService {
	return s.tokens
}

// Login runs the defense chain: rate limit, lockout, credentials. The
// cheap checks run first so rejected clients never reach bcrypt.
func (s *Service) Login(ctx context.Context, attempt Attempt) (*Session, error) {
	if s.limiter != nil {
		decision, err := s.limiter.Check(ctx, attempt.ClientIdentity)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, &ThrottledError{Decision: decision}
		}
	}

	accountID := lockout.NormalizeAccountID(attempt.Email)

	status, err := s.lockout.CheckLockout(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		return nil, &LockedError{Until: *status.LockedUntil, RemainingMinutes: status.RemainingMinutes}
	}

	account, err := s.accounts.FindAccountByEmail(ctx, accountID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("failed to load account: %w", err)
		}
		s.hasher.VerifyDummy(attempt.Password)
		return nil, s.loginFailed(ctx, accountID, nil, "User not found")
	}

	if !s.hasher.Verify(attempt.Password, account.PasswordHash) {
		return nil, s.loginFailed(ctx, accountID, account, "Invalid password")
	}
	if !account.Active {
		return nil, s.loginFailed(ctx, accountID, account, "User inactive")
	}

	if err := s.lockout.ResetOnSuccess(ctx, accountID); err != nil {
		return nil, err
	}

	tokens, err := s.tokens.IssueTokens(account.Identity())
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.EventLoginSuccess, audit.Event{
		UserID:         account.ID,
		Email:          account.Email,
		OrganizationID: account.OrganizationID,
		Status:         audit.StatusSuccess,
	})

	return &Session{Tokens: tokens, Account: *account}, nil
}

// loginFailed counts and audits a failed credential check. account is nil
// for unknown emails. The caller always gets ErrInvalidCredentials, even
// when the count could not be stored.
func (s *Service) loginFailed(ctx context.Context, accountID string, account *Account, reason string) error {
	details := map[string]interface{}{"reason": reason}
	event := audit.Event{Email: accountID, Status: audit.StatusFailure, Details: details}
	if account != nil {
		event.UserID = account.ID
		event.OrganizationID = account.OrganizationID
	}

	record, err := s.lockout.RecordFailure(ctx, accountID)
	if err != nil {
		log.Printf("❌ Failed to count login failure for %s: %v", accountID, err)
		details["lockout_error"] = err.Error()
	} else {
		details["failure_count"] = record.FailureCount
	}

	s.record(ctx, audit.EventLoginFailure, event)
	return ErrInvalidCredentials
}

// Register validates the password policy, creates an agent account and
// signs the user in.
func (s *Service) Register(ctx context.Context, registration Registration) (*Session, error) {
	email := lockout.NormalizeAccountID(registration.Email)

	if err := s.policy.Validate(registration.Password); err != nil {
		s.registrationFailed(ctx, email, registration.OrganizationID, "Password policy violation")
		return nil, err
	}

	hash, err := s.hasher.Hash(registration.Password)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.CreateAccount(ctx, NewAccount{
		Email:          email,
		PasswordHash:   hash,
		FirstName:      strings.TrimSpace(registration.FirstName),
		LastName:       strings.TrimSpace(registration.LastName),
		Role:           credentials.RoleAgent,
		OrganizationID: registration.OrganizationID,
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.registrationFailed(ctx, email, registration.OrganizationID, "Email already registered")
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	tokens, err := s.tokens.IssueTokens(account.Identity())
	if err != nil {
		return nil, err
	}

	s.record(ctx, audit.EventRegistrationSuccess, audit.Event{
		UserID:         account.ID,
		Email:          account.Email,
		OrganizationID: account.OrganizationID,
		Status:         audit.StatusSuccess,
	})

	log.Printf("✅ New account registered: %s", account.Email)
	return &Session{Tokens: tokens, Account: *account}, nil
}

func (s *Service) registrationFailed(ctx context.Context, email, organizationID, reason string) {
	s.record(ctx, audit.EventRegistrationFailure, audit.Event{
		Email:          email,
		OrganizationID: organizationID,
		Status:         audit.StatusFailure,
		Details:        map[string]interface{}{"reason": reason},
	})
}

// ChangePassword replaces the password of an authenticated user after
// checking the current one, the policy and the password history.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	account, err := s.accounts.FindAccountByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("failed to load account: %w", err)
	}

	if !s.hasher.Verify(currentPassword, account.PasswordHash) {
		s.passwordChangeFailed(ctx, account, "Current password incorrect")
		return ErrInvalidCredentials
	}

	if err := s.policy.Validate(newPassword); err != nil {
		s.passwordChangeFailed(ctx, account, "Password policy violation")
		return err
	}

	history, err := s.accounts.PasswordHistory(ctx, account.ID, s.policy.HistoryDepth)
	if err != nil {
		return fmt.Errorf("failed to load password history: %w", err)
	}
	previous := append([]string{account.PasswordHash}, history...)
	if err := s.policy.CheckHistory(s.hasher, newPassword, previous); err != nil {
		s.passwordChangeFailed(ctx, account, "Password reused")
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash, s.policy.HistoryDepth); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.record(ctx, audit.EventPasswordChanged, audit.Event{
		UserID:         account.ID,
		Email:          account.Email,
		OrganizationID: account.OrganizationID,
		Status:         audit.StatusSuccess,
	})
	return nil
}

func (s *Service) passwordChangeFailed(ctx context.Context, account *Account, reason string) {
	s.record(ctx, audit.EventPasswordChanged, audit.Event{
		UserID:         account.ID,
		Email:          account.Email,
		OrganizationID: account.OrganizationID,
		Status:         audit.StatusFailure,
		Details:        map[string]interface{}{"reason": reason},
	})
}

// Refresh mints a new access token from a refresh token.
func (s *Service) Refresh(_ context.Context, refreshToken string) (string, time.Time, error) {
	return s.tokens.RefreshAccessToken(refreshToken)
}

func (s *Service) record(ctx context.Context, eventType audit.EventType, event audit.Event) {
	if s.audit != nil {
		s.audit.Record(ctx, eventType, event)
	}
}
