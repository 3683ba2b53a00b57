// Package lockout tracks consecutive login failures per account and locks
// the account for a cooldown once the failure budget is spent.
package lockout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"forgecrm-backend/shared/security/audit"
	"forgecrm-backend/shared/store"
)

// Recorder is the audit dependency of the tracker.
type Recorder interface {
	Record(ctx context.Context, eventType audit.EventType, event audit.Event)
}

// Config - lockout settings
type Config struct {
	MaxAttempts     int
	FailureWindow   time.Duration
	LockoutDuration time.Duration
}

// Record is the persisted per-account state.
type Record struct {
	FailureCount  int        `json:"failure_count"`
	LastFailureAt time.Time  `json:"last_failure_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
}

// LockedAt reports whether the record is locked at now.
func (r Record) LockedAt(now time.Time) bool {
	return r.LockedUntil != nil && now.Before(*r.LockedUntil)
}

// Status is the lockout view of one account.
type Status struct {
	Locked           bool       `json:"locked"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	RemainingMinutes int        `json:"remaining_minutes"`
	FailureCount     int        `json:"failure_count"`
}

// Tracker implements the Clean -> Accumulating -> Locked state machine.
// Records expire from the store once neither the failure window nor the
// lock is active, which returns the account to Clean.
type Tracker struct {
	store    store.Store
	recorder Recorder
	config   Config
	now      func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a Tracker. recorder may be nil.
func New(s store.Store, recorder Recorder, config Config, opts ...Option) *Tracker {
	t := &Tracker{
		store:    s,
		recorder: recorder,
		config:   config,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NormalizeAccountID lower-cases and trims an email used as account key.
func NormalizeAccountID(accountID string) string {
	return strings.ToLower(strings.TrimSpace(accountID))
}

func key(accountID string) string {
	return "lockout:" + NormalizeAccountID(accountID)
}

// RemainingMinutes rounds the time left up to whole minutes.
func RemainingMinutes(until, now time.Time) int {
	remaining := until.Sub(now).Milliseconds()
	if remaining <= 0 {
		return 0
	}
	return int((remaining + 59999) / 60000)
}

func (t *Tracker) load(ctx context.Context, accountID string) (Record, bool, error) {
	raw, exists, err := t.store.Get(ctx, key(accountID))
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to load lockout record: %w", err)
	}
	if !exists {
		return Record{}, false, nil
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("failed to decode lockout record: %w", err)
	}
	return record, true, nil
}

// Status returns the current state without side effects.
func (t *Tracker) Status(ctx context.Context, accountID string) (Status, error) {
	record, exists, err := t.load(ctx, accountID)
	if err != nil || !exists {
		return Status{}, err
	}

	now := t.now()
	status := Status{FailureCount: record.FailureCount}
	if record.LockedAt(now) {
		until := *record.LockedUntil
		status.Locked = true
		status.LockedUntil = &until
		status.RemainingMinutes = RemainingMinutes(until, now)
	}
	return status, nil
}

// CheckLockout reports whether the account is locked. A locked account is
// audited as a failed login. An expired lock counts as unlocked.
func (t *Tracker) CheckLockout(ctx context.Context, accountID string) (Status, error) {
	status, err := t.Status(ctx, accountID)
	if err != nil {
		return Status{}, err
	}

	if status.Locked {
		t.record(ctx, audit.EventLoginFailure, audit.Event{
			Email:  NormalizeAccountID(accountID),
			Status: audit.StatusFailure,
			Details: map[string]interface{}{
				"reason":            "Account locked",
				"locked_until":      status.LockedUntil.UTC().Format(time.RFC3339),
				"remaining_minutes": status.RemainingMinutes,
			},
		})
	}
	return status, nil
}

// RecordFailure counts one failed credential check and locks the account
// when the threshold is reached.
func (t *Tracker) RecordFailure(ctx context.Context, accountID string) (Record, error) {
	var result Record
	var justLocked bool
	now := t.now()

	err := t.store.Update(ctx, key(accountID), func(current []byte, exists bool) ([]byte, time.Duration, error) {
		justLocked = false
		var record Record
		if exists {
			if err := json.Unmarshal(current, &record); err != nil {
				record = Record{}
			}
		}

		// A failure after the window elapsed starts a new window; old
		// failures do not compound with new ones.
		if record.FailureCount > 0 && now.Sub(record.LastFailureAt) > t.config.FailureWindow {
			record.FailureCount = 0
			record.LockedUntil = nil
		}
		if record.LockedUntil != nil && !record.LockedAt(now) {
			record.FailureCount = 0
			record.LockedUntil = nil
		}

		record.FailureCount++
		record.LastFailureAt = now
		if record.FailureCount >= t.config.MaxAttempts && record.LockedUntil == nil {
			until := now.Add(t.config.LockoutDuration)
			record.LockedUntil = &until
			justLocked = true
		}

		raw, err := json.Marshal(record)
		if err != nil {
			return nil, 0, err
		}
		result = record
		return raw, t.ttl(record, now), nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to record login failure: %w", err)
	}

	if justLocked {
		t.record(ctx, audit.EventAccountLocked, audit.Event{
			Email:  NormalizeAccountID(accountID),
			Status: audit.StatusFailure,
			Details: map[string]interface{}{
				"locked_until":  result.LockedUntil.UTC().Format(time.RFC3339),
				"failure_count": result.FailureCount,
			},
		})
	}
	return result, nil
}

// ttl keeps the record alive while either the failure window or the lock
// is still relevant.
func (t *Tracker) ttl(record Record, now time.Time) time.Duration {
	expiresAt := record.LastFailureAt.Add(t.config.FailureWindow)
	if record.LockedUntil != nil && record.LockedUntil.After(expiresAt) {
		expiresAt = *record.LockedUntil
	}
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	return ttl
}

// ResetOnSuccess clears the account's record after a successful login.
func (t *Tracker) ResetOnSuccess(ctx context.Context, accountID string) error {
	if err := t.store.Delete(ctx, key(accountID)); err != nil {
		return fmt.Errorf("failed to reset lockout record: %w", err)
	}
	return nil
}

// Unlock clears the record on an administrator's request. actorID is the
// administrator and ends up in the audit entry.
func (t *Tracker) Unlock(ctx context.Context, accountID, actorID string) (bool, error) {
	status, err := t.Status(ctx, accountID)
	if err != nil {
		return false, err
	}
	if err := t.ResetOnSuccess(ctx, accountID); err != nil {
		return false, err
	}

	t.record(ctx, audit.EventAccountUnlocked, audit.Event{
		Email:  NormalizeAccountID(accountID),
		Status: audit.StatusSuccess,
		Details: map[string]interface{}{
			"unlocked_by":   actorID,
			"was_locked":    status.Locked,
			"failure_count": status.FailureCount,
		},
	})
	return status.Locked, nil
}

func (t *Tracker) record(ctx context.Context, eventType audit.EventType, event audit.Event) {
	if t.recorder != nil {
		t.recorder.Record(ctx, eventType, event)
	}
}
