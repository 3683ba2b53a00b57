// Package audit records security-relevant events of the authentication
// service. Recording is best-effort: storage failures are absorbed and never
// reach the operation that produced the event.
package audit

import (
	"context"
	"time"
)

// EventType - audited security event
type EventType string

const (
	EventLoginSuccess           EventType = "LOGIN_SUCCESS"
	EventLoginFailure           EventType = "LOGIN_FAILURE"
	EventRegistrationSuccess    EventType = "REGISTRATION_SUCCESS"
	EventRegistrationFailure    EventType = "REGISTRATION_FAILURE"
	EventPasswordResetRequested EventType = "PASSWORD_RESET_REQUESTED"
	EventPasswordResetSuccess   EventType = "PASSWORD_RESET_SUCCESS"
	EventPasswordChanged        EventType = "PASSWORD_CHANGED"
	EventAccountLocked          EventType = "ACCOUNT_LOCKED"
	EventAccountUnlocked        EventType = "ACCOUNT_UNLOCKED"
)

var knownEventTypes = map[EventType]bool{
	EventLoginSuccess:           true,
	EventLoginFailure:           true,
	EventRegistrationSuccess:    true,
	EventRegistrationFailure:    true,
	EventPasswordResetRequested: true,
	EventPasswordResetSuccess:   true,
	EventPasswordChanged:        true,
	EventAccountLocked:          true,
	EventAccountUnlocked:        true,
}

// Valid reports whether t is one of the declared event types.
func (t EventType) Valid() bool {
	return knownEventTypes[t]
}

// Status - outcome of the audited operation
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Valid reports whether s is SUCCESS or FAILURE.
func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Event is what callers hand to Logger.Record. OrganizationID scopes the
// entry to one tenant; the Logger resolves it from Email when it is empty.
type Event struct {
	UserID         string
	Email          string
	OrganizationID string
	Status         Status
	Details        map[string]interface{}
}

// Entry is the stored form of an event. Entries are built once by the
// Logger and passed by value afterwards.
type Entry struct {
	ID             string                 `json:"id"`
	EventType      EventType              `json:"event_type"`
	UserID         string                 `json:"user_id,omitempty"`
	Email          string                 `json:"email,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	IPAddress      string                 `json:"ip_address"`
	UserAgent      string                 `json:"user_agent"`
	Path           string                 `json:"path"`
	Status         Status                 `json:"status"`
	Details        map[string]interface{} `json:"details,omitempty"`
	CorrelationID  string                 `json:"correlation_id"`
	Timestamp      time.Time              `json:"timestamp"`
}

// RequestContext carries the request attributes every entry is stamped with.
type RequestContext struct {
	IPAddress     string
	UserAgent     string
	Path          string
	CorrelationID string
}

type requestContextKey struct{}

// WithRequestContext attaches rc to ctx.
func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the request context attached to ctx, or the
// zero value.
func RequestContextFrom(ctx context.Context) RequestContext {
	if ctx == nil {
		return RequestContext{}
	}
	rc, _ := ctx.Value(requestContextKey{}).(RequestContext)
	return rc
}

func copyDetails(details map[string]interface{}) map[string]interface{} {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
