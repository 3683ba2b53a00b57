package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	panics  bool
}

func (s *memorySink) CreateAuditRecord(_ context.Context, entry Entry) error {
	if s.panics {
		panic("database gone")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySink) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []Entry
}

func (p *recordingPublisher) Publish(entry Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
}

func quietFallback() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestLogger_RecordStampsRequestContext(t *testing.T) {
	sink := &memorySink{}
	fixed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	logger := NewLogger(sink, WithClock(func() time.Time { return fixed }), WithFallback(quietFallback()))

	ctx := WithRequestContext(context.Background(), RequestContext{
		IPAddress:     "203.0.113.7",
		UserAgent:     "curl/8.0",
		Path:          "/api/auth/login",
		CorrelationID: "corr-123",
	})
	logger.Record(ctx, EventLoginFailure, Event{
		Email:   "user@x.com",
		Status:  StatusFailure,
		Details: map[string]interface{}{"reason": "Invalid password"},
	})

	entries := sink.all()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, EventLoginFailure, entry.EventType)
	assert.Equal(t, StatusFailure, entry.Status)
	assert.Equal(t, "user@x.com", entry.Email)
	assert.Equal(t, "203.0.113.7", entry.IPAddress)
	assert.Equal(t, "curl/8.0", entry.UserAgent)
	assert.Equal(t, "/api/auth/login", entry.Path)
	assert.Equal(t, "corr-123", entry.CorrelationID)
	assert.Equal(t, fixed, entry.Timestamp)
	assert.Equal(t, "Invalid password", entry.Details["reason"])
	assert.NotEmpty(t, entry.ID)
}

func TestLogger_GeneratesCorrelationID(t *testing.T) {
	sink := &memorySink{}
	logger := NewLogger(sink, WithFallback(quietFallback()))

	logger.Record(context.Background(), EventLoginSuccess, Event{Status: StatusSuccess})
	logger.Record(context.Background(), EventLoginSuccess, Event{Status: StatusSuccess})

	entries := sink.all()
	require.Len(t, entries, 2)
	assert.NotEmpty(t, entries[0].CorrelationID)
	assert.NotEqual(t, entries[0].CorrelationID, entries[1].CorrelationID)
}

func TestLogger_DropsMalformedEvents(t *testing.T) {
	sink := &memorySink{}
	logger := NewLogger(sink, WithFallback(quietFallback()))

	logger.Record(context.Background(), "", Event{Status: StatusSuccess})
	logger.Record(context.Background(), EventType("SOMETHING_ELSE"), Event{Status: StatusSuccess})
	logger.Record(context.Background(), EventLoginSuccess, Event{})

	assert.Empty(t, sink.all())
}

func TestLogger_DetailsAreCopied(t *testing.T) {
	sink := &memorySink{}
	logger := NewLogger(sink, WithFallback(quietFallback()))

	details := map[string]interface{}{"reason": "before"}
	logger.Record(context.Background(), EventLoginFailure, Event{Status: StatusFailure, Details: details})
	details["reason"] = "after"

	assert.Equal(t, "before", sink.all()[0].Details["reason"])
}

func TestLogger_SinkFailureIsAbsorbed(t *testing.T) {
	var fallback, console bytes.Buffer
	sink := &memorySink{err: errors.New("connection reset")}
	logger := NewLogger(sink,
		WithFallback(log.New(&fallback, "[audit] ", 0)),
		WithConsole(&console),
		WithEnvironment("development"),
	)

	assert.NotPanics(t, func() {
		logger.Record(context.Background(), EventLoginSuccess, Event{Email: "a@b.c", Status: StatusSuccess})
	})
	assert.Contains(t, fallback.String(), "connection reset")
	assert.Contains(t, console.String(), `"event_type":"LOGIN_SUCCESS"`)
}

func TestLogger_ProductionDoesNotEchoToConsole(t *testing.T) {
	var console bytes.Buffer
	sink := &memorySink{err: errors.New("connection reset")}
	logger := NewLogger(sink,
		WithFallback(quietFallback()),
		WithConsole(&console),
		WithEnvironment("production"),
	)

	logger.Record(context.Background(), EventLoginSuccess, Event{Status: StatusSuccess})
	assert.Empty(t, console.String())
}

func TestLogger_SinkPanicIsAbsorbed(t *testing.T) {
	logger := NewLogger(&memorySink{panics: true}, WithFallback(quietFallback()), WithConsole(io.Discard))

	assert.NotPanics(t, func() {
		logger.Record(context.Background(), EventAccountLocked, Event{Status: StatusFailure})
	})
}

func TestLogger_NilLoggerIsNoop(t *testing.T) {
	var logger *Logger
	assert.NotPanics(t, func() {
		logger.Record(context.Background(), EventLoginSuccess, Event{Status: StatusSuccess})
		logger.Close()
	})
}

func TestLogger_PublishesEntries(t *testing.T) {
	publisher := &recordingPublisher{}
	logger := NewLogger(&memorySink{}, WithPublisher(publisher), WithFallback(quietFallback()))

	logger.Record(context.Background(), EventAccountUnlocked, Event{Email: "a@b.c", Status: StatusSuccess})

	require.Len(t, publisher.entries, 1)
	assert.Equal(t, EventAccountUnlocked, publisher.entries[0].EventType)
}

type staticResolver struct {
	organizations map[string]string
	err           error
	calls         int
}

func (r *staticResolver) OrganizationForEmail(_ context.Context, email string) (string, error) {
	r.calls++
	return r.organizations[email], r.err
}

func TestLogger_ResolvesOrganizationFromEmail(t *testing.T) {
	sink := &memorySink{}
	publisher := &recordingPublisher{}
	resolver := &staticResolver{organizations: map[string]string{"user@x.com": "org-1"}}
	logger := NewLogger(sink, WithOrganizationResolver(resolver), WithPublisher(publisher), WithFallback(quietFallback()))

	logger.Record(context.Background(), EventAccountLocked, Event{Email: "user@x.com", Status: StatusFailure})
	logger.Record(context.Background(), EventLoginSuccess, Event{Email: "user@x.com", OrganizationID: "org-9", Status: StatusSuccess})
	logger.Record(context.Background(), EventLoginFailure, Event{Email: "ghost@x.com", Status: StatusFailure})

	entries := sink.all()
	require.Len(t, entries, 3)
	assert.Equal(t, "org-1", entries[0].OrganizationID)
	assert.Equal(t, "org-9", entries[1].OrganizationID, "an explicit organization wins")
	assert.Empty(t, entries[2].OrganizationID)
	assert.Equal(t, 2, resolver.calls)

	require.Len(t, publisher.entries, 3)
	assert.Equal(t, "org-1", publisher.entries[0].OrganizationID, "published entries carry the resolved organization")
}

func TestLogger_ResolverFailureStillWrites(t *testing.T) {
	sink := &memorySink{}
	resolver := &staticResolver{err: errors.New("db down")}
	logger := NewLogger(sink, WithOrganizationResolver(resolver), WithFallback(quietFallback()))

	logger.Record(context.Background(), EventAccountLocked, Event{Email: "user@x.com", Status: StatusFailure})

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].OrganizationID)
}

func TestLogger_AsyncCloseDrainsQueue(t *testing.T) {
	sink := &memorySink{}
	logger := NewLogger(sink, WithAsync(8), WithFallback(quietFallback()))

	for i := 0; i < 20; i++ {
		logger.Record(context.Background(), EventLoginFailure, Event{Status: StatusFailure})
	}
	logger.Close()

	assert.Len(t, sink.all(), 20)

	logger.Record(context.Background(), EventLoginFailure, Event{Status: StatusFailure})
	assert.Len(t, sink.all(), 21, "records after Close are written synchronously")
}

func TestRequestContextFrom_Empty(t *testing.T) {
	assert.Equal(t, RequestContext{}, RequestContextFrom(context.Background()))
}
