package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

// Sink persists audit entries.
type Sink interface {
	CreateAuditRecord(ctx context.Context, entry Entry) error
}

// Publisher receives every entry after it was handed to the sink.
type Publisher interface {
	Publish(entry Entry)
}

// OrganizationResolver finds the tenant an account email belongs to. It
// returns "" for unknown emails.
type OrganizationResolver interface {
	OrganizationForEmail(ctx context.Context, email string) (string, error)
}

// Logger builds audit entries and writes them to a Sink.
type Logger struct {
	sink        Sink
	publishers  []Publisher
	resolver    OrganizationResolver
	environment string
	fallback    *log.Logger
	console     io.Writer
	now         func() time.Time

	queue   chan Entry
	closed  bool
	closeMu sync.RWMutex
	wg      sync.WaitGroup
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithAsync hands writes to a background worker with a queue of the given
// size. A full queue falls back to writing on the caller's goroutine.
func WithAsync(queueSize int) LoggerOption {
	return func(l *Logger) {
		if queueSize > 0 {
			l.queue = make(chan Entry, queueSize)
		}
	}
}

// WithEnvironment sets the deployment environment. Outside "production"
// entries that failed to persist are echoed to the console.
func WithEnvironment(environment string) LoggerOption {
	return func(l *Logger) {
		l.environment = environment
	}
}

// WithPublisher registers a live subscriber, e.g. the security event feed.
func WithPublisher(p Publisher) LoggerOption {
	return func(l *Logger) {
		if p != nil {
			l.publishers = append(l.publishers, p)
		}
	}
}

// WithOrganizationResolver fills OrganizationID for events that only carry
// an email, such as lockout transitions.
func WithOrganizationResolver(resolver OrganizationResolver) LoggerOption {
	return func(l *Logger) {
		l.resolver = resolver
	}
}

// WithFallback replaces the diagnostic logger used for write failures.
func WithFallback(fallback *log.Logger) LoggerOption {
	return func(l *Logger) {
		if fallback != nil {
			l.fallback = fallback
		}
	}
}

// WithConsole replaces stdout as the debug sink.
func WithConsole(w io.Writer) LoggerOption {
	return func(l *Logger) {
		if w != nil {
			l.console = w
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) LoggerOption {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger creates a Logger writing to sink.
func NewLogger(sink Sink, opts ...LoggerOption) *Logger {
	l := &Logger{
		sink:        sink,
		environment: "development",
		fallback:    log.New(os.Stderr, "[audit] ", log.LstdFlags),
		console:     os.Stdout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.queue != nil {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// Record builds an entry for eventType and writes it. It never fails from
// the caller's point of view: malformed events are dropped and storage
// errors are reported on the fallback channel.
func (l *Logger) Record(ctx context.Context, eventType EventType, event Event) {
	if l == nil {
		return
	}
	if !eventType.Valid() || !event.Status.Valid() {
		l.fallback.Printf("⚠️ dropped malformed audit event (type=%q status=%q)", eventType, event.Status)
		return
	}

	entry := l.buildEntry(ctx, eventType, event)

	if l.enqueue(entry) {
		return
	}
	l.write(ctx, entry)
}

func (l *Logger) buildEntry(ctx context.Context, eventType EventType, event Event) Entry {
	rc := RequestContextFrom(ctx)

	correlationID := rc.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	return Entry{
		ID:             uuid.New().String(),
		EventType:      eventType,
		UserID:         event.UserID,
		Email:          event.Email,
		OrganizationID: event.OrganizationID,
		IPAddress:      rc.IPAddress,
		UserAgent:      rc.UserAgent,
		Path:           rc.Path,
		Status:         event.Status,
		Details:        copyDetails(event.Details),
		CorrelationID:  correlationID,
		Timestamp:      l.now().UTC(),
	}
}

func (l *Logger) enqueue(entry Entry) bool {
	if l.queue == nil {
		return false
	}

	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		return false
	}

	select {
	case l.queue <- entry:
		return true
	default:
		l.fallback.Printf("⚠️ audit queue full, writing %s synchronously", entry.EventType)
		return false
	}
}

func (l *Logger) worker() {
	defer l.wg.Done()
	for entry := range l.queue {
		l.write(context.Background(), entry)
	}
}

func (l *Logger) write(ctx context.Context, entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.handleFailure(entry, fmt.Errorf("audit sink panic: %v", r))
		}
	}()

	l.resolveOrganization(ctx, &entry)

	if l.sink == nil {
		l.handleFailure(entry, fmt.Errorf("no audit sink configured"))
	} else if err := l.sink.CreateAuditRecord(context.WithoutCancel(ctx), entry); err != nil {
		l.handleFailure(entry, err)
	}

	for _, p := range l.publishers {
		p.Publish(entry)
	}
}

func (l *Logger) resolveOrganization(ctx context.Context, entry *Entry) {
	if entry.OrganizationID != "" || entry.Email == "" || l.resolver == nil {
		return
	}
	organizationID, err := l.resolver.OrganizationForEmail(context.WithoutCancel(ctx), entry.Email)
	if err != nil {
		l.fallback.Printf("⚠️ could not resolve organization for audit entry %s: %v", entry.ID, err)
		return
	}
	entry.OrganizationID = organizationID
}

func (l *Logger) handleFailure(entry Entry, err error) {
	l.fallback.Printf("❌ failed to write audit entry %s (%s, correlation=%s): %v",
		entry.ID, entry.EventType, entry.CorrelationID, err)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("audit_event", string(entry.EventType))
		scope.SetTag("correlation_id", entry.CorrelationID)
		sentry.CaptureException(err)
	})

	if l.environment == "production" {
		return
	}
	if payload, marshalErr := json.Marshal(entry); marshalErr == nil {
		fmt.Fprintf(l.console, "AUDIT %s\n", payload)
	}
}

// Close stops accepting queued writes and waits until the queue is drained.
// Records arriving afterwards are written synchronously.
func (l *Logger) Close() {
	if l == nil || l.queue == nil {
		return
	}

	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return
	}
	l.closed = true
	close(l.queue)
	l.closeMu.Unlock()

	l.wg.Wait()
}
