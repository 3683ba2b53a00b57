package observability

import (
	"log"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures the global Sentry client. An empty dsn leaves
// Sentry disabled; capture calls are then no-ops.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		log.Println("⚠️ SENTRY_DSN not set, error reporting disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return err
	}

	log.Printf("✅ Sentry initialized (%s)", environment)
	return nil
}

// FlushSentry waits for buffered events before the process exits.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
