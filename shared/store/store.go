// Package store provides the key-value contract shared by the login defense
// trackers. Entries carry an optional time-to-live: an expired entry is
// invisible to every read and is physically removed by the next sweep, so
// lazy expiry and background cleanup are the same mechanism.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned by Update when the entry kept changing underneath
// the caller and the retry budget ran out.
var ErrConflict = errors.New("store: concurrent update conflict")

// UpdateFunc receives the current value of a key and returns its next value
// and time-to-live. Returning a nil value deletes the key. A ttl of zero
// keeps the entry until it is deleted explicitly.
type UpdateFunc func(current []byte, exists bool) (next []byte, ttl time.Duration, err error)

// Store is implemented by MemoryStore for single-process deployments and by
// RedisStore when several instances must share counters.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Increment counts one hit in a fixed window. The first hit (or the first
	// hit after the window elapsed) starts a new window of the given length.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)

	// Update applies fn atomically with respect to other mutations of key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
