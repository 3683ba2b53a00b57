package store

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps entries in process memory behind a single mutex.
// State is lost on restart and is not shared between instances.
type MemoryStore struct {
	name    string
	entries map[string]*memoryEntry
	mutex   sync.Mutex
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an empty store. The name only shows up in logs.
func NewMemoryStore(name string, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		name:    name,
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup returns the live entry for key. Caller must hold the mutex.
func (s *MemoryStore) lookup(key string, now time.Time) (*memoryEntry, bool) {
	entry, exists := s.entries[key]
	if !exists || entry.expired(now) {
		return nil, false
	}
	return entry, true
}

func (s *MemoryStore) put(key string, value []byte, ttl time.Duration, now time.Time) {
	entry := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	s.entries[key] = entry
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, ok := s.lookup(key, s.now())
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.put(key, value, ttl, s.now())
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	entry, ok := s.lookup(key, now)
	if !ok {
		s.put(key, []byte("1"), window, now)
		return 1, now.Add(window), nil
	}

	count, err := strconv.ParseInt(string(entry.value), 10, 64)
	if err != nil {
		// Not a counter; restart the window rather than fail the request.
		count = 0
	}
	count++
	entry.value = []byte(strconv.FormatInt(count, 10))
	return count, entry.expiresAt, nil
}

func (s *MemoryStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	var current []byte
	entry, exists := s.lookup(key, now)
	if exists {
		current = append([]byte(nil), entry.value...)
	}

	next, ttl, err := fn(current, exists)
	if err != nil {
		return err
	}
	if next == nil {
		delete(s.entries, key)
		return nil
	}
	s.put(key, next, ttl, now)
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of physically stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries)
}

// StartSweeper runs Sweep on every tick until ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					log.Printf("🧹 %s store: swept %d expired entries", s.name, removed)
				}
			}
		}
	}()
}
