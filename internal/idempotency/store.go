// Package idempotency caches webhook responses by idempotency key so a
// redelivered signal replays the stored outcome instead of placing a
// second order.
package idempotency

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a cached response stays replayable.
const DefaultTTL = 24 * time.Hour

// HeaderName is the request header carrying the idempotency key.
const HeaderName = "Idempotency-Key"

// Key derives the idempotency key for a request. The header value wins;
// the body field is the fallback. Both are trimmed, and an empty result
// means the request is not idempotent.
func Key(headerValue, bodyValue string) string {
	if key := strings.TrimSpace(headerValue); key != "" {
		return key
	}
	return strings.TrimSpace(bodyValue)
}

type entry struct {
	body    []byte
	status  int
	savedAt time.Time
}

// Store is an in-memory response cache with TTL eviction. Expired entries
// are dropped on read and pruned on write; there is no background sweeper.
type Store struct {
	mutex   sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	clock   func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore creates a Store. A ttl of zero or less disables caching
// entirely, which turns replay protection off.
func NewStore(ttl time.Duration, opts ...StoreOption) *Store {
	store := &Store{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   time.Now,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Get returns the cached response body and status for key. The third
// return reports whether a live entry was found.
func (s *Store) Get(key string) ([]byte, int, bool) {
	if key == "" || s.ttl <= 0 {
		return nil, 0, false
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	cached, ok := s.entries[key]
	if !ok {
		return nil, 0, false
	}
	if s.expired(cached, s.clock()) {
		delete(s.entries, key)
		return nil, 0, false
	}

	body := make([]byte, len(cached.body))
	copy(body, cached.body)
	return body, cached.status, true
}

// Set stores the response for key, overwriting any previous entry.
// An empty key is ignored.
func (s *Store) Set(key string, body []byte, status int) {
	if key == "" || s.ttl <= 0 {
		return
	}

	stored := make([]byte, len(body))
	copy(stored, body)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock()
	s.pruneLocked(now)
	s.entries[key] = entry{body: stored, status: status, savedAt: now}
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock()
	count := 0
	for _, cached := range s.entries {
		if !s.expired(cached, now) {
			count++
		}
	}
	return count
}

func (s *Store) expired(cached entry, now time.Time) bool {
	return now.Sub(cached.savedAt) >= s.ttl
}

// pruneLocked drops expired entries. Caller holds the mutex.
func (s *Store) pruneLocked(now time.Time) {
	for key, cached := range s.entries {
		if s.expired(cached, now) {
			delete(s.entries, key)
		}
	}
}
