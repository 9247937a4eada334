package announce

import (
	"sync"
	"time"

	"github.com/ubinox-pi/anonet-sub000/nodeid"
)

// DefaultTTL is the default lifetime of a stored value.
const DefaultTTL = 60 * time.Minute

// MaxEntries bounds the store's size; inserts past this sweep
// expired entries first.
const MaxEntries = 10000

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is a TTL map from NodeId to opaque bytes (typically
// Announcement wire bytes), with capacity bound and lazy expiry.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[nodeid.ID]entry
}

// NewStore creates an empty store with the default TTL and capacity.
func NewStore() *Store {
	return &Store{ttl: DefaultTTL, entries: make(map[nodeid.ID]entry)}
}

// Put inserts or overwrites (key, value), sweeping expired entries
// first if the store is at capacity. Returns false if the store
// remains full after sweeping and the new key is not already present.
func (s *Store) Put(key nodeid.ID, value []byte) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= MaxEntries {
		s.sweepLocked(now)
		if len(s.entries) >= MaxEntries {
			return false
		}
	}
	s.entries[key] = entry{value: value, expiresAt: now.Add(s.ttl)}
	return true
}

// Get returns the value for key if present and unexpired; expired
// entries are deleted transparently on access.
func (s *Store) Get(key nodeid.ID) ([]byte, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

// Contains reports whether key is present and unexpired.
func (s *Store) Contains(key nodeid.ID) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *Store) sweepLocked(now time.Time) {
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// Len returns the current number of stored entries, including expired
// ones not yet removed, mainly for tests and diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
