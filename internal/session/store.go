// Package session holds the client's durable credentials behind a small
// key-value surface so the auth logic can run against memory in tests and a
// locked JSON file in the CLI.
package session

import (
	"sync"
	"time"
)

// Store is the key-value surface credentials are kept in. A zero ttl stores
// the value without expiry; expired values read as absent.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key string, value string, ttl time.Duration) error
	Clear(key string) error
}

type entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func (e entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func newEntry(value string, ttl time.Duration, now time.Time) entry {
	e := entry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl).UTC()
	}
	return e
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]entry{}, now: time.Now}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.Value, true, nil
}

func (s *MemoryStore) Set(key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	s.entries[key] = newEntry(value, ttl, s.now())
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
