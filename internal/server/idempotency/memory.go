package idempotency

import (
	"context"
	"maps"
	"sync"
	"time"
)

type memoryEntry struct {
	fields  map[string]string
	expires time.Time
}

// MemoryStore is a process-local Store for tests and single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// live returns the entry for key, dropping it if expired. Caller holds mu.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, nil
	}
	return maps.Clone(e.fields), nil
}

func (s *MemoryStore) Acquire(_ context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	if _, ok := fields[StatusField]; !ok {
		return false, errNoStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{fields: maps.Clone(fields), expires: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Update(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		e = memoryEntry{fields: make(map[string]string, len(fields))}
	}
	maps.Copy(e.fields, fields)
	e.expires = s.expiry(ttl)
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
