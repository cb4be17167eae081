package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

var errClosed = errors.New("memory store closed")

// MemoryStore is an in-process Store. It backs tests and single-node
// development runs where no Redis is available.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	closed  bool
	stopCh  chan struct{}
	now     func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewMemoryStore creates an in-memory store with periodic eviction of
// expired keys.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates an in-memory store that reads time from
// now, so TTL expiry can be driven by a test clock.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memEntry),
		stopCh:  make(chan struct{}),
		now:     now,
	}
	go s.evictLoop(30 * time.Second)
	return s
}

// lookup returns the live entry for key. Callers must hold s.mu.
func (s *MemoryStore) lookup(key string) (*memEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return nil, false
	}
	return entry, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", unavailable("get", errClosed)
	}
	entry, ok := s.lookup(key)
	if !ok {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("set", errClosed)
	}
	s.entries[key] = &memEntry{value: value, expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, unavailable("setnx", errClosed)
	}
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.entries[key] = &memEntry{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("del", errClosed)
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, unavailable("cad", errClosed)
	}
	entry, ok := s.lookup(key)
	if !ok || entry.value != expected {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// Incr keeps the remaining TTL of an existing key, as Redis INCR does.
func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, unavailable("incr", errClosed)
	}
	entry, ok := s.lookup(key)
	if !ok {
		s.entries[key] = &memEntry{value: "1"}
		return 1, nil
	}
	n, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kv incr %s: %w", key, ErrNotInteger)
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable("ping", errClosed)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.entries = nil
	close(s.stopCh)
	return nil
}

// Len returns the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.entries {
		if _, ok := s.lookup(key); ok {
			n++
		}
	}
	return n
}

func (s *MemoryStore) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			for key := range s.entries {
				s.lookup(key)
			}
			s.mu.Unlock()
		}
	}
}
