// Package idempotency deduplicates retried create-session calls.
package idempotency

import (
	"context"
	"sync"
	"time"

	id "proofshare/pkg/domain"
)

// Store maps caller-supplied idempotency keys to the session they created, so
// a retried create returns the original session instead of minting a second one.
type Store interface {
	// Get returns the session id recorded for the key, or false if the key is
	// unknown or its window elapsed.
	Get(ctx context.Context, key string) (id.SessionID, bool, error)

	// Set records the session created under the key.
	Set(ctx context.Context, key string, sessionID id.SessionID) error
}

type entry struct {
	sessionID id.SessionID
	expiresAt time.Time
}

// InMemory is an in-memory idempotency store with periodic cleanup.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]entry
	window  time.Duration
}

// NewInMemory creates an in-memory idempotency store honoring keys for the
// given window.
func NewInMemory(window time.Duration) *InMemory {
	store := &InMemory{
		entries: make(map[string]entry),
		window:  window,
	}
	go store.cleanupLoop()
	return store
}

func (s *InMemory) Get(_ context.Context, key string) (id.SessionID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return id.SessionID{}, false, nil
	}
	return e.sessionID, true, nil
}

func (s *InMemory) Set(_ context.Context, key string, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{sessionID: sessionID, expiresAt: time.Now().Add(s.window)}
	return nil
}

func (s *InMemory) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.cleanup()
	}
}

func (s *InMemory) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}
