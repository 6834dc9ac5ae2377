package events

import (
	"context"
	"sort"
	"sync"
	"time"

	id "proofshare/pkg/domain"
	"proofshare/pkg/platform/sentinel"
)

// InMemoryStore keeps outbox entries in memory for tests and single-node dev.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[id.EventID]*Entry
}

// NewInMemoryStore constructs an empty outbox store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.EventID]*Entry)}
}

func (s *InMemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyEntry := *entry
	s.entries[entry.ID] = &copyEntry
	return nil
}

func (s *InMemoryStore) FetchUndelivered(_ context.Context, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*Entry, 0)
	for _, entry := range s.entries {
		if entry.IsPending() {
			copyEntry := *entry
			pending = append(pending, &copyEntry)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *InMemoryStore) MarkDelivered(_ context.Context, eventID id.EventID, deliveredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[eventID]
	if !ok {
		return sentinel.ErrNotFound
	}
	entry.DeliveredAt = &deliveredAt
	return nil
}

func (s *InMemoryStore) CountPending(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, entry := range s.entries {
		if entry.IsPending() {
			count++
		}
	}
	return count, nil
}
