package store

import (
	"context"
	"sort"
	"sync"

	"proofshare/internal/session/models"
	id "proofshare/pkg/domain"
	"proofshare/pkg/platform/sentinel"
)

// InMemoryStore stores sessions in memory for tests and single-node dev.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
}

// New constructs an empty in-memory session store.
func New() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[id.SessionID]*models.Session)}
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return sentinel.ErrDuplicate
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != session.Version {
		return sentinel.ErrConflict
	}
	session.Version++
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter *models.Filter) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Session, 0)
	for _, session := range s.sessions {
		if filter.Matches(session) {
			matched = append(matched, session.Clone())
		}
	}

	// Newest-first; id tiebreak keeps ordering deterministic for equal timestamps.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	return matched, nil
}
