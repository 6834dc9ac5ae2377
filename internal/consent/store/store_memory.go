package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"proofshare/internal/consent/models"
	id "proofshare/pkg/domain"
	"proofshare/pkg/platform/sentinel"
)

// InMemoryStore keeps consent records in memory. Suitable for tests and
// single-node deployments.
type InMemoryStore struct {
	mu        sync.RWMutex
	byID      map[id.ConsentID]*models.ConsentRecord
	bySession map[id.SessionID]id.ConsentID // active record per session
	order     []id.ConsentID                // append order
}

// New constructs an empty in-memory consent store.
func New() *InMemoryStore {
	return &InMemoryStore{
		byID:      make(map[id.ConsentID]*models.ConsentRecord),
		bySession: make(map[id.SessionID]id.ConsentID),
	}
}

func (s *InMemoryStore) Append(_ context.Context, record *models.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[record.ID]; exists {
		return fmt.Errorf("consent %s: %w", record.ID, sentinel.ErrDuplicate)
	}
	if activeID, exists := s.bySession[record.SessionID]; exists {
		if active := s.byID[activeID]; active != nil && active.Active() {
			return fmt.Errorf("session %s already has an active consent record: %w",
				record.SessionID, sentinel.ErrDuplicate)
		}
	}

	s.byID[record.ID] = record.Clone()
	s.bySession[record.SessionID] = record.ID
	s.order = append(s.order, record.ID)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, consentID id.ConsentID) (*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.byID[consentID]
	if !exists {
		return nil, fmt.Errorf("consent %s: %w", consentID, sentinel.ErrNotFound)
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) FindActiveBySession(_ context.Context, sessionID id.SessionID) (*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	consentID, exists := s.bySession[sessionID]
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, sentinel.ErrNotFound)
	}
	record := s.byID[consentID]
	if record == nil || !record.Active() {
		return nil, fmt.Errorf("session %s: %w", sessionID, sentinel.ErrNotFound)
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) Withdraw(_ context.Context, subjectID id.HolderID, purposes []string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	withdrawn := 0
	for _, record := range s.byID {
		if record.SubjectID != subjectID || !record.Active() {
			continue
		}
		if len(purposes) > 0 && !slices.Contains(purposes, record.Purpose) {
			continue
		}
		when := at
		record.WithdrawnAt = &when
		withdrawn++
	}
	return withdrawn, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ConsentRecord, 0, len(s.order))
	for _, consentID := range s.order {
		out = append(out, s.byID[consentID].Clone())
	}
	return out, nil
}
