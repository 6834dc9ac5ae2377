package store

import (
	"context"

	"proofshare/internal/session/models"
	id "proofshare/pkg/domain"
)

// Store persists sharing sessions.
//
// Error Contract:
// - FindByID and Update return sentinel.ErrNotFound for unknown ids
// - Create returns sentinel.ErrDuplicate when the id already exists
// - Update returns sentinel.ErrConflict when session.Version is stale
// - Other failures are returned wrapped with context
//
// Update is a compare-and-set keyed by Session.Version: implementations only
// commit when the stored version equals the caller's, then bump it (mirrored
// back onto the passed session). Combined with the service's per-session lock
// this gives single-writer-per-session semantics on any backend.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	// List returns sessions matching the filter, newest-first.
	List(ctx context.Context, filter *models.Filter) ([]*models.Session, error)
}
