// Package store defines persistence for consent records.
package store

import (
	"context"
	"time"

	"proofshare/internal/consent/models"
	id "proofshare/pkg/domain"
)

// Store persists consent records. Records are append-only; the only
// permitted mutation is stamping WithdrawnAt, which supersedes a record
// without erasing it.
//
// Error Contract:
// - Append returns sentinel.ErrDuplicate when the consent id already exists
//   or the session already has an active record
// - FindByID and FindActiveBySession return sentinel.ErrNotFound when absent
// - Withdraw returns the number of records it superseded; already-withdrawn
//   records are skipped, so repeat calls return zero without error
type Store interface {
	Append(ctx context.Context, record *models.ConsentRecord) error
	FindByID(ctx context.Context, consentID id.ConsentID) (*models.ConsentRecord, error)
	FindActiveBySession(ctx context.Context, sessionID id.SessionID) (*models.ConsentRecord, error)
	// Withdraw supersedes all active records for the subject. When purposes
	// is non-empty only records with a matching purpose are superseded.
	Withdraw(ctx context.Context, subjectID id.HolderID, purposes []string, at time.Time) (int, error)
	// List returns every record, oldest first. Used for analytics and export.
	List(ctx context.Context) ([]*models.ConsentRecord, error)
}
