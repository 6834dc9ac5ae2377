// Package audit captures an append-only trail of session and consent actions.
package audit

import (
	"context"
	"time"

	id "proofshare/pkg/domain"
)

// Audit event actions.
const (
	ActionSessionCreated   = "session_created"
	ActionSessionActivated = "session_activated"
	ActionSessionRevoked   = "session_revoked"
	ActionSessionExpired   = "session_expired"
	ActionConsentRecorded  = "consent_recorded"
	ActionConsentDenied    = "consent_denied"
	ActionConsentWithdrawn = "consent_withdrawn"
)

// Audit event decisions.
const (
	DecisionGranted   = "granted"
	DecisionDenied    = "denied"
	DecisionWithdrawn = "withdrawn"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp      time.Time
	SessionID      id.SessionID
	SubjectID      id.HolderID
	Counterparty   id.RequesterID
	Action         string
	Purpose        string
	Decision       string
	Reason         string
	RequestID      string // correlation id from the HTTP request context
}

// Store persists audit events. Append-only by contract.
type Store interface {
	Append(ctx context.Context, event Event) error
	// List returns all events, oldest first. Intended for tests and export.
	List(ctx context.Context) ([]Event, error)
}
