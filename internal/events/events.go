// Package events implements the domain-event outbox. Services append entries
// during a transition; the Dispatcher delivers them to listeners after the
// transition has committed, so delivery failure can never roll state back.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	id "proofshare/pkg/domain"
)

// Type names a domain event.
type Type string

const (
	TypeSessionCreated   Type = "session_created"
	TypeSessionActivated Type = "session_activated"
	TypeSessionResponded Type = "session_responded"
	TypeSessionCompleted Type = "session_completed"
	TypeSessionRevoked   Type = "session_revoked"
	TypeSessionExpired   Type = "session_expired"
	TypeConsentRecorded  Type = "consent_recorded"
	TypeConsentWithdrawn Type = "consent_withdrawn"
)

// Entry is one pending event in the outbox.
type Entry struct {
	ID            id.EventID
	AggregateType string // "session" or "consent"
	AggregateID   string
	Type          Type
	Payload       json.RawMessage
	CreatedAt     time.Time
	DeliveredAt   *time.Time // nil = pending
}

// IsPending returns true when the entry has not been delivered yet.
func (e *Entry) IsPending() bool {
	return e.DeliveredAt == nil
}

// NewEntry creates an outbox entry, JSON-encoding the payload.
func NewEntry(aggregateType, aggregateID string, eventType Type, payload any) (*Entry, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode event payload: %w", err)
		}
		raw = encoded
	}
	return &Entry{
		ID:            id.NewEventID(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       raw,
		CreatedAt:     time.Now(),
	}, nil
}

// Store defines outbox persistence. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append adds a new entry to the outbox.
	Append(ctx context.Context, entry *Entry) error

	// FetchUndelivered returns up to limit pending entries, oldest first.
	FetchUndelivered(ctx context.Context, limit int) ([]*Entry, error)

	// MarkDelivered marks an entry as handed to the listeners.
	MarkDelivered(ctx context.Context, eventID id.EventID, deliveredAt time.Time) error

	// CountPending returns the number of undelivered entries, for health checks.
	CountPending(ctx context.Context) (int64, error)
}

// Listener receives delivered events. Implementations adapt the real-time
// delivery channel (push, websocket hub, webhook); absence of a listener for
// a session is not an error.
type Listener interface {
	Notify(ctx context.Context, entry *Entry) error
}
