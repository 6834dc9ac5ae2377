// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "proofshare/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a ConsentID where a SessionID is expected.
type (
	SessionID uuid.UUID
	ConsentID uuid.UUID
	EventID   uuid.UUID
)

// HolderID identifies the credential holder. Holders are addressed by
// DID-style strings (e.g. "did:persona:1a2b...") rather than UUIDs because
// the identifier is minted by the wallet, not by this service.
type HolderID string

// RequesterID identifies the verifying party asking for proof.
type RequesterID string

// NewSessionID mints a random session identifier.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewConsentID mints a random consent identifier.
func NewConsentID() ConsentID { return ConsentID(uuid.New()) }

// NewEventID mints a random outbox event identifier.
func NewEventID() EventID { return EventID(uuid.New()) }

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseSessionID(s string) (SessionID, error) {
	id, err := parseUUID(s, "session ID")
	return SessionID(id), err
}

func ParseConsentID(s string) (ConsentID, error) {
	id, err := parseUUID(s, "consent ID")
	return ConsentID(id), err
}

// ParseHolderID validates a holder identifier. Any non-empty token without
// whitespace is accepted; DID resolution is a collaborator concern.
func ParseHolderID(s string) (HolderID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "holder ID cannot be empty")
	}
	if strings.ContainsAny(s, " \t\n") {
		return "", dErrors.New(dErrors.CodeValidation, "holder ID must not contain whitespace")
	}
	return HolderID(s), nil
}

// String methods - for logging and debugging.

func (id SessionID) String() string   { return uuid.UUID(id).String() }
func (id ConsentID) String() string   { return uuid.UUID(id).String() }
func (id EventID) String() string     { return uuid.UUID(id).String() }
func (id HolderID) String() string    { return string(id) }
func (id RequesterID) String() string { return string(id) }

// Text marshaling - IDs travel as canonical uuid strings in JSON.

func (id SessionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id ConsentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }

func (id *SessionID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = SessionID(parsed)
	return nil
}

func (id *ConsentID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = ConsentID(parsed)
	return nil
}

func (id *EventID) UnmarshalText(text []byte) error {
	parsed, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*id = EventID(parsed)
	return nil
}

// IsNil checks - used for service-layer validation.

func (id SessionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id HolderID) IsNil() bool    { return id == "" }
func (id RequesterID) IsNil() bool { return id == "" }

// parseUUID is the shared validation logic. Nil UUIDs are allowed here so
// store lookups can return proper "not found" errors; use IsNil() at the
// service layer for business validation.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "invalid "+label+" format")
	}
	return id, nil
}
