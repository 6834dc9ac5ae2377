// Package models defines the consent ledger's domain objects. A consent
// record is an immutable, holder-signed statement that specific claims were
// (or were not) disclosed for a specific session. Records are never mutated
// after the fact; withdrawal supersedes a record without rewriting it.
package models

import (
	"encoding/json"
	"strings"
	"time"

	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"
)

// Decision is the holder's answer to a consent request: what was disclosed,
// whether consent was given, and the holder's signature over the decision.
type Decision struct {
	ConsentGiven   bool      `json:"consentGiven"`
	SelectedClaims []string  `json:"selectedClaims"`
	Signature      string    `json:"signature"`
	Timestamp      time.Time `json:"timestamp"`
}

// SignedPayload builds the canonical byte string the holder's signature
// covers: session id, selected claims, and decision time. Claim order is
// part of the signed content, so callers must not reorder claims between
// signing and recording.
func (d Decision) SignedPayload(sessionID id.SessionID) []byte {
	parts := []string{
		sessionID.String(),
		strings.Join(d.SelectedClaims, ","),
		d.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	return []byte(strings.Join(parts, "|"))
}

// Validate rejects structurally invalid decisions before any store or
// verifier work happens.
func (d Decision) Validate() error {
	if d.Timestamp.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "decision timestamp is required")
	}
	if d.ConsentGiven && len(d.SelectedClaims) == 0 {
		return dErrors.New(dErrors.CodeValidation, "consent given but no claims selected")
	}
	if d.Signature == "" {
		return dErrors.New(dErrors.CodeValidation, "decision signature is required")
	}
	return nil
}

// ConsentRecord is one immutable ledger entry. RequestSnapshot freezes the
// proof request as it existed at decision time so later request mutation
// cannot reinterpret a past consent.
type ConsentRecord struct {
	ID              id.ConsentID    `json:"id"`
	SessionID       id.SessionID    `json:"sessionId"`
	SubjectID       id.HolderID     `json:"subjectId"`
	CounterpartyID  id.RequesterID  `json:"counterpartyId"`
	Purpose         string          `json:"purpose"`
	RequestSnapshot json.RawMessage `json:"requestSnapshot"`
	SelectedClaims  []string        `json:"selectedClaims"`
	ConsentGiven    bool            `json:"consentGiven"`
	Signature       string          `json:"signature"`
	Timestamp       time.Time       `json:"timestamp"`
	WithdrawnAt     *time.Time      `json:"withdrawnAt,omitempty"`
}

// Active reports whether the record still stands, i.e. it has not been
// superseded by a withdrawal.
func (r *ConsentRecord) Active() bool {
	return r.WithdrawnAt == nil
}

// Clone returns a deep copy so store internals never alias caller memory.
func (r *ConsentRecord) Clone() *ConsentRecord {
	out := *r
	if r.RequestSnapshot != nil {
		out.RequestSnapshot = append(json.RawMessage(nil), r.RequestSnapshot...)
	}
	if r.SelectedClaims != nil {
		out.SelectedClaims = append([]string(nil), r.SelectedClaims...)
	}
	if r.WithdrawnAt != nil {
		at := *r.WithdrawnAt
		out.WithdrawnAt = &at
	}
	return &out
}

// PendingConsent is the handle returned when a decision is required but not
// yet made. It carries the consent id the eventual record will use, so a UI
// layer can show the request and submit the signed decision against the same
// identifier.
type PendingConsent struct {
	ConsentID   id.ConsentID    `json:"consentId"`
	HolderID    id.HolderID     `json:"holderId"`
	Request     json.RawMessage `json:"request"`
	RequestedAt time.Time       `json:"requestedAt"`
}

// Analytics aggregates recorded decisions: overall consent rate plus a
// per-purpose breakdown.
type Analytics struct {
	TotalDecisions int                    `json:"totalDecisions"`
	GrantedCount   int                    `json:"grantedCount"`
	ConsentRate    float64                `json:"consentRate"`
	ByPurpose      map[string]PurposeRate `json:"byPurpose"`
}

// PurposeRate is the consent rate for one purpose category.
type PurposeRate struct {
	Total       int     `json:"total"`
	Granted     int     `json:"granted"`
	ConsentRate float64 `json:"consentRate"`
}
