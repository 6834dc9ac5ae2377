package models

import (
	"encoding/json"
	"fmt"
	"time"

	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"
)

// Kind describes how a session reaches the holder.
type Kind string

const (
	KindVisualCode     Kind = "visual_code"     // scanned from a rendered code
	KindIdentityLinked Kind = "identity_linked" // pre-bound to a known holder
	KindDirect         Kind = "direct"          // exchanged over an existing channel
	KindProgrammatic   Kind = "programmatic"    // machine-to-machine
)

// ValidKinds is the single source of truth for supported session kinds.
var ValidKinds = map[Kind]bool{
	KindVisualCode:     true,
	KindIdentityLinked: true,
	KindDirect:         true,
	KindProgrammatic:   true,
}

// IsValid checks if the kind is one of the supported enum values.
func (k Kind) IsValid() bool {
	return ValidKinds[k]
}

// Status represents the lifecycle state of a sharing session.
type Status string

const (
	StatusCreated   Status = "created"
	StatusActivated Status = "activated"
	StatusResponded Status = "responded"
	StatusCompleted Status = "completed"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
)

// IsValid checks if the status is one of the supported enum values.
func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusActivated, StatusResponded, StatusCompleted, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRevoked || s == StatusExpired
}

// TTL bounds for sharing sessions. A code that lives under a minute cannot be
// scanned reliably; one that lives past a day defeats the point of short-lived
// sharing.
const (
	MinTTL = 1 * time.Minute
	MaxTTL = 24 * time.Hour
)

// RequesterInfo describes the verifying party asking for proof.
type RequesterInfo struct {
	ID   id.RequesterID `json:"id"`
	Name string         `json:"name,omitempty"`
}

// ProofItem is one requested disclosure: which proof domain and operation the
// requester wants, under which constraints, and why.
type ProofItem struct {
	Domain      string         `json:"domain"`              // e.g. "age_verification"
	Operation   string         `json:"operation"`           // e.g. "greater_than"
	Constraints map[string]any `json:"constraints,omitempty"`
	Required    bool           `json:"required"`
	Reason      string         `json:"reason,omitempty"`
}

// ProofRequest is the verifier's side of a session: what is being asked and why.
type ProofRequest struct {
	Requester RequesterInfo `json:"requester"`
	Items     []ProofItem   `json:"items"`
	Purpose   string        `json:"purpose"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Validate enforces the creation invariants: at least one requested item with
// a domain and operation, and a non-empty purpose.
func (r ProofRequest) Validate() error {
	if r.Requester.ID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "requester ID is required")
	}
	if len(r.Items) == 0 {
		return dErrors.New(dErrors.CodeValidation, "request must contain at least one proof item")
	}
	if r.Purpose == "" {
		return dErrors.New(dErrors.CodeValidation, "request purpose is required")
	}
	for i, item := range r.Items {
		if item.Domain == "" || item.Operation == "" {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("proof item %d missing domain or operation", i))
		}
	}
	return nil
}

// Snapshot serializes the request into an immutable byte copy. Consent records
// reference the snapshot so later request shape changes can never reinterpret
// a past decision.
func (r ProofRequest) Snapshot() (json.RawMessage, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "snapshot request")
	}
	return raw, nil
}

// SharedProof is an opaque proof reference disclosed by the holder. The proof
// bytes are produced and verified by the proof engine; this service never
// inspects them.
type SharedProof struct {
	Domain    string          `json:"domain"`
	Operation string          `json:"operation"`
	ProofID   string          `json:"proof_id,omitempty"`
	Proof     json.RawMessage `json:"proof,omitempty"`
}

// Response is the holder's reply to a session.
type Response struct {
	SharedProofs []SharedProof `json:"shared_proofs"`
	ConsentGiven bool          `json:"consent_given"`
	RespondedAt  time.Time     `json:"responded_at"`
}

// Validate rejects contradictory replies: consenting while disclosing nothing.
func (r Response) Validate() error {
	if r.ConsentGiven && len(r.SharedProofs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "consent given but no proofs shared")
	}
	return nil
}

// Session coordinates one proof-request/response exchange between a requester
// and a holder.
//
// # Concurrency Invariant
//
// All transitions for one session id are serialized by the service's per-key
// lock, and every store Update carries the Version the caller read. A stale
// Version makes the store return ErrConflict, so two racing writers can never
// both commit.
type Session struct {
	ID       id.SessionID
	Kind     Kind
	Status   Status
	Request  ProofRequest
	Response *Response
	// HolderID is bound on activation and empty while Status == created.
	HolderID id.HolderID
	// RevokeReason is set only when Status == revoked.
	RevokeReason string
	TTL          time.Duration
	CreatedAt    time.Time
	ExpiresAt    time.Time
	// Version is the optimistic concurrency token; stores bump it on update.
	Version int64
}

// NewSession builds a session in the created state with invariant checks.
// A zero ttl selects defaultTTL.
func NewSession(request ProofRequest, kind Kind, ttl, defaultTTL time.Duration, now time.Time) (*Session, error) {
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid session kind: %s", kind))
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}
	if ttl == 0 {
		ttl = defaultTTL
	}
	if ttl < MinTTL || ttl > MaxTTL {
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("ttl %s outside allowed range [%s, %s]", ttl, MinTTL, MaxTTL))
	}

	request.CreatedAt = now
	request.ExpiresAt = now.Add(ttl)

	return &Session{
		ID:        id.NewSessionID(),
		Kind:      kind,
		Status:    StatusCreated,
		Request:   request,
		TTL:       ttl,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// IsExpired reports whether the session's TTL has elapsed at the given time.
// ExpiresAt is immutable after creation, so this check is pure.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ExpireIfDue performs the lazy expiry transition. Returns true when the
// session moved to expired. Terminal sessions keep their state: a completed
// exchange stays completed even after the TTL elapses.
func (s *Session) ExpireIfDue(now time.Time) bool {
	if s.Status.IsTerminal() {
		return false
	}
	if !s.IsExpired(now) {
		return false
	}
	s.Status = StatusExpired
	return true
}

// Clone returns a deep-enough copy for store copy-in/copy-out semantics.
// Request item maps and proof blobs are treated as immutable once stored.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Request.Items = append([]ProofItem(nil), s.Request.Items...)
	if s.Response != nil {
		resp := *s.Response
		resp.SharedProofs = append([]SharedProof(nil), s.Response.SharedProofs...)
		clone.Response = &resp
	}
	return &clone
}

// Filter narrows ListSessions results.
type Filter struct {
	Status    *Status
	Requester *id.RequesterID
	Holder    *id.HolderID
	// Domain matches sessions whose request contains at least one item in the
	// given proof domain.
	Domain *string
}

// Matches applies the filter to a session.
func (f *Filter) Matches(s *Session) bool {
	if f == nil {
		return true
	}
	if f.Status != nil && s.Status != *f.Status {
		return false
	}
	if f.Requester != nil && s.Request.Requester.ID != *f.Requester {
		return false
	}
	if f.Holder != nil && s.HolderID != *f.Holder {
		return false
	}
	if f.Domain != nil {
		found := false
		for _, item := range s.Request.Items {
			if item.Domain == *f.Domain {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Stats aggregates session counts for the analytics endpoint.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	// CompletionRate is completed / (total - sessions never picked up).
	CompletionRate float64 `json:"completion_rate"`
	// AvgTimeToResponse averages RespondedAt - CreatedAt over answered sessions.
	AvgTimeToResponse time.Duration `json:"avg_time_to_response_ns"`
}

// Analytics extends Stats with kind and proof-domain breakdowns.
type Analytics struct {
	Stats
	ByKind   map[Kind]int   `json:"by_kind"`
	ByDomain map[string]int `json:"by_domain"`
}
