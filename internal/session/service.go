// Package session implements the session manager: it owns the session state
// machine and is the sole mutator of session state and the sole caller of
// the consent ledger and the payload codec.
//
// # State Machine
//
//	created → activated → responded → completed
//
// Any non-terminal state can move to revoked. Any non-terminal state moves
// to expired the moment a read or write finds the TTL elapsed; expiry is
// evaluated lazily under the same per-session lock as the operation itself,
// so there is no window between "is it expired" and "act on it".
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"proofshare/internal/audit"
	"proofshare/internal/consent"
	consentmodels "proofshare/internal/consent/models"
	"proofshare/internal/events"
	"proofshare/internal/payload"
	"proofshare/internal/platform/tracer"
	"proofshare/internal/session/metrics"
	"proofshare/internal/session/models"
	"proofshare/internal/session/store"
	"proofshare/internal/session/store/idempotency"
	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"
	"proofshare/pkg/platform/sentinel"
	psync "proofshare/pkg/platform/sync"
)

// ConsentLedger is the slice of the consent service the session manager
// needs: recording a decision during respond.
type ConsentLedger interface {
	RecordConsent(ctx context.Context, params consent.RecordParams) (*consentmodels.ConsentRecord, error)
}

// Service is the session manager.
type Service struct {
	store       store.Store
	consents    ConsentLedger
	codec       *payload.Codec
	idempotency idempotency.Store
	outbox      events.Store
	auditor     *audit.Publisher
	metrics     *metrics.Metrics
	tracer      tracer.Tracer
	logger      *slog.Logger
	locks       *psync.KeyedMutex
	defaultTTL  time.Duration
	now         func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithConsentLedger wires the consent ledger used on respond.
func WithConsentLedger(ledger ConsentLedger) Option {
	return func(s *Service) { s.consents = ledger }
}

// WithCodec overrides the payload codec.
func WithCodec(codec *payload.Codec) Option {
	return func(s *Service) { s.codec = codec }
}

// WithIdempotencyStore enables create-session deduplication.
func WithIdempotencyStore(st idempotency.Store) Option {
	return func(s *Service) { s.idempotency = st }
}

// WithOutbox enables domain event emission.
func WithOutbox(outbox events.Store) Option {
	return func(s *Service) { s.outbox = outbox }
}

// WithAuditor enables audit trail emission.
func WithAuditor(auditor *audit.Publisher) Option {
	return func(s *Service) { s.auditor = auditor }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer for session operations.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithDefaultTTL sets the TTL applied when a create call omits one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) { s.defaultTTL = ttl }
}

// WithClock overrides the time source. Tests use this to force expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs the session manager.
func NewService(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      st,
		codec:      payload.NewCodec(),
		tracer:     tracer.NewNoop(),
		logger:     logger,
		locks:      psync.NewKeyedMutex(),
		defaultTTL: 5 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams carries a create-session call.
type CreateParams struct {
	Request models.ProofRequest
	Kind    models.Kind
	// TTL bounds the session lifetime; zero selects the default policy value.
	TTL time.Duration
	// IdempotencyKey deduplicates retried creates. Optional.
	IdempotencyKey string
	// PayloadHints configure how the visual code is rendered, never what it
	// contains.
	PayloadHints payload.Options
}

// CreateResult is a created session plus its scannable payload.
type CreateResult struct {
	Session *models.Session
	Payload *payload.Encoded
}

// CreateSession validates the request, persists a session in the created
// state, and produces the scannable payload. A retried create with the same
// idempotency key returns the original session.
func (s *Service) CreateSession(ctx context.Context, params CreateParams) (result *CreateResult, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanSessionCreate,
		tracer.String(tracer.AttrSessionKind, string(params.Kind)),
	)
	defer func() { span.End(err) }()

	if params.IdempotencyKey != "" && s.idempotency != nil {
		sessionID, found, err := s.idempotency.Get(ctx, params.IdempotencyKey)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "idempotency lookup")
		}
		if found {
			existing, err := s.GetSession(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			encoded, err := s.encodeFor(existing, params.PayloadHints)
			if err != nil {
				return nil, err
			}
			return &CreateResult{Session: existing, Payload: encoded}, nil
		}
	}

	session, err := models.NewSession(params.Request, params.Kind, params.TTL, s.defaultTTL, s.now())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.String(tracer.AttrSessionID, session.ID.String()))

	if err := s.store.Create(ctx, session); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "session id collision")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create session")
	}

	if params.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.Set(ctx, params.IdempotencyKey, session.ID); err != nil {
			s.logger.Error("failed to record idempotency key", "error", err, "session_id", session.ID)
		}
	}

	encoded, err := s.encodeFor(session, params.PayloadHints)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementSessionsCreated(string(session.Kind))
	}
	s.emitEvent(ctx, events.TypeSessionCreated, session)
	s.emitAudit(ctx, session, audit.ActionSessionCreated, "", "")

	s.logger.Info("session created",
		"session_id", session.ID,
		"kind", session.Kind,
		"ttl", session.TTL,
		"embedded_payload", encoded.Embedded,
	)
	return &CreateResult{Session: session, Payload: encoded}, nil
}

// ActivateSession binds a holder to a session and moves it to activated.
// Exactly one caller wins a concurrent activation race: a repeat by the same
// holder is an idempotent no-op, a different holder observes a conflict.
func (s *Service) ActivateSession(ctx context.Context, sessionID id.SessionID, holderID id.HolderID) (session *models.Session, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanSessionActivate,
		tracer.String(tracer.AttrSessionID, sessionID.String()),
		tracer.String(tracer.AttrHolderID, holderID.String()),
	)
	defer func() { span.End(err) }()

	s.locks.Do(sessionID.String(), func() {
		session, err = s.activateLocked(ctx, sessionID, holderID)
	})
	return session, err
}

func (s *Service) activateLocked(ctx context.Context, sessionID id.SessionID, holderID id.HolderID) (*models.Session, error) {
	session, err := s.loadForTransition(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == models.StatusActivated {
		if session.HolderID == holderID {
			// Idempotent repeat by the winning holder.
			return session, nil
		}
		return nil, dErrors.New(dErrors.CodeConflict,
			"session already activated by another holder")
	}
	if session.Status != models.StatusCreated {
		return nil, s.invalidTransition(session.Status, "activate")
	}

	session.HolderID = holderID
	session.Status = models.StatusActivated
	if err := s.commit(ctx, session); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementSessionsActivated()
	}
	s.emitEvent(ctx, events.TypeSessionActivated, session)
	s.emitAudit(ctx, session, audit.ActionSessionActivated, "", "")

	s.logger.Info("session activated", "session_id", session.ID, "holder_id", session.HolderID)
	return session, nil
}

// RespondParams carries the holder's reply to an activated session.
type RespondParams struct {
	HolderID id.HolderID
	Response models.Response
	// SelectedClaims names the claims the holder agreed to disclose. Defaults
	// to the shared proof domains when omitted.
	SelectedClaims []string
	// Signature is the holder's signature over the consent decision. Required
	// when consent is given.
	Signature string
}

// RespondToSession accepts the holder's response. When consent is given, a
// consent record is written before the session transitions; the session then
// moves through responded to completed as two distinct persisted states so a
// polling verifier can observe the intermediate one.
func (s *Service) RespondToSession(ctx context.Context, sessionID id.SessionID, params RespondParams) (session *models.Session, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanSessionRespond,
		tracer.String(tracer.AttrSessionID, sessionID.String()),
		tracer.String(tracer.AttrHolderID, params.HolderID.String()),
		tracer.Bool(tracer.AttrConsentGiven, params.Response.ConsentGiven),
	)
	defer func() { span.End(err) }()

	s.locks.Do(sessionID.String(), func() {
		session, err = s.respondLocked(ctx, sessionID, params)
	})
	return session, err
}

func (s *Service) respondLocked(ctx context.Context, sessionID id.SessionID, params RespondParams) (*models.Session, error) {
	session, err := s.loadForTransition(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusActivated {
		return nil, s.invalidTransition(session.Status, "respond")
	}
	if session.HolderID != "" && session.HolderID != params.HolderID {
		return nil, dErrors.New(dErrors.CodeConflict,
			"session is bound to a different holder")
	}
	if err := params.Response.Validate(); err != nil {
		return nil, err
	}

	response := params.Response
	if response.RespondedAt.IsZero() {
		response.RespondedAt = s.now()
	}

	// Consent is written before the transition: a ledger failure leaves the
	// session activated and retryable, never completed without a record.
	if response.ConsentGiven {
		if s.consents == nil {
			return nil, dErrors.New(dErrors.CodeInternal, "consent ledger not configured")
		}
		snapshot, err := session.Request.Snapshot()
		if err != nil {
			return nil, err
		}
		claims := params.SelectedClaims
		if len(claims) == 0 {
			claims = sharedDomains(response.SharedProofs)
		}
		_, err = s.consents.RecordConsent(ctx, consent.RecordParams{
			SessionID:       session.ID,
			SubjectID:       params.HolderID,
			CounterpartyID:  session.Request.Requester.ID,
			Purpose:         session.Request.Purpose,
			RequestSnapshot: snapshot,
			Decision: consentmodels.Decision{
				ConsentGiven:   true,
				SelectedClaims: claims,
				Signature:      params.Signature,
				Timestamp:      response.RespondedAt,
			},
		})
		if err != nil {
			return nil, err
		}
	}

	session.HolderID = params.HolderID
	session.Response = &response
	session.Status = models.StatusResponded
	if err := s.commit(ctx, session); err != nil {
		return nil, err
	}
	s.emitEvent(ctx, events.TypeSessionResponded, session)

	// Finalize: responded → completed is deterministic, but both states are
	// persisted for audit granularity.
	session.Status = models.StatusCompleted
	if err := s.commit(ctx, session); err != nil {
		return nil, err
	}
	s.emitEvent(ctx, events.TypeSessionCompleted, session)

	if s.metrics != nil {
		s.metrics.IncrementSessionsCompleted()
		s.metrics.ObserveTimeToResponse(response.RespondedAt.Sub(session.CreatedAt).Seconds())
	}

	s.logger.Info("session completed",
		"session_id", session.ID,
		"consent_given", response.ConsentGiven,
		"shared_proofs", len(response.SharedProofs),
	)
	return session, nil
}

// RevokeSession terminates a session from any non-terminal state.
func (s *Service) RevokeSession(ctx context.Context, sessionID id.SessionID, reason string) (session *models.Session, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanSessionRevoke,
		tracer.String(tracer.AttrSessionID, sessionID.String()),
	)
	defer func() { span.End(err) }()

	s.locks.Do(sessionID.String(), func() {
		session, err = s.revokeLocked(ctx, sessionID, reason)
	})
	return session, err
}

func (s *Service) revokeLocked(ctx context.Context, sessionID id.SessionID, reason string) (*models.Session, error) {
	session, err := s.loadAndExpire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, s.invalidTransition(session.Status, "revoke")
	}

	session.Status = models.StatusRevoked
	session.RevokeReason = reason
	if err := s.commit(ctx, session); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementSessionsRevoked()
	}
	s.emitEvent(ctx, events.TypeSessionRevoked, session)
	s.emitAudit(ctx, session, audit.ActionSessionRevoked, "", reason)

	s.logger.Info("session revoked", "session_id", session.ID, "reason", reason)
	return session, nil
}

// GetSession returns a session by id, applying lazy expiry first. Expired
// sessions remain readable with status expired; only transition operations
// treat them as gone.
func (s *Service) GetSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	var session *models.Session
	var err error
	s.locks.Do(sessionID.String(), func() {
		session, err = s.loadAndExpire(ctx, sessionID)
	})
	return session, err
}

// ListSessions returns sessions matching the filter, newest first. Every
// result passes through the lazy-expiry check before being returned, and the
// filter is re-applied afterwards so a just-expired session never leaks into
// a status-filtered listing under its stale status.
func (s *Service) ListSessions(ctx context.Context, filter *models.Filter) ([]*models.Session, error) {
	sessions, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list sessions")
	}

	out := make([]*models.Session, 0, len(sessions))
	for _, session := range sessions {
		if !session.Status.IsTerminal() && session.IsExpired(s.now()) {
			refreshed, err := s.GetSession(ctx, session.ID)
			if err != nil {
				return nil, err
			}
			session = refreshed
		}
		if filter.Matches(session) {
			out = append(out, session)
		}
	}
	return out, nil
}

// GetStats aggregates session counts, the completion rate, and the average
// time to response.
func (s *Service) GetStats(ctx context.Context) (*models.Stats, error) {
	sessions, err := s.ListSessions(ctx, nil)
	if err != nil {
		return nil, err
	}
	stats := computeStats(sessions)
	return &stats, nil
}

// GetAnalytics extends the stats with per-kind and per-domain breakdowns.
func (s *Service) GetAnalytics(ctx context.Context) (*models.Analytics, error) {
	sessions, err := s.ListSessions(ctx, nil)
	if err != nil {
		return nil, err
	}

	analytics := &models.Analytics{
		Stats:    computeStats(sessions),
		ByKind:   make(map[models.Kind]int),
		ByDomain: make(map[string]int),
	}
	for _, session := range sessions {
		analytics.ByKind[session.Kind]++
		for _, item := range session.Request.Items {
			analytics.ByDomain[item.Domain]++
		}
	}
	return analytics, nil
}

// EncodeSessionPayload re-encodes the scannable payload for an existing
// session, e.g. when a client needs a fresh rendering.
func (s *Service) EncodeSessionPayload(ctx context.Context, sessionID id.SessionID, hints payload.Options) (*payload.Encoded, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.encodeFor(session, hints)
}

// ResolvedPayload is a parsed payload enriched with session context for
// invitation references, so a scanning client learns in one round trip
// whether the referenced session is still actionable.
type ResolvedPayload struct {
	Parsed        *payload.Parsed
	SessionExists bool
	SessionStatus models.Status
}

// ResolvePayload parses a scanned payload and, for invitations, resolves the
// referenced session. A reference to a vanished or terminal session is not
// an error; it is surfaced as context for the caller to render.
func (s *Service) ResolvePayload(ctx context.Context, raw []byte) (*ResolvedPayload, error) {
	parsed, err := s.codec.Parse(raw)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedPayload{Parsed: parsed}
	if parsed.Type == payload.TypeInvitation {
		session, err := s.GetSession(ctx, parsed.Reference.SessionID)
		switch {
		case err == nil:
			resolved.SessionExists = true
			resolved.SessionStatus = session.Status
		case dErrors.HasCode(err, dErrors.CodeNotFound):
			// Surfaced as context, not an error.
		default:
			return nil, err
		}
	}
	return resolved, nil
}

// loadForTransition loads a session for a state-changing operation. Expired
// sessions reject transitions with a dedicated code, with the expiry
// persisted first; reads still return them as status expired.
func (s *Service) loadForTransition(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	session, err := s.loadAndExpire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.StatusExpired {
		return nil, dErrors.New(dErrors.CodeSessionExpired, "session has expired")
	}
	return session, nil
}

// loadAndExpire fetches a session and applies the lazy expiry transition,
// persisting it when it fires. Callers must hold the session's lock.
func (s *Service) loadAndExpire(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	session, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find session")
	}

	if session.ExpireIfDue(s.now()) {
		if err := s.commit(ctx, session); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.IncrementSessionsExpired()
		}
		s.emitEvent(ctx, events.TypeSessionExpired, session)
		s.emitAudit(ctx, session, audit.ActionSessionExpired, "", "")
		s.logger.Info("session expired", "session_id", session.ID)
	}
	return session, nil
}

func (s *Service) commit(ctx context.Context, session *models.Session) error {
	if err := s.store.Update(ctx, session); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.Wrap(err, dErrors.CodeNotFound, "session not found")
		case errors.Is(err, sentinel.ErrConflict):
			return dErrors.Wrap(err, dErrors.CodeConflict, "session was modified concurrently")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "update session")
	}
	return nil
}

func (s *Service) encodeFor(session *models.Session, hints payload.Options) (*payload.Encoded, error) {
	return s.codec.EncodeRequest(&session.Request, session.ID, hints)
}

func (s *Service) invalidTransition(current models.Status, attempted string) error {
	if s.metrics != nil {
		s.metrics.IncrementTransitionDenied(string(current))
	}
	return dErrors.New(dErrors.CodeInvalidTransition,
		fmt.Sprintf("cannot %s session in status %q", attempted, current))
}

func (s *Service) emitEvent(ctx context.Context, eventType events.Type, session *models.Session) {
	if s.outbox == nil {
		return
	}
	entry, err := events.NewEntry("session", session.ID.String(), eventType, sessionEventPayload(session))
	if err != nil {
		s.logger.Error("failed to build session event", "error", err, "session_id", session.ID)
		return
	}
	if err := s.outbox.Append(ctx, entry); err != nil {
		s.logger.Error("failed to enqueue session event", "error", err, "session_id", session.ID)
	}
}

func (s *Service) emitAudit(ctx context.Context, session *models.Session, action, decision, reason string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.Event{
		SessionID:    session.ID,
		SubjectID:    session.HolderID,
		Counterparty: session.Request.Requester.ID,
		Action:       action,
		Purpose:      session.Request.Purpose,
		Decision:     decision,
		Reason:       reason,
	})
	if err != nil {
		s.logger.Error("failed to emit audit event", "error", err, "session_id", session.ID)
	}
}

func sessionEventPayload(session *models.Session) map[string]any {
	return map[string]any{
		"sessionId": session.ID.String(),
		"kind":      session.Kind,
		"status":    session.Status,
		"holderId":  session.HolderID.String(),
	}
}

func computeStats(sessions []*models.Session) models.Stats {
	stats := models.Stats{ByStatus: make(map[models.Status]int)}
	var totalResponseTime time.Duration
	var responded int
	for _, session := range sessions {
		stats.Total++
		stats.ByStatus[session.Status]++
		if session.Response != nil {
			totalResponseTime += session.Response.RespondedAt.Sub(session.CreatedAt)
			responded++
		}
	}
	// Sessions never picked up by a holder do not count against completion.
	pickedUp := stats.Total - stats.ByStatus[models.StatusCreated]
	if pickedUp > 0 {
		stats.CompletionRate = float64(stats.ByStatus[models.StatusCompleted]) / float64(pickedUp)
	}
	if responded > 0 {
		stats.AvgTimeToResponse = totalResponseTime / time.Duration(responded)
	}
	return stats
}

func sharedDomains(proofs []models.SharedProof) []string {
	domains := make([]string, 0, len(proofs))
	for _, proof := range proofs {
		domains = append(domains, proof.Domain)
	}
	return domains
}
