// Package consent implements the consent ledger: immutable, holder-signed
// records of disclosure decisions, one active record per session.
package consent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"proofshare/internal/audit"
	"proofshare/internal/consent/metrics"
	"proofshare/internal/consent/models"
	"proofshare/internal/consent/store"
	"proofshare/internal/events"
	"proofshare/internal/platform/tracer"
	"proofshare/internal/signing"
	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"
	"proofshare/pkg/platform/sentinel"
)

// Service is the consent ledger. It verifies decision signatures, enforces
// the one-active-record-per-session invariant, and never mutates a written
// record except to supersede it on withdrawal.
type Service struct {
	store    store.Store
	verifier signing.Verifier
	outbox   events.Store
	auditor  *audit.Publisher
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithOutbox enables domain event emission for recorded and withdrawn
// consents.
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

// WithTracer sets the tracer for consent operations.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithClock overrides the time source. Tests use this to control timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs the consent ledger service.
func NewService(st store.Store, verifier signing.Verifier, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		verifier: verifier,
		tracer:   tracer.NewNoop(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestConsent mints a pending consent handle for the holder. No record is
// written: the handle tells a UI/flow layer that a decision is required and
// fixes the consent id the eventual record will carry.
func (s *Service) RequestConsent(_ context.Context, holderID id.HolderID, request json.RawMessage) (*models.PendingConsent, error) {
	if _, err := id.ParseHolderID(holderID.String()); err != nil {
		return nil, err
	}
	if len(request) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "consent request is required")
	}
	return &models.PendingConsent{
		ConsentID:   id.NewConsentID(),
		HolderID:    holderID,
		Request:     append(json.RawMessage(nil), request...),
		RequestedAt: s.now(),
	}, nil
}

// RecordParams carries everything needed to write one consent record.
type RecordParams struct {
	ConsentID       id.ConsentID
	SessionID       id.SessionID
	SubjectID       id.HolderID
	CounterpartyID  id.RequesterID
	Purpose         string
	RequestSnapshot json.RawMessage
	Decision        models.Decision
}

// RecordConsent verifies the decision signature and appends an immutable
// record. A second record for the same consent id or the same session is
// rejected as a duplicate.
func (s *Service) RecordConsent(ctx context.Context, params RecordParams) (record *models.ConsentRecord, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentRecord,
		tracer.String(tracer.AttrSessionID, params.SessionID.String()),
		tracer.String(tracer.AttrHolderID, params.SubjectID.String()),
		tracer.Bool(tracer.AttrConsentGiven, params.Decision.ConsentGiven),
	)
	defer func() { span.End(err) }()

	if err := params.Decision.Validate(); err != nil {
		return nil, err
	}
	if params.SessionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "session id is required")
	}
	if len(params.RequestSnapshot) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "request snapshot is required")
	}

	payload := params.Decision.SignedPayload(params.SessionID)
	if err := s.verifier.Verify(ctx, params.SubjectID, payload, params.Decision.Signature); err != nil {
		s.metrics.RecordSignatureFailure()
		if dErrors.HasCode(err, dErrors.CodeInvalidSignature) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "verify consent signature")
	}

	consentID := params.ConsentID
	if consentID.IsNil() {
		consentID = id.NewConsentID()
	}
	record = &models.ConsentRecord{
		ID:              consentID,
		SessionID:       params.SessionID,
		SubjectID:       params.SubjectID,
		CounterpartyID:  params.CounterpartyID,
		Purpose:         params.Purpose,
		RequestSnapshot: params.RequestSnapshot,
		SelectedClaims:  params.Decision.SelectedClaims,
		ConsentGiven:    params.Decision.ConsentGiven,
		Signature:       params.Decision.Signature,
		Timestamp:       params.Decision.Timestamp,
	}

	if err := s.store.Append(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, dErrors.Wrap(err, dErrors.CodeDuplicateConsent, "consent already recorded for session")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "append consent record")
	}

	s.metrics.RecordDecision(record.ConsentGiven)
	s.emitEvent(ctx, events.TypeConsentRecorded, record)
	s.emitAudit(ctx, record, consentAction(record.ConsentGiven), consentDecision(record.ConsentGiven), "")

	s.logger.Info("consent recorded",
		"consent_id", record.ID,
		"session_id", record.SessionID,
		"consent_given", record.ConsentGiven,
	)
	return record, nil
}

// WithdrawConsent supersedes all active records for the subject, optionally
// limited to the given purposes. Returns how many records were superseded;
// re-withdrawing is a no-op that returns zero.
func (s *Service) WithdrawConsent(ctx context.Context, subjectID id.HolderID, purposes []string) (count int, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanConsentWithdraw,
		tracer.String(tracer.AttrHolderID, subjectID.String()),
	)
	defer func() { span.End(err) }()

	if _, err := id.ParseHolderID(subjectID.String()); err != nil {
		return 0, err
	}

	at := s.now()
	count, err = s.store.Withdraw(ctx, subjectID, purposes, at)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "withdraw consents")
	}
	if count == 0 {
		return 0, nil
	}

	s.metrics.RecordWithdrawals(count)
	if s.outbox != nil {
		entry, err := events.NewEntry("consent", subjectID.String(), events.TypeConsentWithdrawn, map[string]any{
			"subjectId":   subjectID.String(),
			"purposes":    purposes,
			"withdrawn":   count,
			"withdrawnAt": at,
		})
		if err == nil {
			if appendErr := s.outbox.Append(ctx, entry); appendErr != nil {
				s.logger.Error("failed to enqueue consent event", "error", appendErr)
			}
		}
	}
	if s.auditor != nil {
		auditErr := s.auditor.Emit(ctx, audit.Event{
			SubjectID: subjectID,
			Action:    audit.ActionConsentWithdrawn,
			Decision:  audit.DecisionWithdrawn,
		})
		if auditErr != nil {
			s.logger.Error("failed to emit audit event", "error", auditErr)
		}
	}

	s.logger.Info("consent withdrawn", "subject_id", subjectID, "count", count)
	return count, nil
}

// GetRecord returns one consent record by id.
func (s *Service) GetRecord(ctx context.Context, consentID id.ConsentID) (*models.ConsentRecord, error) {
	record, err := s.store.FindByID(ctx, consentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "consent record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find consent record")
	}
	return record, nil
}

// GetActiveForSession returns the active consent record bound to a session.
func (s *Service) GetActiveForSession(ctx context.Context, sessionID id.SessionID) (*models.ConsentRecord, error) {
	record, err := s.store.FindActiveBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "no active consent for session")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find consent for session")
	}
	return record, nil
}

// GetConsentAnalytics aggregates recorded decisions into an overall consent
// rate plus a per-purpose breakdown. Withdrawn records still count as
// decisions; withdrawal changes standing, not history.
func (s *Service) GetConsentAnalytics(ctx context.Context) (*models.Analytics, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list consent records")
	}

	analytics := &models.Analytics{ByPurpose: make(map[string]models.PurposeRate)}
	for _, record := range records {
		analytics.TotalDecisions++
		rate := analytics.ByPurpose[record.Purpose]
		rate.Total++
		if record.ConsentGiven {
			analytics.GrantedCount++
			rate.Granted++
		}
		if rate.Total > 0 {
			rate.ConsentRate = float64(rate.Granted) / float64(rate.Total)
		}
		analytics.ByPurpose[record.Purpose] = rate
	}
	if analytics.TotalDecisions > 0 {
		analytics.ConsentRate = float64(analytics.GrantedCount) / float64(analytics.TotalDecisions)
	}
	return analytics, nil
}

func (s *Service) emitEvent(ctx context.Context, eventType events.Type, record *models.ConsentRecord) {
	if s.outbox == nil {
		return
	}
	entry, err := events.NewEntry("consent", record.ID.String(), eventType, record)
	if err != nil {
		s.logger.Error("failed to build consent event", "error", err)
		return
	}
	if err := s.outbox.Append(ctx, entry); err != nil {
		s.logger.Error("failed to enqueue consent event", "error", err)
	}
}

func (s *Service) emitAudit(ctx context.Context, record *models.ConsentRecord, action, decision, reason string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.Event{
		SessionID:    record.SessionID,
		SubjectID:    record.SubjectID,
		Counterparty: record.CounterpartyID,
		Action:       action,
		Purpose:      record.Purpose,
		Decision:     decision,
		Reason:       reason,
	})
	if err != nil {
		s.logger.Error("failed to emit audit event", "error", err)
	}
}

func consentAction(given bool) string {
	if given {
		return audit.ActionConsentRecorded
	}
	return audit.ActionConsentDenied
}

func consentDecision(given bool) string {
	if given {
		return audit.DecisionGranted
	}
	return audit.DecisionDenied
}
