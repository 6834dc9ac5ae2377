package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"proofshare/internal/consent"
	consentmodels "proofshare/internal/consent/models"
	consentstore "proofshare/internal/consent/store"
	"proofshare/internal/events"
	"proofshare/internal/payload"
	"proofshare/internal/session/models"
	"proofshare/internal/session/store"
	"proofshare/internal/session/store/idempotency"
	"proofshare/internal/signing"
	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"
	"proofshare/pkg/testutil"
)

const holderKey = "test-signing-key-32-bytes-long!!"

type ServiceSuite struct {
	suite.Suite

	now      time.Time
	store    *store.InMemoryStore
	consents *consentstore.InMemoryStore
	ledger   *consent.Service
	outbox   *events.InMemoryStore
	signer   *signing.JWTSigner
	svc      *Service
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }

	keys := signing.StaticKeys{
		"did:persona:h1": []byte(holderKey),
		"did:persona:h2": []byte(holderKey),
	}
	s.signer = signing.NewJWTSigner(keys)
	s.store = store.New()
	s.consents = consentstore.New()
	s.outbox = events.NewInMemoryStore()
	s.ledger = consent.NewService(s.consents, signing.NewJWTVerifier(keys), logger,
		consent.WithClock(clock))
	s.svc = NewService(s.store, logger,
		WithConsentLedger(s.ledger),
		WithOutbox(s.outbox),
		WithIdempotencyStore(idempotency.NewInMemory(10*time.Minute)),
		WithDefaultTTL(5*time.Minute),
		WithClock(clock),
	)
}

func (s *ServiceSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *ServiceSuite) request() models.ProofRequest {
	return models.ProofRequest{
		Requester: models.RequesterInfo{ID: "req-1", Name: "Acme Checkout"},
		Items: []models.ProofItem{{
			Domain:    "age_verification",
			Operation: "greater_than",
			Required:  true,
			Reason:    "must be over 18",
		}},
		Purpose: "age_verification",
	}
}

func (s *ServiceSuite) create(ttl time.Duration) *models.Session {
	result, err := s.svc.CreateSession(context.Background(), CreateParams{
		Request: s.request(),
		Kind:    models.KindVisualCode,
		TTL:     ttl,
	})
	s.Require().NoError(err)
	return result.Session
}

func (s *ServiceSuite) respondParams(holder id.HolderID, given bool) RespondParams {
	params := RespondParams{
		HolderID: holder,
		Response: models.Response{
			ConsentGiven: given,
			RespondedAt:  s.now,
		},
	}
	if given {
		params.Response.SharedProofs = []models.SharedProof{{
			Domain:    "age_verification",
			Operation: "greater_than",
			ProofID:   "proof-1",
		}}
		params.SelectedClaims = []string{"age_verification"}
	}
	return params
}

func (s *ServiceSuite) sign(sessionID id.SessionID, holder id.HolderID, params *RespondParams) {
	decision := consentmodels.Decision{
		ConsentGiven:   params.Response.ConsentGiven,
		SelectedClaims: params.SelectedClaims,
		Timestamp:      params.Response.RespondedAt,
	}
	sig, err := s.signer.Sign(context.Background(), holder, decision.SignedPayload(sessionID))
	s.Require().NoError(err)
	params.Signature = sig
}

func (s *ServiceSuite) TestCreateVisualCodeSessionEmbedsSmallRequest() {
	result, err := s.svc.CreateSession(context.Background(), CreateParams{
		Request: s.request(),
		Kind:    models.KindVisualCode,
		TTL:     time.Minute,
	})
	s.Require().NoError(err)

	session := result.Session
	s.Equal(models.StatusCreated, session.Status)
	s.Equal(models.KindVisualCode, session.Kind)
	s.Equal(s.now.Add(time.Minute), session.ExpiresAt)
	s.True(result.Payload.Embedded)
	s.Equal(payload.TypeRequest, result.Payload.Envelope.Type)
}

func (s *ServiceSuite) TestCreateRejectsEmptyRequest() {
	_, err := s.svc.CreateSession(context.Background(), CreateParams{
		Request: models.ProofRequest{
			Requester: models.RequesterInfo{ID: "req-1"},
			Purpose:   "age_verification",
		},
		Kind: models.KindVisualCode,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestCreateRejectsTTLOutOfBounds() {
	_, err := s.svc.CreateSession(context.Background(), CreateParams{
		Request: s.request(),
		Kind:    models.KindVisualCode,
		TTL:     30 * time.Second,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.CreateSession(context.Background(), CreateParams{
		Request: s.request(),
		Kind:    models.KindVisualCode,
		TTL:     25 * time.Hour,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestCreateIdempotencyKeyReturnsSameSession() {
	params := CreateParams{
		Request:        s.request(),
		Kind:           models.KindVisualCode,
		IdempotencyKey: "retry-1",
	}
	first, err := s.svc.CreateSession(context.Background(), params)
	s.Require().NoError(err)

	second, err := s.svc.CreateSession(context.Background(), params)
	s.Require().NoError(err)
	s.Equal(first.Session.ID, second.Session.ID)

	sessions, err := s.svc.ListSessions(context.Background(), nil)
	s.Require().NoError(err)
	s.Len(sessions, 1)
}

func (s *ServiceSuite) TestOversizedRequestFallsBackToInvitation() {
	request := s.request()
	padding := make([]byte, 5000)
	for i := range padding {
		padding[i] = 'x'
	}
	request.Items[0].Reason = string(padding)

	result, err := s.svc.CreateSession(context.Background(), CreateParams{
		Request: request,
		Kind:    models.KindVisualCode,
	})
	s.Require().NoError(err)
	s.False(result.Payload.Embedded)
	s.Equal(payload.TypeInvitation, result.Payload.Envelope.Type)

	// The invitation resolves back to the session with live status context.
	resolved, err := s.svc.ResolvePayload(context.Background(), []byte(result.Payload.Text))
	s.Require().NoError(err)
	s.True(resolved.SessionExists)
	s.Equal(models.StatusCreated, resolved.SessionStatus)
}

func (s *ServiceSuite) TestActivateBindsHolder() {
	session := s.create(time.Minute)

	activated, err := s.svc.ActivateSession(context.Background(), session.ID, "did:persona:h1")
	s.Require().NoError(err)
	s.Equal(models.StatusActivated, activated.Status)
	s.Equal(id.HolderID("did:persona:h1"), activated.HolderID)
}

func (s *ServiceSuite) TestActivateBySecondHolderConflicts() {
	session := s.create(time.Minute)

	_, err := s.svc.ActivateSession(context.Background(), session.ID, "did:persona:h1")
	s.Require().NoError(err)

	_, err = s.svc.ActivateSession(context.Background(), session.ID, "did:persona:h2")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestActivateBySameHolderIsIdempotent() {
	session := s.create(time.Minute)

	first, err := s.svc.ActivateSession(context.Background(), session.ID, "did:persona:h1")
	s.Require().NoError(err)

	second, err := s.svc.ActivateSession(context.Background(), session.ID, "did:persona:h1")
	s.Require().NoError(err)
	s.Equal(first.Status, second.Status)
	s.Equal(first.HolderID, second.HolderID)
}

func (s *ServiceSuite) TestActivateUnknownSession() {
	_, err := s.svc.ActivateSession(context.Background(), id.NewSessionID(), "did:persona:h1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestActivateExpiredSessionSignalsExpiry() {
	session := s.create(time.Minute)
	s.advance(2 * time.Minute)

	_, err := s.svc.ActivateSession(context.Background(), session.ID, "did:persona:h1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))

	// The session is still listable, now in the expired state.
	got, err := s.svc.GetSession(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, got.Status)
}

func (s *ServiceSuite) TestRespondWithConsentCompletesAndRecordsConsent() {
	session := s.create(time.Minute)
	holder := id.HolderID("did:persona:h1")
	_, err := s.svc.ActivateSession(context.Background(), session.ID, holder)
	s.Require().NoError(err)

	params := s.respondParams(holder, true)
	s.sign(session.ID, holder, &params)

	completed, err := s.svc.RespondToSession(context.Background(), session.ID, params)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, completed.Status)
	s.Require().NotNil(completed.Response)
	s.True(completed.Response.ConsentGiven)

	record, err := s.ledger.GetActiveForSession(context.Background(), session.ID)
	s.Require().NoError(err)
	s.True(record.ConsentGiven)
	s.Equal(holder, record.SubjectID)
	s.Equal("age_verification", record.Purpose)
	s.NotEmpty(record.RequestSnapshot)
}

func (s *ServiceSuite) TestRespondWithDenialStoresResponseWithoutConsentRecord() {
	session := s.create(time.Minute)
	holder := id.HolderID("did:persona:h1")
	_, err := s.svc.ActivateSession(context.Background(), session.ID, holder)
	s.Require().NoError(err)

	completed, err := s.svc.RespondToSession(context.Background(), session.ID, s.respondParams(holder, false))
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, completed.Status)
	s.Require().NotNil(completed.Response)
	s.False(completed.Response.ConsentGiven)

	_, err = s.ledger.GetActiveForSession(context.Background(), session.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestRespondRejectsContradictoryResponse() {
	session := s.create(time.Minute)
	holder := id.HolderID("did:persona:h1")
	_, err := s.svc.ActivateSession(context.Background(), session.ID, holder)
	s.Require().NoError(err)

	params := RespondParams{
		HolderID: holder,
		Response: models.Response{ConsentGiven: true, RespondedAt: s.now},
	}
	_, err = s.svc.RespondToSession(context.Background(), session.ID, params)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestRespondBeforeActivationIsInvalidTransition() {
	session := s.create(time.Minute)

	_, err := s.svc.RespondToSession(context.Background(), session.ID, s.respondParams("did:persona:h1", false))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *ServiceSuite) TestRespondByDifferentHolderConflicts() {
	session := s.create(time.Minute)
	_, err := s.svc.ActivateSession(context.Background(), session.ID, "did:persona:h1")
	s.Require().NoError(err)

	_, err = s.svc.RespondToSession(context.Background(), session.ID, s.respondParams("did:persona:h2", false))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestRespondWithBadSignatureLeavesSessionActivated() {
	session := s.create(time.Minute)
	holder := id.HolderID("did:persona:h1")
	_, err := s.svc.ActivateSession(context.Background(), session.ID, holder)
	s.Require().NoError(err)

	params := s.respondParams(holder, true)
	params.Signature = "forged"

	_, err = s.svc.RespondToSession(context.Background(), session.ID, params)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidSignature))

	// The ledger rejected the write, so the session stays retryable.
	got, err := s.svc.GetSession(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActivated, got.Status)

	s.sign(session.ID, holder, &params)
	completed, err := s.svc.RespondToSession(context.Background(), session.ID, params)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, completed.Status)
}

func (s *ServiceSuite) TestRespondAfterExpirySignalsExpiry() {
	session := s.create(time.Minute)
	holder := id.HolderID("did:persona:h1")
	_, err := s.svc.ActivateSession(context.Background(), session.ID, holder)
	s.Require().NoError(err)

	s.advance(2 * time.Minute)
	_, err = s.svc.RespondToSession(context.Background(), session.ID, s.respondParams(holder, false))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeSessionExpired))
}

func (s *ServiceSuite) TestConcurrentRespondExactlyOneWins() {
	session := s.create(time.Minute)
	holder := id.HolderID("did:persona:h1")
	_, err := s.svc.ActivateSession(context.Background(), session.ID, holder)
	s.Require().NoError(err)

	result := testutil.RunConcurrent(8, func(idx int) error {
		_, err := s.svc.RespondToSession(context.Background(), session.ID, s.respondParams(holder, false))
		return err
	})
	s.Equal(int32(1), result.Successes)
	s.Equal(int32(7), result.InvalidTransitions)
	s.Zero(result.Others)

	got, err := s.svc.GetSession(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
}

func (s *ServiceSuite) TestConcurrentActivateDifferentHoldersOneWins() {
	session := s.create(time.Minute)
	holders := []id.HolderID{"did:persona:h1", "did:persona:h2"}

	result := testutil.RunConcurrent(2, func(idx int) error {
		_, err := s.svc.ActivateSession(context.Background(), session.ID, holders[idx])
		return err
	})
	s.Equal(int32(1), result.Successes)
	s.Equal(int32(1), result.Conflicts)
}

func (s *ServiceSuite) TestRevokeFromNonTerminalStates() {
	created := s.create(time.Minute)
	revoked, err := s.svc.RevokeSession(context.Background(), created.ID, "requester cancelled")
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, revoked.Status)
	s.Equal("requester cancelled", revoked.RevokeReason)

	activated := s.create(time.Minute)
	_, err = s.svc.ActivateSession(context.Background(), activated.ID, "did:persona:h1")
	s.Require().NoError(err)
	_, err = s.svc.RevokeSession(context.Background(), activated.ID, "holder reported phishing")
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestTerminalStatesRejectFurtherTransitions() {
	session := s.create(time.Minute)
	_, err := s.svc.RevokeSession(context.Background(), session.ID, "cancelled")
	s.Require().NoError(err)

	_, err = s.svc.RevokeSession(context.Background(), session.ID, "again")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	_, err = s.svc.ActivateSession(context.Background(), session.ID, "did:persona:h1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *ServiceSuite) TestListSessionsAppliesLazyExpiry() {
	fresh := s.create(10 * time.Minute)
	stale := s.create(time.Minute)
	s.advance(2 * time.Minute)

	sessions, err := s.svc.ListSessions(context.Background(), nil)
	s.Require().NoError(err)
	s.Require().Len(sessions, 2)

	byID := map[id.SessionID]models.Status{}
	for _, session := range sessions {
		byID[session.ID] = session.Status
	}
	s.Equal(models.StatusCreated, byID[fresh.ID])
	s.Equal(models.StatusExpired, byID[stale.ID])
}

func (s *ServiceSuite) TestListSessionsStatusFilterExcludesJustExpired() {
	s.create(time.Minute)
	s.advance(2 * time.Minute)

	created := models.StatusCreated
	sessions, err := s.svc.ListSessions(context.Background(), &models.Filter{Status: &created})
	s.Require().NoError(err)
	s.Empty(sessions)
}

func (s *ServiceSuite) TestStatsAndAnalytics() {
	// One completed with consent, one still created, one revoked.
	completedSession := s.create(time.Minute)
	holder := id.HolderID("did:persona:h1")
	_, err := s.svc.ActivateSession(context.Background(), completedSession.ID, holder)
	s.Require().NoError(err)
	s.advance(30 * time.Second)
	params := s.respondParams(holder, true)
	s.sign(completedSession.ID, holder, &params)
	_, err = s.svc.RespondToSession(context.Background(), completedSession.ID, params)
	s.Require().NoError(err)

	s.create(time.Minute)

	revokedSession := s.create(time.Minute)
	_, err = s.svc.RevokeSession(context.Background(), revokedSession.ID, "cancelled")
	s.Require().NoError(err)

	stats, err := s.svc.GetStats(context.Background())
	s.Require().NoError(err)
	s.Equal(3, stats.Total)
	s.Equal(1, stats.ByStatus[models.StatusCompleted])
	s.Equal(1, stats.ByStatus[models.StatusCreated])
	s.Equal(1, stats.ByStatus[models.StatusRevoked])
	// completed / (total - never picked up) = 1 / (3 - 1)
	s.InDelta(0.5, stats.CompletionRate, 1e-9)
	s.Equal(30*time.Second, stats.AvgTimeToResponse)

	analytics, err := s.svc.GetAnalytics(context.Background())
	s.Require().NoError(err)
	s.Equal(3, analytics.ByKind[models.KindVisualCode])
	s.Equal(3, analytics.ByDomain["age_verification"])
}

func (s *ServiceSuite) TestCompletedSessionStaysCompletedAfterTTL() {
	session := s.create(time.Minute)
	holder := id.HolderID("did:persona:h1")
	_, err := s.svc.ActivateSession(context.Background(), session.ID, holder)
	s.Require().NoError(err)
	_, err = s.svc.RespondToSession(context.Background(), session.ID, s.respondParams(holder, false))
	s.Require().NoError(err)

	s.advance(time.Hour)
	got, err := s.svc.GetSession(context.Background(), session.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, got.Status)
}

func (s *ServiceSuite) TestOutboxSeesLifecycleEvents() {
	session := s.create(time.Minute)
	holder := id.HolderID("did:persona:h1")
	_, err := s.svc.ActivateSession(context.Background(), session.ID, holder)
	s.Require().NoError(err)
	_, err = s.svc.RespondToSession(context.Background(), session.ID, s.respondParams(holder, false))
	s.Require().NoError(err)

	pending, err := s.outbox.FetchUndelivered(context.Background(), 10)
	s.Require().NoError(err)

	var types []events.Type
	for _, entry := range pending {
		types = append(types, entry.Type)
	}
	s.Equal([]events.Type{
		events.TypeSessionCreated,
		events.TypeSessionActivated,
		events.TypeSessionResponded,
		events.TypeSessionCompleted,
	}, types)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := computeStats(nil)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.CompletionRate)
	require.NotNil(t, stats.ByStatus)
}
