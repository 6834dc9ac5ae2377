package consent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"proofshare/internal/consent/models"
	"proofshare/internal/consent/store"
	"proofshare/internal/events"
	"proofshare/internal/signing"
	"proofshare/internal/signing/mocks"
	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testParams(sessionID id.SessionID, given bool) RecordParams {
	return RecordParams{
		SessionID:       sessionID,
		SubjectID:       "did:persona:alice",
		CounterpartyID:  "req-1",
		Purpose:         "age_verification",
		RequestSnapshot: json.RawMessage(`{"purpose":"age_verification"}`),
		Decision: models.Decision{
			ConsentGiven:   given,
			SelectedClaims: []string{"age_over_18"},
			Signature:      "sig",
			Timestamp:      time.Now(),
		},
	}
}

func TestRecordConsentWritesRecord(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockVerifier(ctrl)
	verifier.EXPECT().
		Verify(gomock.Any(), id.HolderID("did:persona:alice"), gomock.Any(), "sig").
		Return(nil)

	outbox := events.NewInMemoryStore()
	svc := NewService(store.New(), verifier, testLogger(), WithOutbox(outbox))

	sessionID := id.NewSessionID()
	record, err := svc.RecordConsent(context.Background(), testParams(sessionID, true))
	require.NoError(t, err)
	assert.False(t, record.ID.IsNil())
	assert.Equal(t, sessionID, record.SessionID)
	assert.True(t, record.ConsentGiven)
	assert.True(t, record.Active())

	// The outbox saw the recorded event.
	pending, err := outbox.FetchUndelivered(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, events.TypeConsentRecorded, pending[0].Type)
}

func TestRecordConsentSignaturePayloadBinding(t *testing.T) {
	// Real signer/verifier pair: the service must verify over the canonical
	// session|claims|timestamp payload, so a signature minted for those exact
	// bytes passes and nothing else does.
	holder := id.HolderID("did:persona:alice")
	keys := signing.StaticKeys{holder: []byte("test-signing-key-32-bytes-long!!")}
	signer := signing.NewJWTSigner(keys)
	svc := NewService(store.New(), signing.NewJWTVerifier(keys), testLogger())

	sessionID := id.NewSessionID()
	params := testParams(sessionID, true)
	sig, err := signer.Sign(context.Background(), holder, params.Decision.SignedPayload(sessionID))
	require.NoError(t, err)
	params.Decision.Signature = sig

	_, err = svc.RecordConsent(context.Background(), params)
	require.NoError(t, err)

	// Same signature against a different session fails verification.
	other := testParams(id.NewSessionID(), true)
	other.Decision.Signature = sig
	_, err = svc.RecordConsent(context.Background(), other)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSignature))
}

func TestRecordConsentRejectsInvalidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockVerifier(ctrl)
	verifier.EXPECT().
		Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(dErrors.New(dErrors.CodeInvalidSignature, "signature does not verify"))

	svc := NewService(store.New(), verifier, testLogger())

	_, err := svc.RecordConsent(context.Background(), testParams(id.NewSessionID(), true))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidSignature))
}

func TestRecordConsentDuplicateSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockVerifier(ctrl)
	verifier.EXPECT().
		Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).
		Times(2)

	svc := NewService(store.New(), verifier, testLogger())
	sessionID := id.NewSessionID()

	_, err := svc.RecordConsent(context.Background(), testParams(sessionID, true))
	require.NoError(t, err)

	_, err = svc.RecordConsent(context.Background(), testParams(sessionID, false))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDuplicateConsent))
}

func TestRecordConsentContradictoryDecision(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewService(store.New(), mocks.NewMockVerifier(ctrl), testLogger())

	params := testParams(id.NewSessionID(), true)
	params.Decision.SelectedClaims = nil

	_, err := svc.RecordConsent(context.Background(), params)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestRequestConsentMintsPendingHandle(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := NewService(store.New(), mocks.NewMockVerifier(ctrl), testLogger())

	pending, err := svc.RequestConsent(context.Background(), "did:persona:alice", json.RawMessage(`{"purpose":"kyc"}`))
	require.NoError(t, err)
	assert.False(t, pending.ConsentID.IsNil())
	assert.Equal(t, id.HolderID("did:persona:alice"), pending.HolderID)
	assert.False(t, pending.RequestedAt.IsZero())

	// No record is written until the decision is recorded.
	_, err = svc.GetRecord(context.Background(), pending.ConsentID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestWithdrawConsentIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockVerifier(ctrl)
	verifier.EXPECT().
		Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).
		AnyTimes()

	svc := NewService(store.New(), verifier, testLogger())
	alice := id.HolderID("did:persona:alice")

	params := testParams(id.NewSessionID(), true)
	record, err := svc.RecordConsent(context.Background(), params)
	require.NoError(t, err)

	count, err := svc.WithdrawConsent(context.Background(), alice, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Re-withdrawal is a no-op.
	count, err = svc.WithdrawConsent(context.Background(), alice, nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The record is superseded, never deleted.
	kept, err := svc.GetRecord(context.Background(), record.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept.WithdrawnAt)
}

func TestGetConsentAnalytics(t *testing.T) {
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockVerifier(ctrl)
	verifier.EXPECT().
		Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).
		AnyTimes()

	svc := NewService(store.New(), verifier, testLogger())

	grant := testParams(id.NewSessionID(), true)
	_, err := svc.RecordConsent(context.Background(), grant)
	require.NoError(t, err)

	deny := testParams(id.NewSessionID(), false)
	_, err = svc.RecordConsent(context.Background(), deny)
	require.NoError(t, err)

	kyc := testParams(id.NewSessionID(), true)
	kyc.Purpose = "kyc"
	_, err = svc.RecordConsent(context.Background(), kyc)
	require.NoError(t, err)

	analytics, err := svc.GetConsentAnalytics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, analytics.TotalDecisions)
	assert.Equal(t, 2, analytics.GrantedCount)
	assert.InDelta(t, 2.0/3.0, analytics.ConsentRate, 1e-9)

	age := analytics.ByPurpose["age_verification"]
	assert.Equal(t, 2, age.Total)
	assert.Equal(t, 1, age.Granted)
	assert.InDelta(t, 0.5, age.ConsentRate, 1e-9)

	kycRate := analytics.ByPurpose["kyc"]
	assert.Equal(t, 1, kycRate.Total)
	assert.InDelta(t, 1.0, kycRate.ConsentRate, 1e-9)
}
