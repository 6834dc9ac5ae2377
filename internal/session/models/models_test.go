package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"
)

func validRequest() ProofRequest {
	return ProofRequest{
		Requester: RequesterInfo{ID: "req-1"},
		Items:     []ProofItem{{Domain: "age_verification", Operation: "greater_than"}},
		Purpose:   "age_verification",
	}
}

func TestNewSessionDefaults(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	session, err := NewSession(validRequest(), KindVisualCode, 0, 5*time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, session.Status)
	assert.Equal(t, 5*time.Minute, session.TTL)
	assert.Equal(t, now.Add(5*time.Minute), session.ExpiresAt)
	assert.False(t, session.ID.IsNil())
	assert.Equal(t, id.HolderID(""), session.HolderID)
}

func TestNewSessionValidation(t *testing.T) {
	now := time.Now()

	_, err := NewSession(validRequest(), Kind("carrier_pigeon"), time.Minute, time.Minute, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	noItems := validRequest()
	noItems.Items = nil
	_, err = NewSession(noItems, KindDirect, time.Minute, time.Minute, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	noPurpose := validRequest()
	noPurpose.Purpose = ""
	_, err = NewSession(noPurpose, KindDirect, time.Minute, time.Minute, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = NewSession(validRequest(), KindDirect, 30*time.Second, time.Minute, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = NewSession(validRequest(), KindDirect, 25*time.Hour, time.Minute, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestExpireIfDue(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	session, err := NewSession(validRequest(), KindVisualCode, time.Minute, time.Minute, now)
	require.NoError(t, err)

	assert.False(t, session.ExpireIfDue(now.Add(30*time.Second)))
	assert.Equal(t, StatusCreated, session.Status)

	assert.True(t, session.ExpireIfDue(now.Add(2*time.Minute)))
	assert.Equal(t, StatusExpired, session.Status)

	// Terminal states never flip to expired.
	session.Status = StatusCompleted
	assert.False(t, session.ExpireIfDue(now.Add(48*time.Hour)))
	assert.Equal(t, StatusCompleted, session.Status)
}

func TestResponseValidateContradiction(t *testing.T) {
	err := Response{ConsentGiven: true}.Validate()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	err = Response{ConsentGiven: false}.Validate()
	assert.NoError(t, err)
}

func TestFilterMatches(t *testing.T) {
	now := time.Now()
	session, err := NewSession(validRequest(), KindVisualCode, time.Minute, time.Minute, now)
	require.NoError(t, err)
	session.HolderID = "did:persona:h1"

	assert.True(t, (*Filter)(nil).Matches(session))

	created := StatusCreated
	holder := id.HolderID("did:persona:h1")
	domain := "age_verification"
	assert.True(t, (&Filter{Status: &created, Holder: &holder, Domain: &domain}).Matches(session))

	other := "kyc"
	assert.False(t, (&Filter{Domain: &other}).Matches(session))

	revoked := StatusRevoked
	assert.False(t, (&Filter{Status: &revoked}).Matches(session))
}
