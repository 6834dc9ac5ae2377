package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// Justification: These are core error primitives used at every trust boundary.
// Unit tests ensure invariants like "wrapped domain errors preserve original code"
// and "errors.Is matches by code" are maintained.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeNotFound, Message: "session not found"}
		s.Equal("session not found", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeInvalidTransition}
		s.Equal("invalid_transition", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	inner := errors.New("row scan failed")
	err := &Error{Code: CodeInternal, Message: "store error", Err: inner}
	s.Equal(inner, err.Unwrap())
	s.True(errors.Is(err, inner))
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	err := New(CodeConflict, "activation lost the race")
	s.True(errors.Is(err, &Error{Code: CodeConflict}))
	s.False(errors.Is(err, &Error{Code: CodeNotFound}))
}

func (s *DomainErrorsSuite) TestWrapPreservesOriginalCode() {
	inner := New(CodeDuplicateConsent, "consent already recorded")
	wrapped := Wrap(inner, CodeInternal, "ledger write failed")
	s.True(HasCode(wrapped, CodeDuplicateConsent), "wrapping must not launder the original code")
	s.True(errors.Is(wrapped, inner))
}

func (s *DomainErrorsSuite) TestWrapPlainError() {
	inner := fmt.Errorf("connection refused")
	wrapped := Wrap(inner, CodeInternal, "store unavailable")
	s.True(HasCode(wrapped, CodeInternal))
	s.True(errors.Is(wrapped, inner))
}

func (s *DomainErrorsSuite) TestCodeOf() {
	s.Equal(CodeValidation, CodeOf(New(CodeValidation, "bad ttl")))
	s.Equal(CodeInternal, CodeOf(errors.New("plain")))
}
