package signing

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"
)

// ErrUnknownSigner is returned by key resolvers when no active key exists.
var ErrUnknownSigner = errors.New("unknown signer")

// payloadClaims binds a JWT to the exact bytes that were signed: the token
// carries a hash of the payload, not the payload itself, keeping tokens small
// enough for visual codes.
type payloadClaims struct {
	PayloadHash string `json:"payload_hash"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies consent signatures carried as compact HS256 JWTs.
type JWTVerifier struct {
	keys KeyResolver
}

// NewJWTVerifier constructs a verifier over the given key resolver.
func NewJWTVerifier(keys KeyResolver) *JWTVerifier {
	return &JWTVerifier{keys: keys}
}

// Verify parses the signature token with the signer's active key and checks
// that it covers exactly the given payload bytes.
func (v *JWTVerifier) Verify(ctx context.Context, signerID id.HolderID, payload []byte, signature string) error {
	key, err := v.keys.ResolveKey(ctx, signerID)
	if err != nil {
		if errors.Is(err, ErrUnknownSigner) {
			return dErrors.New(dErrors.CodeInvalidSignature, "no active signing key for signer")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "resolve signing key")
	}

	token, err := jwt.ParseWithClaims(signature, &payloadClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return dErrors.New(dErrors.CodeInvalidSignature, "signature does not verify")
	}

	claims, ok := token.Claims.(*payloadClaims)
	if !ok {
		return dErrors.New(dErrors.CodeInvalidSignature, "malformed signature claims")
	}
	if claims.Subject != signerID.String() {
		return dErrors.New(dErrors.CodeInvalidSignature, "signature subject mismatch")
	}

	expected := hashPayload(payload)
	if subtle.ConstantTimeCompare([]byte(claims.PayloadHash), []byte(expected)) != 1 {
		return dErrors.New(dErrors.CodeInvalidSignature, "signature payload mismatch")
	}
	return nil
}

// JWTSigner produces signatures in the format JWTVerifier accepts. Real
// holders sign in their wallet; this signer exists for tests and the
// programmatic session kind.
type JWTSigner struct {
	keys KeyResolver
}

// NewJWTSigner constructs a signer over the given key resolver.
func NewJWTSigner(keys KeyResolver) *JWTSigner {
	return &JWTSigner{keys: keys}
}

// Sign issues a compact HS256 JWT over the payload hash.
func (s *JWTSigner) Sign(ctx context.Context, signerID id.HolderID, payload []byte) (string, error) {
	key, err := s.keys.ResolveKey(ctx, signerID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "resolve signing key")
	}
	claims := payloadClaims{
		PayloadHash: hashPayload(payload),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  signerID.String(),
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign payload")
	}
	return signed, nil
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify interface is satisfied.
var _ Verifier = (*JWTVerifier)(nil)
