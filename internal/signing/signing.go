// Package signing models the external signing/verification capability.
// Holders sign consent decisions with keys this service never holds; the
// ledger only needs a yes/no answer for a given signer, payload, and
// signature.
package signing

import (
	"context"

	id "proofshare/pkg/domain"
)

//go:generate mockgen -source=signing.go -destination=mocks/mocks.go -package=mocks Verifier

// Verifier checks a signer's signature over a byte payload.
//
// Error Contract:
// - Returns nil when the signature verifies against the signer's active key
// - Returns a domain error with CodeInvalidSignature when it does not
// - Infrastructure failures (key lookup) are returned wrapped
type Verifier interface {
	Verify(ctx context.Context, signerID id.HolderID, payload []byte, signature string) error
}

// KeyResolver returns the active signing key material for a holder.
// Production resolvers consult the DID registry; tests use StaticKeys.
type KeyResolver interface {
	ResolveKey(ctx context.Context, signerID id.HolderID) ([]byte, error)
}

// StaticKeys is a fixed holder→key map for tests and single-tenant setups.
type StaticKeys map[id.HolderID][]byte

func (k StaticKeys) ResolveKey(_ context.Context, signerID id.HolderID) ([]byte, error) {
	key, ok := k[signerID]
	if !ok {
		return nil, ErrUnknownSigner
	}
	return key, nil
}

// SharedKey resolves every signer to the same key. Useful for deployments
// where holders sign through a wallet backend sharing one HMAC secret.
type SharedKey []byte

func (k SharedKey) ResolveKey(_ context.Context, _ id.HolderID) ([]byte, error) {
	if len(k) == 0 {
		return nil, ErrUnknownSigner
	}
	return []byte(k), nil
}
