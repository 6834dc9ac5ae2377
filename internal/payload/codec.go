// Package payload implements the visual-code codec: it turns proof requests
// and responses into compact scannable payloads and parses scanned payloads
// back into typed data.
//
// Embedded data is held to a hard size budget so the rendered code stays
// scannable at common densities. When a request or response does not fit,
// the codec falls back to an invitation payload carrying only the session
// id; the scanner then resolves the full request through a session lookup.
package payload

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"proofshare/internal/session/models"
	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"
)

// Type discriminates what a payload carries.
type Type string

const (
	TypeRequest    Type = "request"
	TypeResponse   Type = "response"
	TypeInvitation Type = "invitation"
)

// Protocol version bounds. Parse rejects payloads outside this range.
const (
	CurrentVersion = 1
	MinVersion     = 1
	MaxVersion     = 1
)

// DefaultSizeBudget is the maximum embedded data size in bytes. Beyond this
// a visual code becomes unreliable at common scan densities.
const DefaultSizeBudget = 2048

// checksumLen is the number of blake2b bytes kept in the checksum. Truncated
// to stay cheap on the wire; this is an integrity check, not authentication.
const checksumLen = 8

// Envelope is the wire form of a payload.
type Envelope struct {
	Type      Type            `json:"type"`
	Version   int             `json:"version"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
	Checksum  string          `json:"checksum"`
}

// SessionReference is the data of an invitation payload.
type SessionReference struct {
	SessionID id.SessionID `json:"sessionId"`
	Kind      models.Kind  `json:"kind,omitempty"`
}

// Options are rendering hints for the visual code. They never affect the
// encoded bytes, only how a client draws them.
type Options struct {
	Size            int    `json:"size,omitempty"`
	ErrorCorrection string `json:"errorCorrection,omitempty"`
	Format          string `json:"format,omitempty"`
}

// Encoded is the result of an encode call: the envelope, its textual wire
// form, and whether the full data fit the budget.
type Encoded struct {
	Envelope Envelope
	// Text is the base64url encoding of the envelope JSON, ready to render.
	Text string
	// Embedded is false when the size budget forced an invitation fallback.
	Embedded bool
	Hints    Options
}

// Parsed is the result of parsing a scanned payload. Exactly one of Request,
// Response, or Reference is set, matching Type.
type Parsed struct {
	Type    Type
	Version int
	Data    json.RawMessage
	// HasSignature reports a signature was present. Verification is the
	// caller's job; the codec never checks signatures.
	HasSignature bool
	Signature    string
	Request      *models.ProofRequest
	Response     *models.Response
	Reference    *SessionReference
}

// Codec encodes and parses visual-code payloads.
type Codec struct {
	budget int
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithSizeBudget overrides the embedded-data size budget.
func WithSizeBudget(bytes int) CodecOption {
	return func(c *Codec) {
		if bytes > 0 {
			c.budget = bytes
		}
	}
}

// NewCodec constructs a codec with the default size budget.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{budget: DefaultSizeBudget}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SizeBudget returns the embedded-data budget in bytes.
func (c *Codec) SizeBudget() int {
	return c.budget
}

// EncodeRequest encodes a proof request. If the serialized request exceeds
// the size budget the result is an invitation referencing the session, and
// the caller must expose the full request via session lookup.
func (c *Codec) EncodeRequest(request *models.ProofRequest, sessionID id.SessionID, hints Options) (*Encoded, error) {
	if request == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "request is required")
	}
	data, err := json.Marshal(request)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode request")
	}
	return c.encodeOrFallback(TypeRequest, data, sessionID, models.Kind(""), hints)
}

// EncodeResponse encodes a holder response with the same fallback strategy.
func (c *Codec) EncodeResponse(response *models.Response, sessionID id.SessionID, hints Options) (*Encoded, error) {
	if response == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "response is required")
	}
	data, err := json.Marshal(response)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode response")
	}
	return c.encodeOrFallback(TypeResponse, data, sessionID, models.Kind(""), hints)
}

// EncodeSessionReference always produces the invitation form. Used
// deliberately for large or already-known sessions.
func (c *Codec) EncodeSessionReference(sessionID id.SessionID, kind models.Kind, hints Options) (*Encoded, error) {
	if sessionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "session id is required")
	}
	return c.seal(TypeInvitation, SessionReference{SessionID: sessionID, Kind: kind}, false, hints)
}

func (c *Codec) encodeOrFallback(payloadType Type, data []byte, sessionID id.SessionID, kind models.Kind, hints Options) (*Encoded, error) {
	if len(data) > c.budget {
		return c.seal(TypeInvitation, SessionReference{SessionID: sessionID, Kind: kind}, false, hints)
	}
	encoded, err := c.sealRaw(payloadType, data, hints)
	if err != nil {
		return nil, err
	}
	encoded.Embedded = true
	return encoded, nil
}

func (c *Codec) seal(payloadType Type, data any, embedded bool, hints Options) (*Encoded, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode payload data")
	}
	encoded, err := c.sealRaw(payloadType, raw, hints)
	if err != nil {
		return nil, err
	}
	encoded.Embedded = embedded
	return encoded, nil
}

func (c *Codec) sealRaw(payloadType Type, data []byte, hints Options) (*Encoded, error) {
	envelope := Envelope{
		Type:     payloadType,
		Version:  CurrentVersion,
		Data:     data,
		Checksum: checksum(payloadType, CurrentVersion, data),
	}
	wire, err := json.Marshal(envelope)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode payload envelope")
	}
	return &Encoded{
		Envelope: envelope,
		Text:     base64.RawURLEncoding.EncodeToString(wire),
		Hints:    hints,
	}, nil
}

// Parse decodes a scanned payload. Input may be the base64url wire text or
// the raw envelope JSON. Version and checksum are validated; any signature
// present is returned un-verified with HasSignature set.
func (c *Codec) Parse(raw []byte) (*Parsed, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "empty payload")
	}

	wire := raw
	if !looksLikeJSON(raw) {
		decoded, err := base64.RawURLEncoding.DecodeString(string(bytes.TrimSpace(raw)))
		if err != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "payload is neither JSON nor base64url")
		}
		wire = decoded
	}

	var envelope Envelope
	if err := json.Unmarshal(wire, &envelope); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed payload envelope")
	}

	if envelope.Version < MinVersion || envelope.Version > MaxVersion {
		return nil, dErrors.New(dErrors.CodeUnsupportedVersion,
			"unsupported payload version "+strconv.Itoa(envelope.Version))
	}
	if envelope.Checksum != checksum(envelope.Type, envelope.Version, envelope.Data) {
		return nil, dErrors.New(dErrors.CodeChecksumMismatch, "payload checksum mismatch")
	}

	parsed := &Parsed{
		Type:         envelope.Type,
		Version:      envelope.Version,
		Data:         envelope.Data,
		HasSignature: envelope.Signature != "",
		Signature:    envelope.Signature,
	}

	switch envelope.Type {
	case TypeRequest:
		parsed.Request = &models.ProofRequest{}
		if err := json.Unmarshal(envelope.Data, parsed.Request); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed request data")
		}
	case TypeResponse:
		parsed.Response = &models.Response{}
		if err := json.Unmarshal(envelope.Data, parsed.Response); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed response data")
		}
	case TypeInvitation:
		parsed.Reference = &SessionReference{}
		if err := json.Unmarshal(envelope.Data, parsed.Reference); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed session reference")
		}
		if parsed.Reference.SessionID.IsNil() {
			return nil, dErrors.New(dErrors.CodeValidation, "session reference missing session id")
		}
	default:
		return nil, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("unknown payload type %q", envelope.Type))
	}
	return parsed, nil
}

func checksum(payloadType Type, version int, data []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(payloadType))
	h.Write([]byte{byte(version)})
	h.Write(data)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:checksumLen])
}

func looksLikeJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
