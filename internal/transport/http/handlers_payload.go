package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"proofshare/internal/payload"
	jsonwriter "proofshare/internal/transport/http/json"
	"proofshare/internal/transport/http/shared"
	dErrors "proofshare/pkg/domain-errors"
)

// PayloadHandler handles scanned-payload parsing.
type PayloadHandler struct {
	logger   *slog.Logger
	sessions SessionService
}

// NewPayloadHandler creates a PayloadHandler.
func NewPayloadHandler(sessions SessionService, logger *slog.Logger) *PayloadHandler {
	return &PayloadHandler{logger: logger, sessions: sessions}
}

func (h *PayloadHandler) Register(r chi.Router) {
	r.Post("/payloads/parse", h.handleParse)
}

type parsePayloadRequest struct {
	// Payload is the scanned text: base64url wire form or raw envelope JSON.
	Payload string `json:"payload"`
}

type parsePayloadResponse struct {
	Type         payload.Type    `json:"type"`
	Version      int             `json:"version"`
	HasSignature bool            `json:"hasSignature"`
	Request      json.RawMessage `json:"request,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	// Invitation context: whether the referenced session still exists and in
	// which state, so the scanner can render without a second round trip.
	SessionID     string `json:"sessionId,omitempty"`
	SessionExists *bool  `json:"sessionExists,omitempty"`
	SessionStatus string `json:"sessionStatus,omitempty"`
}

func (h *PayloadHandler) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parsePayloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	resolved, err := h.sessions.ResolvePayload(r.Context(), []byte(req.Payload))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	parsed := resolved.Parsed
	response := parsePayloadResponse{
		Type:         parsed.Type,
		Version:      parsed.Version,
		HasSignature: parsed.HasSignature,
	}
	switch parsed.Type {
	case payload.TypeRequest, payload.TypeResponse:
		if parsed.Request != nil {
			response.Request = parsed.Data
		} else {
			response.Response = parsed.Data
		}
	case payload.TypeInvitation:
		response.SessionID = parsed.Reference.SessionID.String()
		exists := resolved.SessionExists
		response.SessionExists = &exists
		response.SessionStatus = string(resolved.SessionStatus)
	}
	jsonwriter.WriteJSON(w, http.StatusOK, response)
}
