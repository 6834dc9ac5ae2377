package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"proofshare/internal/payload"
	sessionmodels "proofshare/internal/session/models"
	jsonwriter "proofshare/internal/transport/http/json"
	"proofshare/internal/transport/http/shared"
	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"

	"proofshare/internal/session"
)

// SessionService is the slice of the session manager the transport layer
// consumes.
type SessionService interface {
	CreateSession(ctx context.Context, params session.CreateParams) (*session.CreateResult, error)
	GetSession(ctx context.Context, sessionID id.SessionID) (*sessionmodels.Session, error)
	ActivateSession(ctx context.Context, sessionID id.SessionID, holderID id.HolderID) (*sessionmodels.Session, error)
	RespondToSession(ctx context.Context, sessionID id.SessionID, params session.RespondParams) (*sessionmodels.Session, error)
	RevokeSession(ctx context.Context, sessionID id.SessionID, reason string) (*sessionmodels.Session, error)
	ListSessions(ctx context.Context, filter *sessionmodels.Filter) ([]*sessionmodels.Session, error)
	GetStats(ctx context.Context) (*sessionmodels.Stats, error)
	GetAnalytics(ctx context.Context) (*sessionmodels.Analytics, error)
	EncodeSessionPayload(ctx context.Context, sessionID id.SessionID, hints payload.Options) (*payload.Encoded, error)
	ResolvePayload(ctx context.Context, raw []byte) (*session.ResolvedPayload, error)
}

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	logger   *slog.Logger
	sessions SessionService
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{logger: logger, sessions: sessions}
}

func (h *SessionHandler) Register(r chi.Router) {
	r.Post("/sessions", h.handleCreate)
	r.Get("/sessions", h.handleList)
	r.Get("/sessions/stats", h.handleStats)
	r.Get("/sessions/analytics", h.handleAnalytics)
	r.Get("/sessions/{sessionID}", h.handleGet)
	r.Get("/sessions/{sessionID}/payload", h.handlePayload)
	r.Post("/sessions/{sessionID}/activate", h.handleActivate)
	r.Post("/sessions/{sessionID}/respond", h.handleRespond)
	r.Post("/sessions/{sessionID}/revoke", h.handleRevoke)
}

type createSessionRequest struct {
	Request sessionmodels.ProofRequest `json:"request"`
	Kind    sessionmodels.Kind         `json:"kind"`
	TTLMs   int64                      `json:"ttlMs,omitempty"`
	Hints   payload.Options            `json:"payloadOptions,omitempty"`
}

type createSessionResponse struct {
	Session *sessionView     `json:"session"`
	Payload *payloadResponse `json:"payload"`
}

type payloadResponse struct {
	Text     string `json:"text"`
	Type     string `json:"type"`
	Embedded bool   `json:"embedded"`
}

func (h *SessionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	result, err := h.sessions.CreateSession(r.Context(), session.CreateParams{
		Request:        req.Request,
		Kind:           req.Kind,
		TTL:            time.Duration(req.TTLMs) * time.Millisecond,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		PayloadHints:   req.Hints,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	jsonwriter.WriteJSON(w, http.StatusCreated, createSessionResponse{
		Session: newSessionView(result.Session),
		Payload: newPayloadResponse(result.Payload),
	})
}

func (h *SessionHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID, err := parseSessionID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	found, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, newSessionView(found))
}

func (h *SessionHandler) handlePayload(w http.ResponseWriter, r *http.Request) {
	sessionID, err := parseSessionID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	hints := payload.Options{
		ErrorCorrection: r.URL.Query().Get("errorCorrection"),
		Format:          r.URL.Query().Get("format"),
	}
	encoded, err := h.sessions.EncodeSessionPayload(r.Context(), sessionID, hints)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, newPayloadResponse(encoded))
}

type activateRequest struct {
	HolderID string `json:"holderId"`
}

func (h *SessionHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	sessionID, err := parseSessionID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	activated, err := h.sessions.ActivateSession(r.Context(), sessionID, id.HolderID(req.HolderID))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, newSessionView(activated))
}

type respondRequest struct {
	HolderID       string                 `json:"holderId"`
	Response       sessionmodels.Response `json:"response"`
	SelectedClaims []string               `json:"selectedClaims,omitempty"`
	Signature      string                 `json:"signature,omitempty"`
}

func (h *SessionHandler) handleRespond(w http.ResponseWriter, r *http.Request) {
	sessionID, err := parseSessionID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	completed, err := h.sessions.RespondToSession(r.Context(), sessionID, session.RespondParams{
		HolderID:       id.HolderID(req.HolderID),
		Response:       req.Response,
		SelectedClaims: req.SelectedClaims,
		Signature:      req.Signature,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, newSessionView(completed))
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *SessionHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	sessionID, err := parseSessionID(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	revoked, err := h.sessions.RevokeSession(r.Context(), sessionID, req.Reason)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, newSessionView(revoked))
}

func (h *SessionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	sessions, err := h.sessions.ListSessions(r.Context(), filter)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	views := make([]*sessionView, 0, len(sessions))
	for _, found := range sessions {
		views = append(views, newSessionView(found))
	}
	jsonwriter.WriteJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (h *SessionHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sessions.GetStats(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, stats)
}

func (h *SessionHandler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.sessions.GetAnalytics(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, analytics)
}

func parseSessionID(r *http.Request) (id.SessionID, error) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		return id.SessionID{}, dErrors.New(dErrors.CodeBadRequest, "invalid session id")
	}
	return sessionID, nil
}

func parseFilter(r *http.Request) (*sessionmodels.Filter, error) {
	query := r.URL.Query()
	filter := &sessionmodels.Filter{}

	if raw := query.Get("status"); raw != "" {
		status := sessionmodels.Status(raw)
		if !status.IsValid() {
			return nil, dErrors.New(dErrors.CodeBadRequest, "invalid status filter")
		}
		filter.Status = &status
	}
	if raw := query.Get("requester"); raw != "" {
		requester := id.RequesterID(raw)
		filter.Requester = &requester
	}
	if raw := query.Get("holder"); raw != "" {
		holder := id.HolderID(raw)
		filter.Holder = &holder
	}
	if raw := query.Get("domain"); raw != "" {
		domain := raw
		filter.Domain = &domain
	}
	return filter, nil
}

// sessionView is the sanitized wire representation: proof items carry only
// domain, operation, reason, and the required flag, and internal bookkeeping
// such as the version token never leaves the service.
type sessionView struct {
	ID           string                      `json:"id"`
	Kind         sessionmodels.Kind          `json:"kind"`
	Status       sessionmodels.Status        `json:"status"`
	Requester    sessionmodels.RequesterInfo `json:"requester"`
	Items        []proofItemView             `json:"items"`
	Purpose      string                      `json:"purpose"`
	HolderID     string                      `json:"holderId,omitempty"`
	Response     *sessionmodels.Response     `json:"response,omitempty"`
	RevokeReason string                      `json:"revokeReason,omitempty"`
	CreatedAt    time.Time                   `json:"createdAt"`
	ExpiresAt    time.Time                   `json:"expiresAt"`
}

type proofItemView struct {
	Domain    string `json:"domain"`
	Operation string `json:"operation"`
	Reason    string `json:"reason,omitempty"`
	Required  bool   `json:"required"`
}

func newSessionView(s *sessionmodels.Session) *sessionView {
	items := make([]proofItemView, 0, len(s.Request.Items))
	for _, item := range s.Request.Items {
		items = append(items, proofItemView{
			Domain:    item.Domain,
			Operation: item.Operation,
			Reason:    item.Reason,
			Required:  item.Required,
		})
	}
	return &sessionView{
		ID:           s.ID.String(),
		Kind:         s.Kind,
		Status:       s.Status,
		Requester:    s.Request.Requester,
		Items:        items,
		Purpose:      s.Request.Purpose,
		HolderID:     s.HolderID.String(),
		Response:     s.Response,
		RevokeReason: s.RevokeReason,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
	}
}

func newPayloadResponse(encoded *payload.Encoded) *payloadResponse {
	return &payloadResponse{
		Text:     encoded.Text,
		Type:     string(encoded.Envelope.Type),
		Embedded: encoded.Embedded,
	}
}
