package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"proofshare/internal/consent"
	consentmodels "proofshare/internal/consent/models"
	jsonwriter "proofshare/internal/transport/http/json"
	"proofshare/internal/transport/http/shared"
	id "proofshare/pkg/domain"
	dErrors "proofshare/pkg/domain-errors"
)

// ConsentService is the slice of the consent ledger the transport layer
// consumes.
type ConsentService interface {
	RequestConsent(ctx context.Context, holderID id.HolderID, request json.RawMessage) (*consentmodels.PendingConsent, error)
	RecordConsent(ctx context.Context, params consent.RecordParams) (*consentmodels.ConsentRecord, error)
	WithdrawConsent(ctx context.Context, subjectID id.HolderID, purposes []string) (int, error)
	GetRecord(ctx context.Context, consentID id.ConsentID) (*consentmodels.ConsentRecord, error)
	GetConsentAnalytics(ctx context.Context) (*consentmodels.Analytics, error)
}

// ConsentHandler handles consent ledger endpoints.
type ConsentHandler struct {
	logger   *slog.Logger
	consents ConsentService
}

// NewConsentHandler creates a ConsentHandler.
func NewConsentHandler(consents ConsentService, logger *slog.Logger) *ConsentHandler {
	return &ConsentHandler{logger: logger, consents: consents}
}

func (h *ConsentHandler) Register(r chi.Router) {
	r.Post("/consents/request", h.handleRequestConsent)
	r.Post("/consents", h.handleRecordConsent)
	r.Post("/consents/withdraw", h.handleWithdrawConsent)
	r.Get("/consents/analytics", h.handleAnalytics)
	r.Get("/consents/{consentID}", h.handleGetRecord)
}

type requestConsentRequest struct {
	HolderID string          `json:"holderId"`
	Request  json.RawMessage `json:"request"`
}

func (h *ConsentHandler) handleRequestConsent(w http.ResponseWriter, r *http.Request) {
	var req requestConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	pending, err := h.consents.RequestConsent(r.Context(), id.HolderID(req.HolderID), req.Request)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, pending)
}

type recordConsentRequest struct {
	ConsentID       string                 `json:"consentId,omitempty"`
	SessionID       string                 `json:"sessionId"`
	SubjectID       string                 `json:"subjectId"`
	CounterpartyID  string                 `json:"counterpartyId"`
	Purpose         string                 `json:"purpose"`
	RequestSnapshot json.RawMessage        `json:"requestSnapshot"`
	Decision        consentmodels.Decision `json:"decision"`
}

func (h *ConsentHandler) handleRecordConsent(w http.ResponseWriter, r *http.Request) {
	var req recordConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	sessionID, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid session id"))
		return
	}
	var consentID id.ConsentID
	if req.ConsentID != "" {
		consentID, err = id.ParseConsentID(req.ConsentID)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid consent id"))
			return
		}
	}

	record, err := h.consents.RecordConsent(r.Context(), consent.RecordParams{
		ConsentID:       consentID,
		SessionID:       sessionID,
		SubjectID:       id.HolderID(req.SubjectID),
		CounterpartyID:  id.RequesterID(req.CounterpartyID),
		Purpose:         req.Purpose,
		RequestSnapshot: req.RequestSnapshot,
		Decision:        req.Decision,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusCreated, record)
}

type withdrawConsentRequest struct {
	SubjectID string   `json:"subjectId"`
	Purposes  []string `json:"purposes,omitempty"`
}

func (h *ConsentHandler) handleWithdrawConsent(w http.ResponseWriter, r *http.Request) {
	var req withdrawConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	count, err := h.consents.WithdrawConsent(r.Context(), id.HolderID(req.SubjectID), req.Purposes)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, map[string]int{"withdrawn": count})
}

func (h *ConsentHandler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	consentID, err := id.ParseConsentID(chi.URLParam(r, "consentID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid consent id"))
		return
	}

	record, err := h.consents.GetRecord(r.Context(), consentID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, record)
}

func (h *ConsentHandler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.consents.GetConsentAnalytics(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	jsonwriter.WriteJSON(w, http.StatusOK, analytics)
}
