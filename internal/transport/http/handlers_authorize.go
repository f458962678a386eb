package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/GrupoUS/neonpro-sub010/internal/authz"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/masking"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/middleware"
	respond "github.com/GrupoUS/neonpro-sub010/internal/transport/http/json"
	"github.com/GrupoUS/neonpro-sub010/internal/transport/http/shared"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
	"github.com/GrupoUS/neonpro-sub010/pkg/validation"
)

// Authorizer decides access and shapes payloads.
type Authorizer interface {
	Authorize(ctx context.Context, req authz.Request) (authz.Decision, error)
}

// AuthorizeRequest is one access attempt against a subject's data.
type AuthorizeRequest struct {
	SubjectID string         `json:"subjectId" validate:"required,notblank"`
	Resource  authz.Resource `json:"resource" validate:"required"`
	// Purpose overrides the resource's default purpose binding.
	Purpose         models.Purpose `json:"purpose,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	EmergencyAccess bool           `json:"emergencyAccess"`
}

// AuthorizeResponse carries the decision and, when allowed, the masked
// payload.
type AuthorizeResponse struct {
	Allowed bool                   `json:"allowed"`
	Verdict models.VerdictResponse `json:"verdict"`
	Payload map[string]any         `json:"payload,omitempty"`
	Masking maskingSummary         `json:"masking"`
}

type maskingSummary struct {
	FieldsMasked      int `json:"fieldsMasked"`
	FieldsRedacted    int `json:"fieldsRedacted"`
	EmergencyBypasses int `json:"emergencyBypasses"`
}

// AuthorizeHandler fronts the access authorization gate. In strict mode a
// DENY blocks the request with a consent_required error carrying the
// remediation link; in lenient mode the denial is reported but the payload
// still flows, masked.
type AuthorizeHandler struct {
	gate       Authorizer
	strictMode bool
	consentURL string
}

func NewAuthorizeHandler(gate Authorizer, strictMode bool, consentURL string) *AuthorizeHandler {
	return &AuthorizeHandler{gate: gate, strictMode: strictMode, consentURL: consentURL}
}

func (h *AuthorizeHandler) Register(r chi.Router) {
	r.Post("/authorize", h.handleAuthorize)
}

func (h *AuthorizeHandler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validation.Validate(req); err != nil {
		shared.WriteError(w, err)
		return
	}

	id := middleware.GetIdentity(r.Context())
	decision, err := h.gate.Authorize(r.Context(), authz.Request{
		ActorID:         id.SubjectID,
		ActorRole:       id.Role,
		SubjectID:       req.SubjectID,
		Resource:        req.Resource,
		Purpose:         req.Purpose,
		Payload:         req.Payload,
		EmergencyAccess: req.EmergencyAccess,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if !decision.Allowed && h.strictMode {
		shared.WriteConsentRequired(w, decision.Purpose, decision.Verdict, h.consentURL)
		return
	}

	respond.WriteJSON(w, http.StatusOK, AuthorizeResponse{
		Allowed: decision.Allowed,
		Verdict: decision.Verdict.ToVerdictResponse(),
		Payload: decision.Payload,
		Masking: summaryResponse(decision.Masking),
	})
}

func summaryResponse(s masking.Summary) maskingSummary {
	return maskingSummary{
		FieldsMasked:      s.FieldsMasked,
		FieldsRedacted:    s.FieldsRedacted,
		EmergencyBypasses: s.EmergencyBypasses,
	}
}
