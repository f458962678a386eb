package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/middleware"
	respond "github.com/GrupoUS/neonpro-sub010/internal/transport/http/json"
	"github.com/GrupoUS/neonpro-sub010/internal/transport/http/shared"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
	"github.com/GrupoUS/neonpro-sub010/pkg/validation"
)

// ConsentService is the slice of the consent domain the HTTP layer needs.
type ConsentService interface {
	Create(ctx context.Context, subjectID string, req models.CreateRequest, prov models.Provenance, hc models.HealthcareContext) (*models.Record, error)
	Withdraw(ctx context.Context, subjectID, consentID string, req models.WithdrawRequest) (*models.Record, error)
	MigrateVersion(ctx context.Context, subjectID, consentID string, target models.Version) (*models.Record, error)
	Get(ctx context.Context, subjectID, consentID string) (*models.Record, error)
	List(ctx context.Context, subjectID string, filter *models.RecordFilter) ([]*models.Record, error)
	IsProcessingAuthorized(ctx context.Context, actorID, subjectID string, purpose models.Purpose, categories []models.DataCategory) (models.Verdict, error)
}

// ConsentHandler exposes the consent lifecycle over HTTP. The acting subject
// always comes from the verified identity, never from the request body.
type ConsentHandler struct {
	consent ConsentService
}

func NewConsentHandler(consent ConsentService) *ConsentHandler {
	return &ConsentHandler{consent: consent}
}

func (h *ConsentHandler) Register(r chi.Router) {
	r.Post("/consents", h.handleCreate)
	r.Get("/consents", h.handleList)
	r.Post("/consents/check", h.handleCheck)
	r.Get("/consents/{consentID}", h.handleGet)
	r.Post("/consents/{consentID}/withdraw", h.handleWithdraw)
	r.Post("/consents/{consentID}/migrate", h.handleMigrate)
}

func (h *ConsentHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validation.Validate(req); err != nil {
		shared.WriteError(w, err)
		return
	}

	prov := middleware.GetProvenance(r.Context())
	record, err := h.consent.Create(r.Context(), middleware.GetSubjectID(r.Context()), req,
		models.Provenance{IP: prov.IP, Agent: prov.Agent, Device: prov.Device},
		models.HealthcareContext{ClinicID: req.ClinicID, ProfessionalID: req.ProfessionalID},
	)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, record.ToResponse(time.Now().UTC()))
}

func (h *ConsentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := &models.RecordFilter{}
	if v := r.URL.Query().Get("purpose"); v != "" {
		p := models.Purpose(v)
		if !p.IsValid() {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown purpose filter"))
			return
		}
		filter.Purpose = &p
	}
	if v := r.URL.Query().Get("status"); v != "" {
		s := models.Status(v)
		if !s.IsValid() {
			shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "unknown status filter"))
			return
		}
		filter.Status = &s
	}

	records, err := h.consent.List(r.Context(), middleware.GetSubjectID(r.Context()), filter)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	now := time.Now().UTC()
	resp := models.ListResponse{Consents: make([]models.ConsentResponse, 0, len(records))}
	for _, rec := range records {
		resp.Consents = append(resp.Consents, rec.ToResponse(now))
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}

func (h *ConsentHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	record, err := h.consent.Get(r.Context(), middleware.GetSubjectID(r.Context()), chi.URLParam(r, "consentID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, record.ToResponse(time.Now().UTC()))
}

func (h *ConsentHandler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req models.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validation.Validate(req); err != nil {
		shared.WriteError(w, err)
		return
	}

	record, err := h.consent.Withdraw(r.Context(), middleware.GetSubjectID(r.Context()), chi.URLParam(r, "consentID"), req)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, record.ToResponse(time.Now().UTC()))
}

func (h *ConsentHandler) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req models.MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validation.Validate(req); err != nil {
		shared.WriteError(w, err)
		return
	}

	record, err := h.consent.MigrateVersion(r.Context(), middleware.GetSubjectID(r.Context()), chi.URLParam(r, "consentID"), req.TargetVersion)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, record.ToResponse(time.Now().UTC()))
}

// handleCheck answers whether processing is authorized right now. The verdict
// always carries the missing items on DENY so clients can remediate.
func (h *ConsentHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req models.CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validation.Validate(req); err != nil {
		shared.WriteError(w, err)
		return
	}

	id := middleware.GetIdentity(r.Context())
	verdict, err := h.consent.IsProcessingAuthorized(r.Context(), id.SubjectID, id.SubjectID, req.Purpose, req.DataCategories)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, verdict.ToVerdictResponse())
}
