package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/GrupoUS/neonpro-sub010/internal/dsr"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/middleware"
	respond "github.com/GrupoUS/neonpro-sub010/internal/transport/http/json"
	"github.com/GrupoUS/neonpro-sub010/internal/transport/http/shared"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
)

// RequestService runs the data subject request workflows.
type RequestService interface {
	Open(ctx context.Context, subjectID string, kind dsr.Kind) (*dsr.Request, error)
	Get(ctx context.Context, subjectID, requestID string) (*dsr.Request, error)
	List(ctx context.Context, subjectID string) ([]*dsr.Request, error)
	Export(ctx context.Context, subjectID, requestID string) (*dsr.Request, error)
}

// RequestResponse is the wire form of a data subject request.
type RequestResponse struct {
	ID          string         `json:"id"`
	Kind        dsr.Kind       `json:"kind"`
	Status      dsr.Status     `json:"status"`
	OpenedAt    string         `json:"openedAt"`
	DueAt       string         `json:"dueAt"`
	CompletedAt string         `json:"completedAt,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
}

// DSRHandler exposes the subject's own data rights: open a request, follow
// it, and pull the export. Execution of erasures stays an operator workflow.
type DSRHandler struct {
	requests RequestService
}

func NewDSRHandler(requests RequestService) *DSRHandler {
	return &DSRHandler{requests: requests}
}

func (h *DSRHandler) Register(r chi.Router) {
	r.Get("/me/data-export", h.handleDataExport)
	r.Post("/me/data-erasure", h.handleDataErasure)
	r.Post("/data-requests", h.handleOpen)
	r.Get("/data-requests", h.handleList)
	r.Get("/data-requests/{requestID}", h.handleGet)
}

// handleDataExport opens an access request and fulfils it in the same call.
// The statutory deadline still applies to asynchronous follow-ups.
func (h *DSRHandler) handleDataExport(w http.ResponseWriter, r *http.Request) {
	subjectID := middleware.GetSubjectID(r.Context())
	req, err := h.requests.Open(r.Context(), subjectID, dsr.KindAccess)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	done, err := h.requests.Export(r.Context(), subjectID, req.ID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, requestResponse(done))
}

// handleDataErasure opens an erasure request. The grace period runs before
// anything is deleted, giving the subject time to retract.
func (h *DSRHandler) handleDataErasure(w http.ResponseWriter, r *http.Request) {
	req, err := h.requests.Open(r.Context(), middleware.GetSubjectID(r.Context()), dsr.KindErasure)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusAccepted, requestResponse(req))
}

func (h *DSRHandler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind dsr.Kind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	req, err := h.requests.Open(r.Context(), middleware.GetSubjectID(r.Context()), body.Kind)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, requestResponse(req))
}

func (h *DSRHandler) handleList(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.requests.List(r.Context(), middleware.GetSubjectID(r.Context()))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]RequestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, requestResponse(req))
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (h *DSRHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := h.requests.Get(r.Context(), middleware.GetSubjectID(r.Context()), chi.URLParam(r, "requestID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, requestResponse(req))
}

func requestResponse(req *dsr.Request) RequestResponse {
	resp := RequestResponse{
		ID:       req.ID,
		Kind:     req.Kind,
		Status:   req.Status,
		OpenedAt: req.OpenedAt.Format(timeFormat),
		DueAt:    req.DueAt.Format(timeFormat),
		Result:   req.Result,
	}
	if req.CompletedAt != nil {
		resp.CompletedAt = req.CompletedAt.Format(timeFormat)
	}
	return resp
}
