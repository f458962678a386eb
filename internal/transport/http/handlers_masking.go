package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/masking"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/middleware"
	respond "github.com/GrupoUS/neonpro-sub010/internal/transport/http/json"
	"github.com/GrupoUS/neonpro-sub010/internal/transport/http/shared"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
	"github.com/GrupoUS/neonpro-sub010/pkg/validation"
)

// MaskingAdmin manages the masking rule set and resolves vault tokens.
type MaskingAdmin interface {
	Rules() *masking.RuleSet
	AddRule(ctx context.Context, actorID string, rule masking.Rule) (*masking.RuleSet, error)
	RemoveRule(ctx context.Context, actorID, field string) (*masking.RuleSet, error)
	Unmask(ctx context.Context, token string, mctx masking.Context) (string, error)
}

// RuleRequest installs or replaces a masking rule. Field and Pattern are
// alternative matchers; the engine requires at least one.
type RuleRequest struct {
	Field           string                `json:"field,omitempty"`
	Pattern         string                `json:"pattern,omitempty"`
	Category        models.DataCategory   `json:"category" validate:"required"`
	Technique       masking.Technique     `json:"technique" validate:"required"`
	Format          masking.Format        `json:"format,omitempty"`
	Priority        int                   `json:"priority,omitempty"`
	PlainRoles      []string              `json:"plainRoles,omitempty"`
	Purposes        []models.Purpose      `json:"purposes,omitempty"`
	ConsentRequired bool                  `json:"consentRequired,omitempty"`
	Views           []masking.ViewContext `json:"views,omitempty"`
}

// RuleResponse is the wire form of one masking rule.
type RuleResponse struct {
	Field           string                `json:"field,omitempty"`
	Pattern         string                `json:"pattern,omitempty"`
	Category        models.DataCategory   `json:"category"`
	Technique       masking.Technique     `json:"technique"`
	Format          masking.Format        `json:"format,omitempty"`
	Priority        int                   `json:"priority,omitempty"`
	PlainRoles      []string              `json:"plainRoles,omitempty"`
	Purposes        []models.Purpose      `json:"purposes,omitempty"`
	ConsentRequired bool                  `json:"consentRequired,omitempty"`
	Views           []masking.ViewContext `json:"views,omitempty"`
}

// RuleSetResponse is a rule set revision.
type RuleSetResponse struct {
	Version int            `json:"version"`
	Rules   []RuleResponse `json:"rules"`
}

// UnmaskRequest resolves a vault token back to its original value.
type UnmaskRequest struct {
	Token string `json:"token" validate:"required,notblank"`
}

// MaskingHandler exposes rule administration and the privileged unmask
// operation. Rule mutation is restricted to admin roles here; unmask
// authorization is enforced and audited by the engine itself.
type MaskingHandler struct {
	admin MaskingAdmin
}

func NewMaskingHandler(admin MaskingAdmin) *MaskingHandler {
	return &MaskingHandler{admin: admin}
}

func (h *MaskingHandler) Register(r chi.Router) {
	r.Get("/masking/rules", h.handleListRules)
	r.Post("/masking/rules", h.handleAddRule)
	r.Delete("/masking/rules/{field}", h.handleRemoveRule)
	r.Post("/masking/unmask", h.handleUnmask)
}

func (h *MaskingHandler) handleListRules(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, ruleSetResponse(h.admin.Rules()))
}

func (h *MaskingHandler) handleAddRule(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if !isRuleAdmin(id.Role) {
		shared.WriteError(w, dErrors.New(dErrors.CodeForbidden, "role not authorized to manage masking rules"))
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validation.Validate(req); err != nil {
		shared.WriteError(w, err)
		return
	}

	rules, err := h.admin.AddRule(r.Context(), id.SubjectID, masking.Rule{
		Field:           req.Field,
		Pattern:         req.Pattern,
		Category:        req.Category,
		Technique:       req.Technique,
		Format:          req.Format,
		Priority:        req.Priority,
		PlainRoles:      req.PlainRoles,
		Purposes:        req.Purposes,
		ConsentRequired: req.ConsentRequired,
		Views:           req.Views,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, ruleSetResponse(rules))
}

func (h *MaskingHandler) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if !isRuleAdmin(id.Role) {
		shared.WriteError(w, dErrors.New(dErrors.CodeForbidden, "role not authorized to manage masking rules"))
		return
	}

	rules, err := h.admin.RemoveRule(r.Context(), id.SubjectID, chi.URLParam(r, "field"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, ruleSetResponse(rules))
}

func (h *MaskingHandler) handleUnmask(w http.ResponseWriter, r *http.Request) {
	var req UnmaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validation.Validate(req); err != nil {
		shared.WriteError(w, err)
		return
	}

	id := middleware.GetIdentity(r.Context())
	value, err := h.admin.Unmask(r.Context(), req.Token, masking.Context{
		ActorID: id.SubjectID,
		Role:    id.Role,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"value": value})
}

func isRuleAdmin(role string) bool {
	return role == "admin" || role == "dpo"
}

func ruleSetResponse(rs *masking.RuleSet) RuleSetResponse {
	rules := rs.Rules()
	resp := RuleSetResponse{Version: rs.Version(), Rules: make([]RuleResponse, 0, len(rules))}
	for _, rule := range rules {
		resp.Rules = append(resp.Rules, RuleResponse{
			Field:           rule.Field,
			Pattern:         rule.Pattern,
			Category:        rule.Category,
			Technique:       rule.Technique,
			Format:          rule.Format,
			Priority:        rule.Priority,
			PlainRoles:      rule.PlainRoles,
			Purposes:        rule.Purposes,
			ConsentRequired: rule.ConsentRequired,
			Views:           rule.Views,
		})
	}
	return resp
}
