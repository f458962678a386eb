// Package authz is the single entry point for data access decisions. It
// combines the consent verdict with field masking so callers either get a
// payload shaped for their role or a denial they can act on.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/masking"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/metrics"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/tracer"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
)

// ConsentChecker evaluates whether processing is authorized for a subject.
type ConsentChecker interface {
	IsProcessingAuthorized(ctx context.Context, actorID, subjectID string, purpose models.Purpose, categories []models.DataCategory) (models.Verdict, error)
}

// PayloadMasker shapes a payload for the requesting actor.
type PayloadMasker interface {
	Mask(ctx context.Context, payload map[string]any, mctx masking.Context) (map[string]any, masking.Summary)
}

// Resource is the kind of record being accessed. Each resource binds to a
// processing purpose and the data categories it exposes.
type Resource string

const (
	ResourceMedicalRecord   Resource = "medical_record"
	ResourceAppointment     Resource = "appointment"
	ResourceInvoice         Resource = "invoice"
	ResourceResearchDataset Resource = "research_dataset"
	ResourceMarketingReach  Resource = "marketing_reach"
)

type resourceBinding struct {
	purpose    models.Purpose
	categories []models.DataCategory
	view       masking.ViewContext
}

var resourceBindings = map[Resource]resourceBinding{
	ResourceMedicalRecord: {
		purpose:    models.PurposeMedicalCare,
		categories: []models.DataCategory{models.CategoryPersonal, models.CategoryMedical},
		view:       masking.ViewProfessional,
	},
	ResourceAppointment: {
		purpose:    models.PurposeAppointments,
		categories: []models.DataCategory{models.CategoryPersonal, models.CategoryContact},
		view:       masking.ViewReception,
	},
	ResourceInvoice: {
		purpose:    models.PurposeBilling,
		categories: []models.DataCategory{models.CategoryPersonal, models.CategoryFinancial},
		view:       masking.ViewBilling,
	},
	ResourceResearchDataset: {
		purpose:    models.PurposeMedicalResearch,
		categories: []models.DataCategory{models.CategoryMedical},
		view:       masking.ViewResearch,
	},
	ResourceMarketingReach: {
		purpose:    models.PurposeMarketing,
		categories: []models.DataCategory{models.CategoryContact},
		view:       masking.ViewExport,
	},
}

// Request describes one access attempt.
type Request struct {
	ActorID   string
	ActorRole string
	SubjectID string
	Resource  Resource
	// Purpose overrides the resource's default binding. Exempt purposes
	// (legal obligation, vital interest) authorize access regardless of
	// consent, but are still audited downstream.
	Purpose models.Purpose
	// Payload is the record to shape for the caller. May be nil for a pure
	// authorization check.
	Payload         map[string]any
	EmergencyAccess bool
}

// Decision is the gate's answer. When allowed, Payload carries the masked
// record; when denied, Verdict explains what consent is missing.
type Decision struct {
	Allowed bool
	// Purpose is the resolved processing purpose the decision was made for.
	Purpose models.Purpose
	Verdict models.Verdict
	Payload map[string]any
	Masking masking.Summary
}

type Gate struct {
	consents ConsentChecker
	masker   PayloadMasker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   tracer.Tracer
	// lenient lets a denied request keep its masked payload so the caller
	// can proceed anyway. Non-production only.
	lenient bool
}

type Option func(*Gate)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithTracer sets the tracer for authorization spans.
func WithTracer(t tracer.Tracer) Option {
	return func(g *Gate) {
		g.tracer = t
	}
}

// WithLenientMode keeps masked payloads flowing on DENY. The denial is still
// recorded and reported.
func WithLenientMode() Option {
	return func(g *Gate) {
		g.lenient = true
	}
}

func NewGate(consents ConsentChecker, masker PayloadMasker, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		consents: consents,
		masker:   masker,
		logger:   logger,
		tracer:   tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize evaluates the request and, when access is allowed, returns the
// payload masked for the actor's role and view.
func (g *Gate) Authorize(ctx context.Context, req Request) (Decision, error) {
	start := time.Now()
	binding, ok := resourceBindings[req.Resource]
	if !ok {
		return Decision{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown resource type: %s", req.Resource))
	}
	purpose := binding.purpose
	if req.Purpose != "" {
		if !req.Purpose.IsValid() {
			return Decision{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown purpose: %s", req.Purpose))
		}
		purpose = req.Purpose
	}

	ctx, span := g.tracer.Start(ctx, tracer.SpanAuthorize,
		tracer.String(tracer.AttrSubjectHash, tracer.HashSubjectID(req.SubjectID)),
		tracer.String(tracer.AttrPurpose, string(purpose)),
	)

	verdict, err := g.consents.IsProcessingAuthorized(ctx, req.ActorID, req.SubjectID, purpose, binding.categories)
	if err != nil {
		span.End(err)
		return Decision{}, err
	}

	decision := Decision{Allowed: verdict.Allowed, Purpose: purpose, Verdict: verdict}
	outcome := "denied"
	if verdict.Allowed {
		outcome = "allowed"
	}
	if verdict.Allowed || g.lenient {
		if req.Payload != nil {
			decision.Payload, decision.Masking = g.masker.Mask(ctx, req.Payload, masking.Context{
				ActorID: req.ActorID,
				Role:    req.ActorRole,
				View:    binding.view,
				Purpose: purpose,
				// Explicit consent means an ALLOW backed by a consent
				// record, not an exempt-purpose ALLOW and not a lenient
				// pass-through of a partial-coverage DENY.
				HasExplicitConsent: verdict.Allowed && verdict.ConsentID != "",
				EmergencyAccess:    req.EmergencyAccess,
			})
		}
	}

	if g.metrics != nil {
		g.metrics.IncAuthorizeDecision(string(purpose), outcome)
		g.metrics.ObserveAuthorizeLatency(time.Since(start).Seconds())
	}
	g.logger.InfoContext(ctx, "access decision",
		"resource", req.Resource,
		"purpose", purpose,
		"outcome", outcome,
		"actor_id", req.ActorID,
	)
	span.SetAttributes(tracer.String(tracer.AttrDecision, outcome))
	span.End(nil)
	return decision, nil
}
