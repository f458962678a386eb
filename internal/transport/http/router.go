// Package httptransport is the thin HTTP layer. Handlers decode, validate
// and delegate to the domain services; business rules never live here.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GrupoUS/neonpro-sub010/internal/platform/health"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/middleware"
)

const timeFormat = time.RFC3339

// Router bundles the handlers the compliance engine exposes.
type Router struct {
	Consent   *ConsentHandler
	Authorize *AuthorizeHandler
	Masking   *MaskingHandler
	DSR       *DSRHandler
	Health    *health.Handler

	// AssertionKey verifies the identity gate's subject assertion.
	AssertionKey string
	Logger       *slog.Logger
}

// Build wires middleware and routes. Health and metrics are unauthenticated;
// everything else requires a verified subject assertion.
func (rt Router) Build() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(rt.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(rt.Logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	if rt.Health != nil {
		rt.Health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSubject(rt.AssertionKey, rt.Logger))
		r.Use(middleware.CaptureProvenance)

		if rt.Consent != nil {
			rt.Consent.Register(r)
		}
		if rt.Authorize != nil {
			rt.Authorize.Register(r)
		}
		if rt.Masking != nil {
			rt.Masking.Register(r)
		}
		if rt.DSR != nil {
			rt.DSR.Register(r)
		}
	})

	return r
}
