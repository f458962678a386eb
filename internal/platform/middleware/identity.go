package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mssola/useragent"

	"github.com/GrupoUS/neonpro-sub010/internal/platform/privacy"
)

// The upstream identity gate authenticates credentials and forwards a signed
// subject assertion. This middleware verifies the assertion signature and
// places the verified identity in the request context; it never authenticates
// credentials itself.

// SubjectClaims are the claims carried by the identity gate's assertion.
type SubjectClaims struct {
	Role     string `json:"role"`
	ClinicID string `json:"clinic_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified acting subject for the current request.
type Identity struct {
	SubjectID string
	Role      string
	ClinicID  string
}

// Provenance captures request origin metadata recorded alongside consent
// mutations. The IP is anonymized before it enters the context; the raw
// address is never stored.
type Provenance struct {
	IP     string
	Agent  string
	Device string
}

type identityKey struct{}
type provenanceKey struct{}

// GetIdentity retrieves the verified subject identity from the context.
func GetIdentity(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey{}).(Identity); ok {
		return id
	}
	return Identity{}
}

// GetSubjectID retrieves the verified subject ID from the context.
func GetSubjectID(ctx context.Context) string {
	return GetIdentity(ctx).SubjectID
}

// GetProvenance retrieves request provenance metadata from the context.
func GetProvenance(ctx context.Context) Provenance {
	if p, ok := ctx.Value(provenanceKey{}).(Provenance); ok {
		return p
	}
	return Provenance{IP: "unknown"}
}

// WithIdentity injects an identity into the context. Exposed for tests and
// internal callers that bypass HTTP.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// RequireSubject verifies the identity gate's subject assertion and stores the
// resulting Identity in the request context. Requests without a valid
// assertion are rejected with 401.
func RequireSubject(assertionKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(assertionKey), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || raw == "" {
				writeUnauthorized(w, "missing subject assertion")
				return
			}

			claims := &SubjectClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, keyFunc,
				jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid || claims.Subject == "" {
				logger.WarnContext(ctx, "rejected invalid subject assertion",
					"request_id", GetRequestID(ctx),
					"error", err,
				)
				writeUnauthorized(w, "invalid subject assertion")
				return
			}

			ctx = WithIdentity(ctx, Identity{
				SubjectID: claims.Subject,
				Role:      claims.Role,
				ClinicID:  claims.ClinicID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CaptureProvenance records anonymized origin metadata for consent audit
// trails: /24-truncated IP, user agent, and a coarse device label.
func CaptureProvenance(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.RemoteAddr
		if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			host = h
		}
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			host = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}

		agent := r.UserAgent()
		p := Provenance{
			IP:     privacy.AnonymizeIP(host),
			Agent:  agent,
			Device: deviceLabel(agent),
		}
		ctx := context.WithValue(r.Context(), provenanceKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func deviceLabel(agent string) string {
	if agent == "" {
		return "unknown"
	}
	ua := useragent.New(agent)
	name, version := ua.Browser()
	label := name
	if version != "" {
		label = name + " " + version
	}
	if ua.Mobile() {
		return "mobile/" + label
	}
	if ua.Bot() {
		return "bot/" + label
	}
	return "desktop/" + label
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":"unauthorized","error_description":%q}`, msg)
}
