package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAssertionKey = "test-assertion-key"

func signAssertion(t *testing.T, subject, role string) string {
	t.Helper()
	claims := &SubjectClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testAssertionKey))
	require.NoError(t, err)
	return signed
}

func TestRequireSubject(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var captured Identity
	handler := RequireSubject(testAssertionKey, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid assertion populates identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/patients/p1", nil)
		req.Header.Set("Authorization", "Bearer "+signAssertion(t, "subj-1", "doctor"))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "subj-1", captured.SubjectID)
		assert.Equal(t, "doctor", captured.Role)
	})

	t.Run("missing assertion rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/patients/p1", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("tampered assertion rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/patients/p1", nil)
		req.Header.Set("Authorization", "Bearer "+signAssertion(t, "subj-1", "doctor")+"x")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCaptureProvenance_AnonymizesIP(t *testing.T) {
	var captured Provenance
	handler := CaptureProvenance(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetProvenance(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/consent", nil)
	req.RemoteAddr = "203.0.113.77:51234"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, "203.0.113.0", captured.IP, "raw IP must never enter the context")
	assert.NotEmpty(t, captured.Device)
}
