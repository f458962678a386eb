package httptransport

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/authz"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	consentservice "github.com/GrupoUS/neonpro-sub010/internal/consent/service"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/store"
	"github.com/GrupoUS/neonpro-sub010/internal/dsr"
	"github.com/GrupoUS/neonpro-sub010/internal/masking"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/middleware"
)

const testAssertionKey = "transport-test-assertion-key"

type testEnv struct {
	handler    http.Handler
	auditStore *audit.InMemoryStore
	vault      *masking.MemoryVault
}

func newTestEnv(t *testing.T, strict bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditStore := audit.NewInMemoryStore()
	publisher := audit.NewPublisher(auditStore)
	consents := store.New()
	tx := store.NewMemoryTxRunner(consents, auditStore)
	consentSvc := consentservice.NewService(consents, tx, publisher, logger)

	vault, err := masking.NewMemoryVault("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	engine := masking.NewEngine(masking.DefaultRules(), masking.NewMasker("test-pepper"), vault, publisher, logger)

	var gateOpts []authz.Option
	if !strict {
		gateOpts = append(gateOpts, authz.WithLenientMode())
	}
	gate := authz.NewGate(consentSvc, engine, logger, gateOpts...)

	dsrSvc := dsr.NewService(dsr.NewInMemoryStore(), consentSvc, publisher, logger)

	handler := Router{
		Consent:      NewConsentHandler(consentSvc),
		Authorize:    NewAuthorizeHandler(gate, strict, "/consent"),
		Masking:      NewMaskingHandler(engine),
		DSR:          NewDSRHandler(dsrSvc),
		AssertionKey: testAssertionKey,
		Logger:       logger,
	}.Build()

	return &testEnv{handler: handler, auditStore: auditStore, vault: vault}
}

func signedAssertion(t *testing.T, subject, role string) string {
	t.Helper()
	claims := middleware.SubjectClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAssertionKey))
	require.NoError(t, err)
	return raw
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
}

func createConsentBody(purposes ...models.Purpose) map[string]any {
	if len(purposes) == 0 {
		purposes = []models.Purpose{models.PurposeMedicalCare}
	}
	return map[string]any{
		"dataCategories":     []models.DataCategory{models.CategoryPersonal, models.CategoryMedical},
		"processingPurposes": purposes,
		"legalBasis":         models.BasisConsent,
	}
}

func TestConsentCreate(t *testing.T) {
	env := newTestEnv(t, true)
	token := signedAssertion(t, "patient-1", "patient")

	rec := env.do(t, http.MethodPost, "/consents", token, createConsentBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp models.ConsentResponse
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.ID)
	require.Equal(t, "patient-1", resp.SubjectID)
	require.Equal(t, models.StatusGranted, resp.Status)
}

func TestConsentCreateRequiresAssertion(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/consents", "", createConsentBody())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConsentCreateValidation(t *testing.T) {
	env := newTestEnv(t, true)
	token := signedAssertion(t, "patient-1", "patient")

	rec := env.do(t, http.MethodPost, "/consents", token, map[string]any{
		"processingPurposes": []models.Purpose{models.PurposeMedicalCare},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	decodeBody(t, rec, &resp)
	require.Equal(t, "validation_failed", resp["error"])
}

func TestConsentCreateConflict(t *testing.T) {
	env := newTestEnv(t, true)
	token := signedAssertion(t, "patient-1", "patient")

	rec := env.do(t, http.MethodPost, "/consents", token, createConsentBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/consents", token, createConsentBody())
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestConsentWithdrawLifecycle(t *testing.T) {
	env := newTestEnv(t, true)
	token := signedAssertion(t, "patient-1", "patient")

	rec := env.do(t, http.MethodPost, "/consents", token, createConsentBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.ConsentResponse
	decodeBody(t, rec, &created)

	withdrawal := map[string]any{
		"method":          "api",
		"reason":          "no longer a patient",
		"requestedAction": models.ActionRetainUntilExpiry,
	}
	rec = env.do(t, http.MethodPost, "/consents/"+created.ID+"/withdraw", token, withdrawal)
	require.Equal(t, http.StatusOK, rec.Code)
	var withdrawn models.ConsentResponse
	decodeBody(t, rec, &withdrawn)
	require.Equal(t, models.StatusWithdrawn, withdrawn.Status)
	require.NotNil(t, withdrawn.WithdrawnAt)

	// Withdrawn is terminal.
	rec = env.do(t, http.MethodPost, "/consents/"+created.ID+"/withdraw", token, withdrawal)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestConsentSubjectScoping(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/consents", signedAssertion(t, "patient-1", "patient"), createConsentBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.ConsentResponse
	decodeBody(t, rec, &created)

	rec = env.do(t, http.MethodGet, "/consents/"+created.ID, signedAssertion(t, "patient-2", "patient"), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConsentListWithStatusFilter(t *testing.T) {
	env := newTestEnv(t, true)
	token := signedAssertion(t, "patient-1", "patient")

	rec := env.do(t, http.MethodPost, "/consents", token, createConsentBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/consents?status=granted", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list models.ListResponse
	decodeBody(t, rec, &list)
	require.Len(t, list.Consents, 1)

	rec = env.do(t, http.MethodGet, "/consents?status=withdrawn", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &list)
	require.Empty(t, list.Consents)

	rec = env.do(t, http.MethodGet, "/consents?status=vaporized", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConsentCheck(t *testing.T) {
	env := newTestEnv(t, true)
	token := signedAssertion(t, "patient-1", "patient")

	rec := env.do(t, http.MethodPost, "/consents/check", token, map[string]any{
		"purpose":        models.PurposeMedicalCare,
		"dataCategories": []models.DataCategory{models.CategoryMedical},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict models.VerdictResponse
	decodeBody(t, rec, &verdict)
	require.False(t, verdict.Allowed)
	require.Equal(t, []models.Purpose{models.PurposeMedicalCare}, verdict.MissingPurposes)

	rec = env.do(t, http.MethodPost, "/consents", token, createConsentBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/consents/check", token, map[string]any{
		"purpose":        models.PurposeMedicalCare,
		"dataCategories": []models.DataCategory{models.CategoryMedical},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &verdict)
	require.True(t, verdict.Allowed)
	require.NotEmpty(t, verdict.ConsentID)
}
