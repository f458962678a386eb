package httptransport

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/transport/http/shared"
)

func TestAuthorizeDeniedStrictMode(t *testing.T) {
	env := newTestEnv(t, true)
	token := signedAssertion(t, "dr-1", "doctor")

	rec := env.do(t, http.MethodPost, "/authorize", token, map[string]any{
		"subjectId": "patient-1",
		"resource":  "medical_record",
		"payload":   map[string]any{"diagnosis": "hipertensão"},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp shared.ConsentRequired
	decodeBody(t, rec, &resp)
	require.Equal(t, "consent_required", resp.Error)
	require.Equal(t, models.PurposeMedicalCare, resp.Purpose)
	require.Equal(t, "/consent", resp.ConsentURL)
	require.Equal(t, []models.Purpose{models.PurposeMedicalCare}, resp.MissingPurposes)
}

func TestAuthorizeAllowedMasksPayload(t *testing.T) {
	env := newTestEnv(t, true)
	patient := signedAssertion(t, "patient-1", "patient")
	staff := signedAssertion(t, "staff-1", "reception")

	rec := env.do(t, http.MethodPost, "/consents", patient, createConsentBody(models.PurposeMedicalCare))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/authorize", staff, map[string]any{
		"subjectId": "patient-1",
		"resource":  "medical_record",
		"payload": map[string]any{
			"cpf":  "123.456.789-00",
			"name": "Maria Souza",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthorizeResponse
	decodeBody(t, rec, &resp)
	require.True(t, resp.Allowed)
	require.Equal(t, "XXX.XXX.XXX-00", resp.Payload["cpf"])
	require.Equal(t, "Maria Souza", resp.Payload["name"])
	require.Equal(t, 1, resp.Masking.FieldsMasked)
}

func TestAuthorizeExemptPurposeAlwaysAllows(t *testing.T) {
	env := newTestEnv(t, true)
	token := signedAssertion(t, "auditor-1", "admin")

	rec := env.do(t, http.MethodPost, "/authorize", token, map[string]any{
		"subjectId": "patient-1",
		"resource":  "medical_record",
		"purpose":   models.PurposeLegalObligation,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthorizeResponse
	decodeBody(t, rec, &resp)
	require.True(t, resp.Allowed)
}

func TestAuthorizeLenientModeReportsDenial(t *testing.T) {
	env := newTestEnv(t, false)
	token := signedAssertion(t, "staff-1", "reception")

	rec := env.do(t, http.MethodPost, "/authorize", token, map[string]any{
		"subjectId": "patient-1",
		"resource":  "appointment",
		"payload":   map[string]any{"phone": "11987654321"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthorizeResponse
	decodeBody(t, rec, &resp)
	require.False(t, resp.Allowed)
	require.Equal(t, "11***21", resp.Payload["phone"], "lenient mode still masks what flows")
}

func TestAuthorizeUnknownResource(t *testing.T) {
	env := newTestEnv(t, true)
	token := signedAssertion(t, "staff-1", "reception")

	rec := env.do(t, http.MethodPost, "/authorize", token, map[string]any{
		"subjectId": "patient-1",
		"resource":  "crystal_ball",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
