package httptransport

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskingRulesList(t *testing.T) {
	env := newTestEnv(t, true)
	token := signedAssertion(t, "staff-1", "reception")

	rec := env.do(t, http.MethodGet, "/masking/rules", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RuleSetResponse
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Version)
	require.NotEmpty(t, resp.Rules)
}

func TestMaskingRuleAdministrationRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, true)
	rule := map[string]any{
		"field":     "motherName",
		"category":  "personal",
		"technique": "partial",
		"format":    "generic",
	}

	rec := env.do(t, http.MethodPost, "/masking/rules", signedAssertion(t, "staff-1", "reception"), rule)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/masking/rules", signedAssertion(t, "admin-1", "admin"), rule)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp RuleSetResponse
	decodeBody(t, rec, &resp)
	require.Equal(t, 2, resp.Version)

	rec = env.do(t, http.MethodDelete, "/masking/rules/motherName", signedAssertion(t, "admin-1", "admin"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	require.Equal(t, 3, resp.Version)
}

func TestMaskingRuleWithPatternAndPriority(t *testing.T) {
	env := newTestEnv(t, true)
	rule := map[string]any{
		"pattern":   `secondary(Email|Phone)`,
		"category":  "contact",
		"technique": "full",
		"priority":  5,
	}

	rec := env.do(t, http.MethodPost, "/masking/rules", signedAssertion(t, "admin-1", "admin"), rule)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp RuleSetResponse
	decodeBody(t, rec, &resp)
	// Rules list in evaluation order, highest priority first.
	require.Equal(t, `secondary(Email|Phone)`, resp.Rules[0].Pattern)
	require.Equal(t, 5, resp.Rules[0].Priority)

	rec = env.do(t, http.MethodPost, "/masking/rules", signedAssertion(t, "admin-1", "admin"), map[string]any{
		"pattern":   "(unclosed",
		"category":  "contact",
		"technique": "redact",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnmaskRequiresPrivilegedRole(t *testing.T) {
	env := newTestEnv(t, true)
	token, err := env.vault.Tokenize(context.Background(), "uso contínuo de losartana")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/masking/unmask", signedAssertion(t, "staff-1", "reception"), map[string]any{"token": token})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/masking/unmask", signedAssertion(t, "dpo-1", "dpo"), map[string]any{"token": token})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	require.Equal(t, "uso contínuo de losartana", resp["value"])
}
