// Package shared centralizes domain error translation to HTTP responses.
package shared

import (
	"errors"
	"net/http"

	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	respond "github.com/GrupoUS/neonpro-sub010/internal/transport/http/json"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
)

// WriteError translates a domain error into an HTTP status and a JSON error
// envelope. Unknown errors become 500 without leaking their message.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		respond.WriteJSON(w, StatusForCode(domainErr.Code), response)
		return
	}

	respond.WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}

// ConsentRequired is the structured denial returned when processing lacks
// consent. ConsentURL points the client at the remediation flow.
type ConsentRequired struct {
	Error             string                `json:"error"`
	Purpose           models.Purpose        `json:"purpose"`
	MissingCategories []models.DataCategory `json:"missingCategories,omitempty"`
	MissingPurposes   []models.Purpose      `json:"missingPurposes,omitempty"`
	Reason            string                `json:"reason,omitempty"`
	ConsentURL        string                `json:"consentUrl"`
}

// WriteConsentRequired writes the 403 denial carrying the missing consent
// details and the remediation link.
func WriteConsentRequired(w http.ResponseWriter, purpose models.Purpose, verdict models.Verdict, consentURL string) {
	respond.WriteJSON(w, http.StatusForbidden, ConsentRequired{
		Error:             string(dErrors.CodeMissingConsent),
		Purpose:           purpose,
		MissingCategories: verdict.MissingCategories,
		MissingPurposes:   verdict.MissingPurposes,
		Reason:            verdict.Reason,
		ConsentURL:        consentURL,
	})
}

// StatusForCode maps domain error codes to HTTP status codes.
func StatusForCode(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeInvariantViolation:
		return http.StatusBadRequest
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeInvalidConsent, dErrors.CodeMissingConsent:
		return http.StatusForbidden
	case dErrors.CodeInvalidState:
		return http.StatusUnprocessableEntity
	case dErrors.CodePolicyViolation:
		return http.StatusPreconditionFailed
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
