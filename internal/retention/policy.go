// Package retention evaluates data retention policies on a schedule. Legal
// minimum retention periods are floors: configuration may extend them but
// never shorten them.
package retention

import "time"

// Data categories the engine retains records for.
const (
	CategoryMedical = "medical_records"
	CategoryPatient = "patient_data"
	CategoryConsent = "consent_records"
	CategoryAudit   = "audit_logs"
	CategorySystem  = "system_logs"
)

// legalFloorYears are the minimum retention periods mandated by law.
var legalFloorYears = map[string]int{
	CategoryMedical: 20,
	CategoryPatient: 20,
	CategoryConsent: 10,
	CategoryAudit:   7,
	CategorySystem:  2,
}

// Policy governs one data category.
type Policy struct {
	Category string
	Years    int
	// AutoDelete executes the purge; ReviewRequired only flags records for
	// a human decision. A policy is one or the other.
	AutoDelete     bool
	ReviewRequired bool
	// LegalBasis cites the statute the period derives from.
	LegalBasis string
}

// Cutoff returns the point in time before which records fall out of the
// policy's retention window.
func (p Policy) Cutoff(now time.Time) time.Time {
	return now.AddDate(-p.Years, 0, 0)
}

// normalize raises the policy period to the legal floor when configuration
// asks for less.
func (p Policy) normalize() Policy {
	if floor, ok := legalFloorYears[p.Category]; ok && p.Years < floor {
		p.Years = floor
	}
	return p
}

// DefaultPolicies returns the engine's standing retention policies. Medical
// and patient data require human review before disposal; consent, audit and
// system records are purged automatically once past their period.
func DefaultPolicies() []Policy {
	return []Policy{
		{Category: CategoryMedical, Years: 20, ReviewRequired: true, LegalBasis: "CFM Resolution 1.821/2007 art. 8"},
		{Category: CategoryPatient, Years: 20, ReviewRequired: true, LegalBasis: "CFM Resolution 1.821/2007 art. 8"},
		{Category: CategoryConsent, Years: 10, AutoDelete: true, LegalBasis: "LGPD art. 16"},
		{Category: CategoryAudit, Years: 7, AutoDelete: true, LegalBasis: "LGPD art. 37"},
		{Category: CategorySystem, Years: 2, AutoDelete: true, LegalBasis: "Marco Civil art. 13"},
	}
}

// NormalizePolicies applies the legal floors to a configured policy list.
func NormalizePolicies(policies []Policy) []Policy {
	out := make([]Policy, len(policies))
	for i, p := range policies {
		out[i] = p.normalize()
	}
	return out
}
