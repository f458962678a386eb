package models

import (
	"time"

	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
)

// DefaultValidity is the expiry applied when a consent is created without an
// explicit expiry date.
const DefaultValidity = 365 * 24 * time.Hour

// Granularity is exactly what a single consent record authorizes: which data
// categories and purposes, and the sharing/transfer permissions attached.
type Granularity struct {
	DataCategories          []DataCategory
	ProcessingPurposes      []Purpose
	ThirdPartySharing       bool
	AutomatedDecisionMaking bool
	InternationalTransfer   bool
	RetentionPeriodDays     int
}

// Covers reports whether the granularity is a superset of the requested
// categories and purposes, returning the missing items when it is not.
// Callers need the reason, never a bare boolean.
func (g Granularity) Covers(categories []DataCategory, purposes []Purpose) (missingCats []DataCategory, missingPurposes []Purpose) {
	have := make(map[DataCategory]bool, len(g.DataCategories))
	for _, c := range g.DataCategories {
		have[c] = true
	}
	for _, c := range categories {
		if !have[c] {
			missingCats = append(missingCats, c)
		}
	}

	haveP := make(map[Purpose]bool, len(g.ProcessingPurposes))
	for _, p := range g.ProcessingPurposes {
		haveP[p] = true
	}
	for _, p := range purposes {
		if !haveP[p] {
			missingPurposes = append(missingPurposes, p)
		}
	}
	return missingCats, missingPurposes
}

// Provenance records where a consent decision came from. The IP is stored in
// anonymized form only.
type Provenance struct {
	IP          string
	Agent       string
	Device      string
	Geolocation string
}

// HealthcareContext ties a consent to the clinic setting it was collected in.
type HealthcareContext struct {
	ClinicID        string
	ProfessionalID  string
	EmergencyAccess bool
}

// WithdrawalRecord is 1:1 with a withdrawn consent record.
type WithdrawalRecord struct {
	WithdrawalDate   time.Time
	Method           string
	Reason           string
	RequestedAction  DataAction
	ProcessedAt      *time.Time
	ConfirmationSent bool
}

// Record is one consent decision for a subject at a specific version.
//
// # Scoping Invariant
//
// A consent ID alone is never sufficient to authorize access to a record: all
// store queries include the subject ID, preventing enumeration and IDOR-style
// access to other subjects' consents.
//
// # Version Chain
//
// Records form an append-only chain through PreviousVersionID/NextVersionID,
// stored as plain identifiers. Migration creates a new record and expires the
// old one; record contents are never rewritten.
type Record struct {
	ID          string
	SubjectID   string
	Version     Version
	Status      Status
	Granularity Granularity
	ConsentDate time.Time
	ExpiryDate  time.Time
	LegalBasis  LegalBasis

	Withdrawal *WithdrawalRecord

	PreviousVersionID string
	NextVersionID     string

	Provenance Provenance
	Healthcare HealthcareContext
}

// NewRecord creates a GRANTED Record with domain invariant checks.
func NewRecord(id, subjectID string, version Version, g Granularity, basis LegalBasis, consentDate time.Time, expiry time.Time) (*Record, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "consent ID required")
	}
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject ID required")
	}
	if !version.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown consent version")
	}
	if !basis.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid legal basis")
	}
	if len(g.ProcessingPurposes) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "at least one processing purpose required")
	}
	for _, p := range g.ProcessingPurposes {
		if !p.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid processing purpose")
		}
	}
	for _, c := range g.DataCategories {
		if !c.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid data category")
		}
	}
	if consentDate.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "consent date required")
	}
	if expiry.IsZero() {
		expiry = consentDate.Add(DefaultValidity)
	}
	if expiry.Before(consentDate) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "expiry must be after consent date")
	}
	return &Record{
		ID:          id,
		SubjectID:   subjectID,
		Version:     version,
		Status:      StatusGranted,
		Granularity: g,
		ConsentDate: consentDate,
		ExpiryDate:  expiry,
		LegalBasis:  basis,
	}, nil
}

// IsActive returns true when the consent authorizes processing at the given time.
func (r Record) IsActive(now time.Time) bool {
	if r.Status != StatusGranted {
		return false
	}
	return !r.ExpiryDate.Before(now)
}

// ComputeStatus reports the effective lifecycle state at the provided time.
// A persisted GRANTED record whose expiry has passed reads as EXPIRED.
func (r Record) ComputeStatus(now time.Time) Status {
	if r.Status == StatusGranted && r.ExpiryDate.Before(now) {
		return StatusExpired
	}
	return r.Status
}

// ValidateTransition checks the state machine before a status change.
func (r Record) ValidateTransition(target Status, now time.Time) error {
	current := r.ComputeStatus(now)
	if current.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidState, "consent is in terminal state "+string(current))
	}
	if !current.CanTransitionTo(target) {
		return dErrors.New(dErrors.CodeInvalidState, "transition "+string(current)+" -> "+string(target)+" is not valid")
	}
	return nil
}

// ActivePurposes returns the purposes this record currently authorizes, or
// nil when the record is not active.
func (r Record) ActivePurposes(now time.Time) []Purpose {
	if !r.IsActive(now) {
		return nil
	}
	return r.Granularity.ProcessingPurposes
}

// RecordFilter allows filtering consent records by purpose and status.
type RecordFilter struct {
	Purpose *Purpose
	Status  *Status
}

// Verdict is the structured result of a processing-authorization check.
// DENY outcomes enumerate exactly what is missing so callers can audit the
// reason and surface remediation.
type Verdict struct {
	Allowed           bool
	ConsentID         string
	MissingCategories []DataCategory
	MissingPurposes   []Purpose
	Reason            string
}
