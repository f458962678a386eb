package models

// Purpose labels why personal or health data is processed. Purpose binding
// allows selective withdrawal without affecting other flows.
type Purpose string

const (
	PurposeMedicalCare     Purpose = "medical_care"
	PurposeAppointments    Purpose = "appointment_scheduling"
	PurposeBilling         Purpose = "billing"
	PurposeMedicalResearch Purpose = "medical_research"
	PurposeMarketing       Purpose = "marketing"
	PurposeLegalObligation Purpose = "legal_obligation"
	PurposeVitalInterest   Purpose = "vital_interest"
)

// ValidPurposes is the single source of truth for all valid processing purposes.
var ValidPurposes = map[Purpose]bool{
	PurposeMedicalCare:     true,
	PurposeAppointments:    true,
	PurposeBilling:         true,
	PurposeMedicalResearch: true,
	PurposeMarketing:       true,
	PurposeLegalObligation: true,
	PurposeVitalInterest:   true,
}

// IsValid checks if the purpose is one of the supported enum values.
func (p Purpose) IsValid() bool {
	return ValidPurposes[p]
}

// ExemptPurposes are authorized by law rather than by consent. The gate
// always allows them, but still audits every access.
var ExemptPurposes = map[Purpose]bool{
	PurposeLegalObligation: true,
	PurposeVitalInterest:   true,
}

// IsExempt reports whether the purpose is exempt from consent checks.
func (p Purpose) IsExempt() bool {
	return ExemptPurposes[p]
}

// Status represents the lifecycle state of a consent record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusGranted   Status = "granted"
	StatusDenied    Status = "denied"
	StatusWithdrawn Status = "withdrawn"
	StatusExpired   Status = "expired"
)

// IsValid checks if the status is one of the supported enum values.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusGranted, StatusDenied, StatusWithdrawn, StatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusDenied || s == StatusWithdrawn || s == StatusExpired
}

// validTransitions encodes the consent state machine:
// PENDING -> GRANTED | DENIED; GRANTED -> WITHDRAWN | EXPIRED.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusGranted, StatusDenied},
	StatusGranted: {StatusWithdrawn, StatusExpired},
}

// CanTransitionTo reports whether the state machine permits moving to target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Version identifies a consent schema generation. Versions are ordered; each
// adds capabilities over the previous one.
type Version string

const (
	VersionV1 Version = "v1"
	VersionV2 Version = "v2"
	VersionV3 Version = "v3"
)

// versionRank orders known versions. Unknown versions rank 0.
var versionRank = map[Version]int{
	VersionV1: 1,
	VersionV2: 2,
	VersionV3: 3,
}

// IsValid checks if the version is registered.
func (v Version) IsValid() bool {
	return versionRank[v] > 0
}

// Newer reports whether v is strictly newer than other.
func (v Version) Newer(other Version) bool {
	return versionRank[v] > versionRank[other]
}

// DataCategory tags the kind of personal data a consent covers and masking
// rules target.
type DataCategory string

const (
	CategoryPersonal   DataCategory = "personal"
	CategoryContact    DataCategory = "contact"
	CategoryMedical    DataCategory = "medical"
	CategoryFinancial  DataCategory = "financial"
	CategoryBiometric  DataCategory = "biometric"
	CategoryBehavioral DataCategory = "behavioral"
)

// ValidCategories is the single source of truth for data category tags.
var ValidCategories = map[DataCategory]bool{
	CategoryPersonal:   true,
	CategoryContact:    true,
	CategoryMedical:    true,
	CategoryFinancial:  true,
	CategoryBiometric:  true,
	CategoryBehavioral: true,
}

// IsValid checks if the category is one of the supported enum values.
func (c DataCategory) IsValid() bool {
	return ValidCategories[c]
}

// LegalBasis is the lawful ground for processing under data-protection law.
type LegalBasis string

const (
	BasisConsent            LegalBasis = "consent"
	BasisLegalObligation    LegalBasis = "legal_obligation"
	BasisVitalInterest      LegalBasis = "vital_interest"
	BasisContract           LegalBasis = "contract"
	BasisLegitimateInterest LegalBasis = "legitimate_interest"
)

// IsValid checks if the legal basis is one of the supported enum values.
func (b LegalBasis) IsValid() bool {
	switch b {
	case BasisConsent, BasisLegalObligation, BasisVitalInterest, BasisContract, BasisLegitimateInterest:
		return true
	}
	return false
}

// DataAction is what the subject asked to happen to their data on withdrawal.
type DataAction string

const (
	ActionDelete            DataAction = "delete"
	ActionAnonymize         DataAction = "anonymize"
	ActionRetainUntilExpiry DataAction = "retain_until_expiry"
)

// IsValid checks if the data action is one of the supported enum values.
func (a DataAction) IsValid() bool {
	switch a {
	case ActionDelete, ActionAnonymize, ActionRetainUntilExpiry:
		return true
	}
	return false
}
