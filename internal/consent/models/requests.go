package models

import "time"

// CreateRequest captures a new consent decision for the authenticated subject.
type CreateRequest struct {
	DataCategories          []DataCategory `json:"dataCategories" validate:"required,min=1,dive,required"`
	ProcessingPurposes      []Purpose      `json:"processingPurposes" validate:"required,min=1,dive,required"`
	ThirdPartySharing       bool           `json:"thirdPartySharing"`
	AutomatedDecisionMaking bool           `json:"automatedDecisionMaking"`
	InternationalTransfer   bool           `json:"internationalTransfer"`
	RetentionPeriodDays     int            `json:"retentionPeriodDays" validate:"gte=0"`
	LegalBasis              LegalBasis     `json:"legalBasis" validate:"required"`
	ExpiryDate              *time.Time     `json:"expiryDate,omitempty"`
	ClinicID                string         `json:"clinicId" validate:"omitempty,notblank"`
	ProfessionalID          string         `json:"professionalId" validate:"omitempty,notblank"`
}

// WithdrawRequest revokes an active consent.
type WithdrawRequest struct {
	Method          string     `json:"method" validate:"required,oneof=api portal verbal written"`
	Reason          string     `json:"reason"`
	RequestedAction DataAction `json:"requestedAction" validate:"required"`
}

// MigrateRequest moves a consent to a newer policy version. The old record is
// expired and a replacement GRANTED record is created and chained to it.
type MigrateRequest struct {
	TargetVersion Version `json:"targetVersion" validate:"required"`
}

// CheckRequest asks whether processing is authorized right now.
type CheckRequest struct {
	Purpose        Purpose        `json:"purpose" validate:"required"`
	DataCategories []DataCategory `json:"dataCategories" validate:"omitempty,dive,required"`
}

// ConsentResponse is the wire form of a consent record. Provenance is never
// echoed back.
type ConsentResponse struct {
	ID                 string         `json:"id"`
	SubjectID          string         `json:"subjectId"`
	Version            Version        `json:"version"`
	Status             Status         `json:"status"`
	DataCategories     []DataCategory `json:"dataCategories"`
	ProcessingPurposes []Purpose      `json:"processingPurposes"`
	ConsentDate        time.Time      `json:"consentDate"`
	ExpiryDate         time.Time      `json:"expiryDate"`
	LegalBasis         LegalBasis     `json:"legalBasis"`
	PreviousVersionID  string         `json:"previousVersionId,omitempty"`
	NextVersionID      string         `json:"nextVersionId,omitempty"`
	WithdrawnAt        *time.Time     `json:"withdrawnAt,omitempty"`
}

// ListResponse wraps a subject's consent history.
type ListResponse struct {
	Consents []ConsentResponse `json:"consents"`
}

// VerdictResponse is the wire form of an authorization verdict.
type VerdictResponse struct {
	Allowed           bool           `json:"allowed"`
	ConsentID         string         `json:"consentId,omitempty"`
	MissingCategories []DataCategory `json:"missingCategories,omitempty"`
	MissingPurposes   []Purpose      `json:"missingPurposes,omitempty"`
	Reason            string         `json:"reason,omitempty"`
}

// ToResponse converts a record to its wire form at the given instant.
func (r *Record) ToResponse(now time.Time) ConsentResponse {
	resp := ConsentResponse{
		ID:                 r.ID,
		SubjectID:          r.SubjectID,
		Version:            r.Version,
		Status:             r.ComputeStatus(now),
		DataCategories:     r.Granularity.DataCategories,
		ProcessingPurposes: r.Granularity.ProcessingPurposes,
		ConsentDate:        r.ConsentDate,
		ExpiryDate:         r.ExpiryDate,
		LegalBasis:         r.LegalBasis,
		PreviousVersionID:  r.PreviousVersionID,
		NextVersionID:      r.NextVersionID,
	}
	if r.Withdrawal != nil {
		t := r.Withdrawal.WithdrawalDate
		resp.WithdrawnAt = &t
	}
	return resp
}

// ToVerdictResponse converts a verdict to its wire form.
func (v Verdict) ToVerdictResponse() VerdictResponse {
	return VerdictResponse{
		Allowed:           v.Allowed,
		ConsentID:         v.ConsentID,
		MissingCategories: v.MissingCategories,
		MissingPurposes:   v.MissingPurposes,
		Reason:            v.Reason,
	}
}
