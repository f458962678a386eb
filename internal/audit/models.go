package audit

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks audit entries for compliance triage. ELEVATED marks
// emergency-access bypasses; CRITICAL marks fail-closed denials caused by
// infrastructure faults, which are distinct from ordinary denials.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityElevated Severity = "elevated"
	SeverityCritical Severity = "critical"
)

// Entry is the append-only record of a compliance decision or state change.
//
// The field set (action, resource type/id, actor, purpose, consent_present,
// success, timestamp, details) is a durable contract that external reporting
// tools depend on; changes require versioning.
type Entry struct {
	ID           string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Purpose      string

	ConsentPresent bool
	Success        bool
	Severity       Severity
	Reason         string

	// Anonymized origin metadata.
	IP    string
	Agent string

	// State snapshots for consent mutations, JSON-encoded.
	PreviousState []byte
	NewState      []byte

	Timestamp time.Time
}

// NewEntry builds an Entry with an assigned ID and timestamp. Severity
// defaults to info.
func NewEntry(actorID, action, resourceType, resourceID string) Entry {
	return Entry{
		ID:           uuid.New().String(),
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Severity:     SeverityInfo,
		Timestamp:    time.Now().UTC(),
	}
}

// Resource types recorded in audit entries.
const (
	ResourceConsent       = "consent"
	ResourceMaskingRule   = "masking_rule"
	ResourcePayloadField  = "payload_field"
	ResourceSubjectData   = "subject_data"
	ResourceDataRequest   = "data_subject_request"
	ResourceRetentionScan = "retention_scan"
)

// Actions outside the consent lifecycle.
const (
	ActionAccessAllowed      = "access_allowed"
	ActionAccessDenied       = "access_denied"
	ActionEmergencyBypass    = "emergency_access_bypass"
	ActionMaskingFailure     = "masking_failure_redacted"
	ActionRuleAdded          = "masking_rule_added"
	ActionRuleRemoved        = "masking_rule_removed"
	ActionRetentionExecuted  = "retention_executed"
	ActionRetentionReview    = "retention_review_marked"
	ActionRequestOpened      = "data_subject_request_opened"
	ActionRequestCompleted   = "data_subject_request_completed"
	ActionUnmaskAuthorized   = "unmask_authorized"
	ActionUnmaskDenied       = "unmask_denied"
	ActionAuditCleanup       = "audit_retention_cleanup"
	ActionStorageUnavailable = "storage_unavailable_denied"
)
