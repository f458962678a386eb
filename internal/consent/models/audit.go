package models

// Audit event actions describe what consent operation occurred.
const (
	AuditActionConsentCreated     = "consent_created"      // Subject granted a new consent
	AuditActionConsentWithdrawn   = "consent_withdrawn"    // Subject withdrew consent
	AuditActionConsentMigrated    = "consent_migrated"     // Consent migrated to a newer version
	AuditActionConsentExpired     = "consent_expired"      // Consent passed its expiry date
	AuditActionConsentCheckPassed = "consent_check_passed" // Processing authorized: valid consent exists
	AuditActionConsentCheckFailed = "consent_check_failed" // Processing denied: consent missing/withdrawn/expired
	AuditActionDataDeleted        = "subject_data_deleted" // Withdrawal data action DELETE executed
	AuditActionDataAnonymized     = "subject_data_anonymized"
)

// Audit event reasons explain why the action was taken.
const (
	AuditReasonSubjectInitiated = "subject_initiated"
	AuditReasonVersionMigration = "version_migration"
	AuditReasonRetentionPolicy  = "retention_policy"
)
