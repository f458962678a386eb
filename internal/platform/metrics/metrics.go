package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the compliance engine.
type Metrics struct {
	// Consent lifecycle
	ConsentsCreated      *prometheus.CounterVec
	ConsentsWithdrawn    *prometheus.CounterVec
	ConsentConflicts     prometheus.Counter
	ConsentChecksAllowed *prometheus.CounterVec
	ConsentChecksDenied  *prometheus.CounterVec

	// Authorization gate
	AuthorizeDecisions *prometheus.CounterVec
	AuthorizeLatency   prometheus.Histogram

	// Masking engine
	FieldsMasked      *prometheus.CounterVec
	MaskingFailures   prometheus.Counter
	EmergencyBypasses prometheus.Counter

	// Audit pipeline
	AuditEntriesRecorded  prometheus.Counter
	AuditBufferSaturated  prometheus.Counter
	OutboxPublished       prometheus.Counter
	OutboxPublishFailures prometheus.Counter

	// Retention
	RetentionRecordsDeleted    *prometheus.CounterVec
	RetentionRecordsAnonymized *prometheus.CounterVec
	RetentionReviewsMarked     *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ConsentsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_consents_created_total",
			Help: "Total number of consents created, labeled by purpose",
		}, []string{"purpose"}),
		ConsentsWithdrawn: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_consents_withdrawn_total",
			Help: "Total number of consents withdrawn, labeled by data action",
		}, []string{"data_action"}),
		ConsentConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "neonpro_consent_conflicts_total",
			Help: "Total number of consent creations rejected for overlapping an active grant",
		}),
		ConsentChecksAllowed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_consent_checks_allowed_total",
			Help: "Total number of processing-authorization checks that allowed, labeled by purpose",
		}, []string{"purpose"}),
		ConsentChecksDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_consent_checks_denied_total",
			Help: "Total number of processing-authorization checks that denied, labeled by purpose",
		}, []string{"purpose"}),
		AuthorizeDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_authorize_decisions_total",
			Help: "Authorization gate decisions, labeled by purpose and outcome",
		}, []string{"purpose", "outcome"}),
		AuthorizeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "neonpro_authorize_latency_seconds",
			Help:    "Latency of authorization decisions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		FieldsMasked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_fields_masked_total",
			Help: "Total number of fields masked, labeled by technique",
		}, []string{"technique"}),
		MaskingFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "neonpro_masking_failures_total",
			Help: "Total number of masking failures resolved to redaction",
		}),
		EmergencyBypasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "neonpro_emergency_bypasses_total",
			Help: "Total number of emergency-access masking bypasses on medical fields",
		}),
		AuditEntriesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "neonpro_audit_entries_recorded_total",
			Help: "Total number of audit entries recorded",
		}),
		AuditBufferSaturated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "neonpro_audit_buffer_saturated_total",
			Help: "Total number of audit entries written synchronously because the async buffer was full",
		}),
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "neonpro_audit_outbox_published_total",
			Help: "Total number of outbox entries delivered to the audit topic",
		}),
		OutboxPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "neonpro_audit_outbox_publish_failures_total",
			Help: "Total number of outbox delivery failures, retried on the next poll",
		}),
		RetentionRecordsDeleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_retention_records_deleted_total",
			Help: "Total number of records deleted by retention evaluation, labeled by data category",
		}, []string{"category"}),
		RetentionRecordsAnonymized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_retention_records_anonymized_total",
			Help: "Total number of records anonymized by retention evaluation, labeled by data category",
		}, []string{"category"}),
		RetentionReviewsMarked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "neonpro_retention_reviews_marked_total",
			Help: "Total number of records marked for manual retention review, labeled by data category",
		}, []string{"category"}),
	}
}

func (m *Metrics) IncConsentsCreated(purpose string) {
	m.ConsentsCreated.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncConsentsWithdrawn(dataAction string) {
	m.ConsentsWithdrawn.WithLabelValues(dataAction).Inc()
}

func (m *Metrics) IncConsentConflicts() {
	m.ConsentConflicts.Inc()
}

func (m *Metrics) IncConsentChecksAllowed(purpose string) {
	m.ConsentChecksAllowed.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncConsentChecksDenied(purpose string) {
	m.ConsentChecksDenied.WithLabelValues(purpose).Inc()
}

func (m *Metrics) IncAuthorizeDecision(purpose, outcome string) {
	m.AuthorizeDecisions.WithLabelValues(purpose, outcome).Inc()
}

func (m *Metrics) ObserveAuthorizeLatency(seconds float64) {
	m.AuthorizeLatency.Observe(seconds)
}

func (m *Metrics) IncFieldsMasked(technique string) {
	m.FieldsMasked.WithLabelValues(technique).Inc()
}

func (m *Metrics) IncMaskingFailures() {
	m.MaskingFailures.Inc()
}

func (m *Metrics) IncEmergencyBypasses() {
	m.EmergencyBypasses.Inc()
}

func (m *Metrics) IncAuditEntriesRecorded() {
	m.AuditEntriesRecorded.Inc()
}

func (m *Metrics) IncAuditBufferSaturated() {
	m.AuditBufferSaturated.Inc()
}

func (m *Metrics) IncOutboxPublished() {
	m.OutboxPublished.Inc()
}

func (m *Metrics) IncOutboxPublishFailures() {
	m.OutboxPublishFailures.Inc()
}

func (m *Metrics) IncRetentionDeleted(category string, n int) {
	m.RetentionRecordsDeleted.WithLabelValues(category).Add(float64(n))
}

func (m *Metrics) IncRetentionAnonymized(category string, n int) {
	m.RetentionRecordsAnonymized.WithLabelValues(category).Add(float64(n))
}

func (m *Metrics) IncRetentionReviews(category string, n int) {
	m.RetentionReviewsMarked.WithLabelValues(category).Add(float64(n))
}
