// Package service implements the consent lifecycle: creation, withdrawal,
// version migration, and processing-authorization checks.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/store"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/metrics"
	"github.com/GrupoUS/neonpro-sub010/internal/sentinel"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
)

// Notifier delivers withdrawal confirmations to the subject.
type Notifier interface {
	SendWithdrawalConfirmation(ctx context.Context, subjectID string, consentID string) error
}

// NoopNotifier discards confirmations. Used in tests and when no delivery
// channel is configured.
type NoopNotifier struct{}

func (NoopNotifier) SendWithdrawalConfirmation(context.Context, string, string) error { return nil }

const (
	defaultConsentTTL     = 365 * 24 * time.Hour
	defaultStorageTimeout = 2 * time.Second
)

// Service persists consent decisions and enforces lifecycle rules.
//
// Mutations run through the TxRunner so the state change and its audit entry
// commit atomically. Authorization checks are read-only and record their
// decision through the async publisher instead.
type Service struct {
	store          store.Store
	tx             store.TxRunner
	auditor        *audit.Publisher
	notifier       Notifier
	metrics        *metrics.Metrics
	logger         *slog.Logger
	consentTTL     time.Duration
	storageTimeout time.Duration
	strict         bool
}

type Option func(*Service)

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifier sets the withdrawal confirmation channel.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithConsentTTL configures the validity period applied when a consent is
// created without an explicit expiry. Defaults to 1 year.
func WithConsentTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.consentTTL = ttl
		}
	}
}

// WithStorageTimeout bounds consent lookups on the authorization path.
func WithStorageTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.storageTimeout = timeout
		}
	}
}

// WithLenientMode downgrades storage failures on the authorization path from
// DENY to ALLOW-with-elevated-audit. Strict mode is the default.
func WithLenientMode() Option {
	return func(s *Service) {
		s.strict = false
	}
}

func NewService(st store.Store, tx store.TxRunner, auditor *audit.Publisher, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:          st,
		tx:             tx,
		auditor:        auditor,
		notifier:       NoopNotifier{},
		logger:         logger,
		consentTTL:     defaultConsentTTL,
		storageTimeout: defaultStorageTimeout,
		strict:         true,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Create records a new GRANTED consent. Stale GRANTED records whose expiry
// has passed are transitioned to EXPIRED in the same transaction, so a
// replacement grant does not trip the single-active-grant invariant.
func (s *Service) Create(ctx context.Context, subjectID string, req models.CreateRequest, prov models.Provenance, hc models.HealthcareContext) (*models.Record, error) {
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing subject context")
	}
	now := time.Now().UTC()
	expiry := now.Add(s.consentTTL)
	if req.ExpiryDate != nil {
		expiry = req.ExpiryDate.UTC()
	}

	record, err := models.NewRecord(uuid.NewString(), subjectID, models.VersionV3, models.Granularity{
		DataCategories:          req.DataCategories,
		ProcessingPurposes:      req.ProcessingPurposes,
		ThirdPartySharing:       req.ThirdPartySharing,
		AutomatedDecisionMaking: req.AutomatedDecisionMaking,
		InternationalTransfer:   req.InternationalTransfer,
		RetentionPeriodDays:     req.RetentionPeriodDays,
	}, req.LegalBasis, now, expiry)
	if err != nil {
		return nil, err
	}
	record.Provenance = prov
	record.Healthcare = hc

	err = s.tx.RunInTx(ctx, func(tx store.TxStores) error {
		if err := s.expireStale(ctx, tx, subjectID, now); err != nil {
			return err
		}
		if err := tx.Consents.Create(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "an active consent already covers one of the requested purposes")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save consent")
		}
		return tx.Audit.Append(ctx, s.mutationEntry(record, models.AuditActionConsentCreated, nil, record, prov))
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) && s.metrics != nil {
			s.metrics.IncConsentConflicts()
		}
		return nil, err
	}

	for _, p := range record.Granularity.ProcessingPurposes {
		if s.metrics != nil {
			s.metrics.IncConsentsCreated(string(p))
		}
	}
	s.logger.InfoContext(ctx, "consent created",
		"consent_id", record.ID,
		"purposes", record.Granularity.ProcessingPurposes,
		"legal_basis", record.LegalBasis,
	)
	return record, nil
}

// Withdraw moves a GRANTED consent to WITHDRAWN and records the subject's
// requested data action. Anonymization is applied immediately; deletion is
// left for the erasure workflow and stays unprocessed until it completes.
func (s *Service) Withdraw(ctx context.Context, subjectID, consentID string, req models.WithdrawRequest) (*models.Record, error) {
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing subject context")
	}
	if !req.RequestedAction.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid data action: %s", req.RequestedAction))
	}
	now := time.Now().UTC()

	var updated *models.Record
	err := s.tx.RunInTx(ctx, func(tx store.TxStores) error {
		var prev models.Record
		record, err := tx.Consents.Execute(ctx, subjectID, consentID,
			func(r *models.Record) error {
				prev = *r
				return r.ValidateTransition(models.StatusWithdrawn, now)
			},
			func(r *models.Record) {
				r.Status = models.StatusWithdrawn
				w := &models.WithdrawalRecord{
					WithdrawalDate:  now,
					Method:          req.Method,
					Reason:          req.Reason,
					RequestedAction: req.RequestedAction,
				}
				switch req.RequestedAction {
				case models.ActionAnonymize:
					r.Provenance = models.Provenance{}
					r.Healthcare.ProfessionalID = ""
					w.ProcessedAt = &now
				case models.ActionRetainUntilExpiry:
					w.ProcessedAt = &now
				}
				r.Withdrawal = w
			},
		)
		if err != nil {
			return s.translate(err, "failed to withdraw consent")
		}
		updated = record
		return tx.Audit.Append(ctx, s.mutationEntry(record, models.AuditActionConsentWithdrawn, &prev, record, record.Provenance))
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncConsentsWithdrawn(string(req.RequestedAction))
	}
	s.logger.InfoContext(ctx, "consent withdrawn",
		"consent_id", updated.ID,
		"requested_action", req.RequestedAction,
	)
	s.sendConfirmation(ctx, subjectID, consentID)
	return updated, nil
}

// MigrateVersion expires the current record and creates a replacement at the
// target version, linked through the version chain. The record contents are
// never rewritten.
func (s *Service) MigrateVersion(ctx context.Context, subjectID, consentID string, target models.Version) (*models.Record, error) {
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing subject context")
	}
	if !target.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid consent version: %s", target))
	}
	now := time.Now().UTC()
	newID := uuid.NewString()

	var successor *models.Record
	err := s.tx.RunInTx(ctx, func(tx store.TxStores) error {
		var prev models.Record
		old, err := tx.Consents.Execute(ctx, subjectID, consentID,
			func(r *models.Record) error {
				prev = *r
				if !target.Newer(r.Version) {
					return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("target version %s is not newer than %s", target, r.Version))
				}
				return r.ValidateTransition(models.StatusExpired, now)
			},
			func(r *models.Record) {
				r.Status = models.StatusExpired
				r.NextVersionID = newID
			},
		)
		if err != nil {
			return s.translate(err, "failed to migrate consent")
		}

		next, err := models.NewRecord(newID, subjectID, target, old.Granularity, old.LegalBasis, now, now.Add(s.consentTTL))
		if err != nil {
			return err
		}
		next.PreviousVersionID = old.ID
		next.Provenance = old.Provenance
		next.Healthcare = old.Healthcare
		if err := tx.Consents.Create(ctx, next); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save migrated consent")
		}
		successor = next
		return tx.Audit.Append(ctx, s.mutationEntry(next, models.AuditActionConsentMigrated, &prev, next, next.Provenance))
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "consent migrated",
		"consent_id", consentID,
		"successor_id", successor.ID,
		"version", target,
	)
	return successor, nil
}

func (s *Service) Get(ctx context.Context, subjectID, consentID string) (*models.Record, error) {
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing subject context")
	}
	record, err := s.store.FindByID(ctx, subjectID, consentID)
	if err != nil {
		return nil, s.translate(err, "failed to read consent")
	}
	return record, nil
}

func (s *Service) List(ctx context.Context, subjectID string, filter *models.RecordFilter) ([]*models.Record, error) {
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing subject context")
	}
	records, err := s.store.ListBySubject(ctx, subjectID, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents")
	}
	return records, nil
}

// IsProcessingAuthorized evaluates whether the subject's consent covers the
// purpose and data categories right now. The verdict always carries the
// reason; callers never see a bare boolean.
//
// Purposes backed by a legal obligation or vital interest are exempt from the
// consent requirement. They always allow but are still audited.
func (s *Service) IsProcessingAuthorized(ctx context.Context, actorID, subjectID string, purpose models.Purpose, categories []models.DataCategory) (models.Verdict, error) {
	if !purpose.IsValid() {
		return models.Verdict{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid purpose: %s", purpose))
	}
	now := time.Now().UTC()

	if purpose.IsExempt() {
		verdict := models.Verdict{Allowed: true, Reason: "purpose exempt from consent requirement"}
		s.recordDecision(ctx, actorID, subjectID, purpose, verdict, audit.SeverityInfo)
		return verdict, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.storageTimeout)
	defer cancel()
	active, err := s.store.FindActiveByPurpose(lookupCtx, subjectID, purpose, now)
	if err != nil {
		return s.verdictOnStorageFailure(ctx, actorID, subjectID, purpose, err), nil
	}

	if len(active) == 0 {
		verdict := models.Verdict{
			Allowed:         false,
			MissingPurposes: []models.Purpose{purpose},
			Reason:          "no active consent for purpose",
		}
		s.recordDecision(ctx, actorID, subjectID, purpose, verdict, audit.SeverityInfo)
		return verdict, nil
	}

	// At most one active grant per purpose can exist. Partial coverage is a
	// DENY that enumerates what is missing.
	record := active[0]
	missingCats, missingPurposes := record.Granularity.Covers(categories, []models.Purpose{purpose})
	if len(missingCats) > 0 || len(missingPurposes) > 0 {
		verdict := models.Verdict{
			Allowed:           false,
			ConsentID:         record.ID,
			MissingCategories: missingCats,
			MissingPurposes:   missingPurposes,
			Reason:            "consent does not cover all requested data categories",
		}
		s.recordDecision(ctx, actorID, subjectID, purpose, verdict, audit.SeverityInfo)
		return verdict, nil
	}

	verdict := models.Verdict{Allowed: true, ConsentID: record.ID, Reason: "active consent covers request"}
	s.recordDecision(ctx, actorID, subjectID, purpose, verdict, audit.SeverityInfo)
	return verdict, nil
}

// EraseSubject removes every consent record for the subject. Called by the
// erasure workflow after its grace period.
func (s *Service) EraseSubject(ctx context.Context, subjectID string) (int, error) {
	var deleted int
	err := s.tx.RunInTx(ctx, func(tx store.TxStores) error {
		n, err := tx.Consents.DeleteBySubject(ctx, subjectID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to erase subject consents")
		}
		deleted = n
		entry := audit.NewEntry("system", models.AuditActionDataDeleted, audit.ResourceSubjectData, subjectID)
		entry.Success = true
		entry.Reason = models.AuditReasonRetentionPolicy
		entry.Timestamp = time.Now().UTC()
		return tx.Audit.Append(ctx, entry)
	})
	return deleted, err
}

// AnonymizeSubject strips identifying provenance from the subject's records
// while keeping the consent facts for legal retention.
func (s *Service) AnonymizeSubject(ctx context.Context, subjectID string) (int, error) {
	var changed int
	err := s.tx.RunInTx(ctx, func(tx store.TxStores) error {
		n, err := tx.Consents.AnonymizeBySubject(ctx, subjectID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to anonymize subject consents")
		}
		changed = n
		entry := audit.NewEntry("system", models.AuditActionDataAnonymized, audit.ResourceSubjectData, subjectID)
		entry.Success = true
		entry.Reason = models.AuditReasonRetentionPolicy
		entry.Timestamp = time.Now().UTC()
		return tx.Audit.Append(ctx, entry)
	})
	return changed, err
}

// expireStale transitions GRANTED records past their expiry to EXPIRED.
func (s *Service) expireStale(ctx context.Context, tx store.TxStores, subjectID string, now time.Time) error {
	records, err := tx.Consents.ListBySubject(ctx, subjectID, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents")
	}
	for _, record := range records {
		if record.Status != models.StatusGranted || !record.ExpiryDate.Before(now) {
			continue
		}
		expired, err := tx.Consents.Execute(ctx, subjectID, record.ID,
			func(r *models.Record) error { return nil },
			func(r *models.Record) { r.Status = models.StatusExpired },
		)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire stale consent")
		}
		if err := tx.Audit.Append(ctx, s.mutationEntry(expired, models.AuditActionConsentExpired, record, expired, expired.Provenance)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) verdictOnStorageFailure(ctx context.Context, actorID, subjectID string, purpose models.Purpose, err error) models.Verdict {
	s.logger.ErrorContext(ctx, "consent storage unavailable during authorization",
		"purpose", purpose,
		"strict", s.strict,
		"error", err,
	)
	// Never ALLOW on a storage failure: the verdict is DENY in both modes,
	// and the lenient gate decides whether the request still proceeds.
	verdict := models.Verdict{Allowed: false, Reason: "consent storage unavailable"}
	s.recordDecisionAction(ctx, actorID, subjectID, purpose, verdict, audit.SeverityCritical, audit.ActionStorageUnavailable)
	return verdict
}

func (s *Service) recordDecision(ctx context.Context, actorID, subjectID string, purpose models.Purpose, verdict models.Verdict, severity audit.Severity) {
	action := models.AuditActionConsentCheckFailed
	if verdict.Allowed {
		action = models.AuditActionConsentCheckPassed
	}
	s.recordDecisionAction(ctx, actorID, subjectID, purpose, verdict, severity, action)
}

func (s *Service) recordDecisionAction(ctx context.Context, actorID, subjectID string, purpose models.Purpose, verdict models.Verdict, severity audit.Severity, action string) {
	if s.metrics != nil {
		if verdict.Allowed {
			s.metrics.IncConsentChecksAllowed(string(purpose))
		} else {
			s.metrics.IncConsentChecksDenied(string(purpose))
		}
	}
	if s.auditor == nil {
		return
	}
	resourceID := verdict.ConsentID
	if resourceID == "" {
		resourceID = subjectID
	}
	entry := audit.NewEntry(actorID, action, audit.ResourceConsent, resourceID)
	entry.Purpose = string(purpose)
	entry.ConsentPresent = verdict.ConsentID != ""
	entry.Success = verdict.Allowed
	entry.Severity = severity
	entry.Reason = verdict.Reason
	_ = s.auditor.Record(ctx, entry)
}

func (s *Service) mutationEntry(record *models.Record, action string, prev, next *models.Record, prov models.Provenance) audit.Entry {
	entry := audit.NewEntry(record.SubjectID, action, audit.ResourceConsent, record.ID)
	entry.Success = true
	entry.Reason = models.AuditReasonSubjectInitiated
	entry.IP = prov.IP
	entry.Agent = prov.Agent
	entry.Timestamp = time.Now().UTC()
	if prev != nil {
		entry.PreviousState, _ = json.Marshal(prev.ToResponse(entry.Timestamp))
	}
	if next != nil {
		entry.NewState, _ = json.Marshal(next.ToResponse(entry.Timestamp))
	}
	return entry
}

func (s *Service) sendConfirmation(ctx context.Context, subjectID, consentID string) {
	if err := s.notifier.SendWithdrawalConfirmation(ctx, subjectID, consentID); err != nil {
		s.logger.WarnContext(ctx, "withdrawal confirmation not delivered",
			"consent_id", consentID,
			"error", err,
		)
		return
	}
	_, err := s.store.Execute(ctx, subjectID, consentID,
		func(r *models.Record) error { return nil },
		func(r *models.Record) {
			if r.Withdrawal != nil {
				r.Withdrawal.ConfirmationSent = true
			}
		},
	)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record confirmation delivery",
			"consent_id", consentID,
			"error", err,
		)
	}
}

// translate maps sentinel errors to domain errors exactly once.
func (s *Service) translate(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "consent not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "consent conflict")
	default:
		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
