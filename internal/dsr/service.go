package dsr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/metrics"
	"github.com/GrupoUS/neonpro-sub010/internal/sentinel"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
)

// ConsentData is the slice of the consent domain the request workflows need:
// listing records for exports and disposing of them for erasure.
type ConsentData interface {
	List(ctx context.Context, subjectID string, filter *models.RecordFilter) ([]*models.Record, error)
	EraseSubject(ctx context.Context, subjectID string) (int, error)
	AnonymizeSubject(ctx context.Context, subjectID string) (int, error)
}

// Service runs the data subject request workflows. Access and portability
// answer within the statutory response period; erasure waits out a grace
// period before it executes so the subject can retract.
type Service struct {
	store    Store
	consents ConsentData
	auditor  *audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, consents ConsentData, auditor *audit.Publisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		consents: consents,
		auditor:  auditor,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open registers a new request and starts its deadline clock.
func (s *Service) Open(ctx context.Context, subjectID string, kind Kind) (*Request, error) {
	req, err := NewRequest(subjectID, kind, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, s.translate(err, "open data subject request")
	}

	entry := audit.NewEntry(subjectID, audit.ActionRequestOpened, audit.ResourceDataRequest, req.ID)
	entry.Success = true
	entry.Reason = string(kind)
	_ = s.auditor.Record(ctx, entry)
	s.logger.InfoContext(ctx, "data subject request opened",
		"request_id", req.ID,
		"kind", kind,
		"due_at", req.DueAt,
	)
	return req, nil
}

// Get returns one of the subject's requests.
func (s *Service) Get(ctx context.Context, subjectID, requestID string) (*Request, error) {
	req, err := s.store.FindByID(ctx, subjectID, requestID)
	if err != nil {
		return nil, s.translate(err, "find data subject request")
	}
	return req, nil
}

// List returns the subject's requests oldest first.
func (s *Service) List(ctx context.Context, subjectID string) ([]*Request, error) {
	reqs, err := s.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, s.translate(err, "list data subject requests")
	}
	return reqs, nil
}

// Export fulfils an access or portability request: it collects the subject's
// consent records into a portable result and completes the request.
func (s *Service) Export(ctx context.Context, subjectID, requestID string) (*Request, error) {
	req, err := s.store.FindByID(ctx, subjectID, requestID)
	if err != nil {
		return nil, s.translate(err, "find data subject request")
	}
	if req.Kind != KindAccess && req.Kind != KindPortability {
		return nil, dErrors.New(dErrors.CodeInvalidState, "request kind does not produce an export")
	}
	if err := req.ValidateTransition(StatusInProgress); err != nil {
		return nil, err
	}
	req.Status = StatusInProgress

	records, err := s.consents.List(ctx, subjectID, nil)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	consents := make([]models.ConsentResponse, 0, len(records))
	for _, r := range records {
		consents = append(consents, r.ToResponse(now))
	}

	req.Status = StatusCompleted
	req.CompletedAt = &now
	req.Result = map[string]any{
		"subjectId":   subjectID,
		"generatedAt": now,
		"consents":    consents,
	}
	if err := s.store.Update(ctx, req); err != nil {
		return nil, s.translate(err, "complete data subject request")
	}
	s.recordCompleted(ctx, req, "export generated")
	return req, nil
}

// ExecuteErasure disposes of the subject's personal data once the grace
// period has passed. Consent records are deleted outright; the audit trail
// stays, as the law requires, under its own retention clock.
func (s *Service) ExecuteErasure(ctx context.Context, subjectID, requestID string) (*Request, error) {
	req, err := s.store.FindByID(ctx, subjectID, requestID)
	if err != nil {
		return nil, s.translate(err, "find data subject request")
	}
	if req.Kind != KindErasure {
		return nil, dErrors.New(dErrors.CodeInvalidState, "request is not an erasure")
	}
	if err := req.ValidateTransition(StatusInProgress); err != nil {
		return nil, err
	}
	req.Status = StatusInProgress
	now := s.now().UTC()
	if now.Before(req.DueAt) {
		return nil, dErrors.New(dErrors.CodeInvalidState, "erasure grace period has not elapsed")
	}

	deleted, err := s.consents.EraseSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	req.Status = StatusCompleted
	req.CompletedAt = &now
	req.Result = map[string]any{
		"consentsDeleted": deleted,
		"executedAt":      now,
	}
	if err := s.store.Update(ctx, req); err != nil {
		return nil, s.translate(err, "complete data subject request")
	}
	if s.metrics != nil {
		s.metrics.IncRetentionDeleted("subject_data", deleted)
	}
	s.recordCompleted(ctx, req, "subject data erased")
	return req, nil
}

// Rectify completes a rectification request by anonymizing the stale
// identifying fields the subject disputed and recording what changed.
func (s *Service) Rectify(ctx context.Context, subjectID, requestID string, changes map[string]any) (*Request, error) {
	req, err := s.store.FindByID(ctx, subjectID, requestID)
	if err != nil {
		return nil, s.translate(err, "find data subject request")
	}
	if req.Kind != KindRectification {
		return nil, dErrors.New(dErrors.CodeInvalidState, "request is not a rectification")
	}
	if err := req.ValidateTransition(StatusInProgress); err != nil {
		return nil, err
	}
	req.Status = StatusInProgress

	anonymized, err := s.consents.AnonymizeSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req.Status = StatusCompleted
	req.CompletedAt = &now
	req.Result = map[string]any{
		"recordsAnonymized": anonymized,
		"changes":           changes,
		"executedAt":        now,
	}
	if err := s.store.Update(ctx, req); err != nil {
		return nil, s.translate(err, "complete data subject request")
	}
	if s.metrics != nil {
		s.metrics.IncRetentionAnonymized("subject_data", anonymized)
	}
	s.recordCompleted(ctx, req, "identifying fields rectified")
	return req, nil
}

// Reject closes a request without executing it.
func (s *Service) Reject(ctx context.Context, subjectID, requestID, reason string) (*Request, error) {
	req, err := s.store.FindByID(ctx, subjectID, requestID)
	if err != nil {
		return nil, s.translate(err, "find data subject request")
	}
	if err := req.ValidateTransition(StatusRejected); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	req.Status = StatusRejected
	req.CompletedAt = &now
	req.Result = map[string]any{"reason": reason}
	if err := s.store.Update(ctx, req); err != nil {
		return nil, s.translate(err, "reject data subject request")
	}

	entry := audit.NewEntry(subjectID, audit.ActionRequestCompleted, audit.ResourceDataRequest, req.ID)
	entry.Reason = "rejected: " + reason
	_ = s.auditor.Record(ctx, entry)
	return req, nil
}

// Overdue returns open requests that have passed their deadline.
func (s *Service) Overdue(ctx context.Context) ([]*Request, error) {
	reqs, err := s.store.ListDue(ctx, s.now().UTC())
	if err != nil {
		return nil, s.translate(err, "list overdue requests")
	}
	return reqs, nil
}

func (s *Service) recordCompleted(ctx context.Context, req *Request, reason string) {
	entry := audit.NewEntry(req.SubjectID, audit.ActionRequestCompleted, audit.ResourceDataRequest, req.ID)
	entry.Success = true
	entry.Reason = reason
	_ = s.auditor.Record(ctx, entry)
	s.logger.InfoContext(ctx, "data subject request completed",
		"request_id", req.ID,
		"kind", req.Kind,
		"status", req.Status,
	)
}

func (s *Service) translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "data subject request not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "data subject request already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
