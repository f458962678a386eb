package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/store"
)

type WorkerSuite struct {
	suite.Suite
	consents   *store.InMemoryStore
	auditStore *audit.InMemoryStore
	worker     *Worker
	now        time.Time
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.consents = store.New()
	s.auditStore = audit.NewInMemoryStore()
	s.now = time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	s.worker = NewWorker(
		s.consents,
		s.auditStore,
		audit.NewPublisher(s.auditStore),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	s.worker.now = func() time.Time { return s.now }
}

func (s *WorkerSuite) withdrawnConsent(age time.Duration) *models.Record {
	consentDate := s.now.Add(-age)
	return &models.Record{
		ID:          uuid.NewString(),
		SubjectID:   "patient-" + uuid.NewString(),
		Version:     models.VersionV3,
		Status:      models.StatusWithdrawn,
		ConsentDate: consentDate,
		ExpiryDate:  consentDate.Add(365 * 24 * time.Hour),
		LegalBasis:  models.BasisConsent,
	}
}

func (s *WorkerSuite) auditEntry(age time.Duration) audit.Entry {
	entry := audit.NewEntry("actor-1", audit.ActionAccessAllowed, audit.ResourceConsent, uuid.NewString())
	entry.Timestamp = s.now.Add(-age)
	return entry
}

const year = 365 * 24 * time.Hour

func (s *WorkerSuite) TestPurgesRecordsPastPolicy() {
	ctx := context.Background()
	old := s.withdrawnConsent(11 * year)
	recent := s.withdrawnConsent(9 * year)
	s.Require().NoError(s.consents.Create(ctx, old))
	s.Require().NoError(s.consents.Create(ctx, recent))

	s.Require().NoError(s.auditStore.Append(ctx, s.auditEntry(8*year)))
	s.Require().NoError(s.auditStore.Append(ctx, s.auditEntry(6*year)))

	s.Require().NoError(s.worker.EvaluateRetention(ctx))

	_, err := s.consents.FindByID(ctx, old.SubjectID, old.ID)
	s.Error(err, "consent past the 10-year period is purged")
	_, err = s.consents.FindByID(ctx, recent.SubjectID, recent.ID)
	s.NoError(err, "consent within the period survives")

	summaries, err := s.auditStore.ListByResource(ctx, audit.ResourceRetentionScan, CategoryConsent)
	s.Require().NoError(err)
	s.Require().Len(summaries, 1)
	s.Equal(audit.ActionRetentionExecuted, summaries[0].Action)
	s.Contains(summaries[0].Reason, "deleted 1 records")
}

func (s *WorkerSuite) TestAuditCleanupWritesItsOwnSummary() {
	ctx := context.Background()
	s.Require().NoError(s.auditStore.Append(ctx, s.auditEntry(8*year)))

	s.Require().NoError(s.worker.EvaluateRetention(ctx))

	summaries, err := s.auditStore.ListByResource(ctx, audit.ResourceRetentionScan, CategoryAudit)
	s.Require().NoError(err)
	s.Require().Len(summaries, 1)
	s.Equal(audit.ActionAuditCleanup, summaries[0].Action)
	s.True(summaries[0].Timestamp.After(s.now.AddDate(-7, 0, 0)), "the summary entry outlives the purge it records")
}

func (s *WorkerSuite) TestReviewRequiredNeverDeletes() {
	ctx := context.Background()
	s.Require().NoError(s.worker.EvaluateRetention(ctx))

	for _, category := range []string{CategoryMedical, CategoryPatient} {
		entries, err := s.auditStore.ListByResource(ctx, audit.ResourceRetentionScan, category)
		s.Require().NoError(err)
		s.Require().Len(entries, 1, category)
		s.Equal(audit.ActionRetentionReview, entries[0].Action)
		s.Contains(entries[0].Reason, s.now.AddDate(-20, 0, 0).Format(time.DateOnly))
	}
}

func (s *WorkerSuite) TestLegalFloorCannotBeShortened() {
	ctx := context.Background()
	record := s.withdrawnConsent(5 * year)
	s.Require().NoError(s.consents.Create(ctx, record))

	WithPolicies([]Policy{{Category: CategoryConsent, Years: 1, AutoDelete: true}})(s.worker)
	s.Require().NoError(s.worker.EvaluateRetention(ctx))

	_, err := s.consents.FindByID(ctx, record.SubjectID, record.ID)
	s.NoError(err, "a 1-year configuration cannot undercut the 10-year floor")
}

func (s *WorkerSuite) TestNoSummaryWhenNothingDeleted() {
	ctx := context.Background()
	s.Require().NoError(s.worker.EvaluateRetention(ctx))

	entries, err := s.auditStore.ListByResource(ctx, audit.ResourceRetentionScan, CategoryConsent)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *WorkerSuite) TestCustomPurger() {
	ctx := context.Background()
	var gotCutoff time.Time
	WithPurger(CategorySystem, func(_ context.Context, cutoff time.Time) (int, error) {
		gotCutoff = cutoff
		return 3, nil
	})(s.worker)

	s.Require().NoError(s.worker.EvaluateRetention(ctx))
	s.Equal(s.now.AddDate(-2, 0, 0), gotCutoff)

	entries, err := s.auditStore.ListByResource(ctx, audit.ResourceRetentionScan, CategorySystem)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Contains(entries[0].Reason, "deleted 3 records")
}

func (s *WorkerSuite) TestStartStop() {
	s.worker.interval = 10 * time.Millisecond
	s.worker.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(s.worker.Stop(ctx))

	entries, err := s.auditStore.ListByResource(context.Background(), audit.ResourceRetentionScan, CategoryMedical)
	s.Require().NoError(err)
	s.NotEmpty(entries, "the loop evaluates immediately on start")
}
