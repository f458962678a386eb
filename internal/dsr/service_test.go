package dsr

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
)

type stubConsents struct {
	records    []*models.Record
	erased     int
	anonymized int

	eraseCalls int
}

func (c *stubConsents) List(context.Context, string, *models.RecordFilter) ([]*models.Record, error) {
	return c.records, nil
}

func (c *stubConsents) EraseSubject(context.Context, string) (int, error) {
	c.eraseCalls++
	return c.erased, nil
}

func (c *stubConsents) AnonymizeSubject(context.Context, string) (int, error) {
	return c.anonymized, nil
}

type ServiceSuite struct {
	suite.Suite
	auditStore *audit.InMemoryStore
	consents   *stubConsents
	service    *Service
	now        time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.auditStore = audit.NewInMemoryStore()
	s.consents = &stubConsents{erased: 2, anonymized: 3}
	s.now = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s.service = NewService(
		NewInMemoryStore(),
		s.consents,
		audit.NewPublisher(s.auditStore),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *ServiceSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *ServiceSuite) TestOpenComputesDeadlines() {
	ctx := context.Background()

	access, err := s.service.Open(ctx, "patient-1", KindAccess)
	s.Require().NoError(err)
	s.Equal(StatusReceived, access.Status)
	s.Equal(s.now.Add(15*24*time.Hour), access.DueAt)

	erasure, err := s.service.Open(ctx, "patient-1", KindErasure)
	s.Require().NoError(err)
	s.Equal(s.now.Add(30*24*time.Hour), erasure.DueAt)

	entries, err := s.auditStore.ListByResource(ctx, audit.ResourceDataRequest, access.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionRequestOpened, entries[0].Action)
}

func (s *ServiceSuite) TestOpenRejectsUnknownKind() {
	_, err := s.service.Open(context.Background(), "patient-1", Kind("divination"))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestExportBuildsPortableResult() {
	ctx := context.Background()
	record := &models.Record{
		ID:          "c-1",
		SubjectID:   "patient-1",
		Version:     models.VersionV3,
		Status:      models.StatusGranted,
		ConsentDate: s.now.Add(-time.Hour),
		ExpiryDate:  s.now.Add(24 * time.Hour),
		LegalBasis:  models.BasisConsent,
	}
	s.consents.records = []*models.Record{record}

	req, err := s.service.Open(ctx, "patient-1", KindPortability)
	s.Require().NoError(err)

	done, err := s.service.Export(ctx, "patient-1", req.ID)
	s.Require().NoError(err)
	s.Equal(StatusCompleted, done.Status)
	s.Require().NotNil(done.CompletedAt)
	s.Equal("patient-1", done.Result["subjectId"])
	consents := done.Result["consents"].([]models.ConsentResponse)
	s.Require().Len(consents, 1)
	s.Equal("c-1", consents[0].ID)

	entries, err := s.auditStore.ListByResource(ctx, audit.ResourceDataRequest, req.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(audit.ActionRequestCompleted, entries[1].Action)
}

func (s *ServiceSuite) TestExportRejectsWrongKind() {
	ctx := context.Background()
	req, err := s.service.Open(ctx, "patient-1", KindErasure)
	s.Require().NoError(err)

	_, err = s.service.Export(ctx, "patient-1", req.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestExportIsFinal() {
	ctx := context.Background()
	req, err := s.service.Open(ctx, "patient-1", KindAccess)
	s.Require().NoError(err)

	_, err = s.service.Export(ctx, "patient-1", req.ID)
	s.Require().NoError(err)
	_, err = s.service.Export(ctx, "patient-1", req.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestErasureWaitsOutGracePeriod() {
	ctx := context.Background()
	req, err := s.service.Open(ctx, "patient-1", KindErasure)
	s.Require().NoError(err)

	_, err = s.service.ExecuteErasure(ctx, "patient-1", req.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	s.Zero(s.consents.eraseCalls, "no data is touched during the grace period")

	s.advance(31 * 24 * time.Hour)
	done, err := s.service.ExecuteErasure(ctx, "patient-1", req.ID)
	s.Require().NoError(err)
	s.Equal(StatusCompleted, done.Status)
	s.Equal(2, done.Result["consentsDeleted"])
	s.Equal(1, s.consents.eraseCalls)
}

func (s *ServiceSuite) TestRectify() {
	ctx := context.Background()
	req, err := s.service.Open(ctx, "patient-1", KindRectification)
	s.Require().NoError(err)

	done, err := s.service.Rectify(ctx, "patient-1", req.ID, map[string]any{"email": "corrected"})
	s.Require().NoError(err)
	s.Equal(StatusCompleted, done.Status)
	s.Equal(3, done.Result["recordsAnonymized"])
}

func (s *ServiceSuite) TestReject() {
	ctx := context.Background()
	req, err := s.service.Open(ctx, "patient-1", KindErasure)
	s.Require().NoError(err)

	done, err := s.service.Reject(ctx, "patient-1", req.ID, "identity could not be verified")
	s.Require().NoError(err)
	s.Equal(StatusRejected, done.Status)

	_, err = s.service.ExecuteErasure(ctx, "patient-1", req.ID)
	s.Require().Error(err, "rejection is terminal")
}

func (s *ServiceSuite) TestSubjectScoping() {
	ctx := context.Background()
	req, err := s.service.Open(ctx, "patient-1", KindAccess)
	s.Require().NoError(err)

	_, err = s.service.Get(ctx, "patient-2", req.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestOverdue() {
	ctx := context.Background()
	stale, err := s.service.Open(ctx, "patient-1", KindAccess)
	s.Require().NoError(err)

	s.advance(10 * 24 * time.Hour)
	fresh, err := s.service.Open(ctx, "patient-2", KindAccess)
	s.Require().NoError(err)

	s.advance(6 * 24 * time.Hour)
	overdue, err := s.service.Overdue(ctx)
	s.Require().NoError(err)
	s.Require().Len(overdue, 1)
	s.Equal(stale.ID, overdue[0].ID)
	s.True(overdue[0].Overdue(s.now))
	s.False(fresh.Overdue(s.now))
}
