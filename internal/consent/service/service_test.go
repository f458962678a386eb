package service

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/GrupoUS/neonpro-sub010/internal/consent/store Store,TxRunner

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/service/mocks"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/store"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	store      *store.InMemoryStore
	auditStore *audit.InMemoryStore
	service    *Service
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.New()
	s.auditStore = audit.NewInMemoryStore()
	runner := store.NewMemoryTxRunner(s.store, s.auditStore)
	auditor := audit.NewPublisher(s.auditStore)
	s.service = NewService(
		s.store,
		runner,
		auditor,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) createRequest(purposes ...models.Purpose) models.CreateRequest {
	return models.CreateRequest{
		DataCategories:     []models.DataCategory{models.CategoryPersonal, models.CategoryMedical},
		ProcessingPurposes: purposes,
		LegalBasis:         models.BasisConsent,
		ClinicID:           "clinic-1",
	}
}

func (s *ServiceSuite) auditActions() []string {
	var actions []string
	for _, e := range s.auditStore.All() {
		actions = append(actions, e.Action)
	}
	return actions
}

func (s *ServiceSuite) TestCreate_ValidationErrors() {
	s.T().Run("missing subject returns CodeUnauthorized", func(t *testing.T) {
		_, err := s.service.Create(context.Background(), "", s.createRequest(models.PurposeMedicalCare), models.Provenance{}, models.HealthcareContext{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.T().Run("empty purposes violates record invariants", func(t *testing.T) {
		_, err := s.service.Create(context.Background(), "subject-1", s.createRequest(), models.Provenance{}, models.HealthcareContext{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.T().Run("invalid purpose violates record invariants", func(t *testing.T) {
		_, err := s.service.Create(context.Background(), "subject-1", s.createRequest("invalid_purpose"), models.Provenance{}, models.HealthcareContext{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *ServiceSuite) TestCreate_RecordsAuditInSameStore() {
	record, err := s.service.Create(context.Background(), "subject-1", s.createRequest(models.PurposeMedicalCare),
		models.Provenance{IP: "203.0.113.0", Agent: "ua"}, models.HealthcareContext{ClinicID: "clinic-1"})
	s.Require().NoError(err)
	s.Equal(models.StatusGranted, record.Status)
	s.Equal(models.VersionV3, record.Version)

	entries := s.auditStore.All()
	s.Require().Len(entries, 1)
	s.Equal(models.AuditActionConsentCreated, entries[0].Action)
	s.Equal(record.ID, entries[0].ResourceID)
	s.Equal("203.0.113.0", entries[0].IP)
	s.NotEmpty(entries[0].NewState)
	s.Empty(entries[0].PreviousState)
}

func (s *ServiceSuite) TestCreate_OverlappingGrantConflicts() {
	ctx := context.Background()
	_, err := s.service.Create(ctx, "subject-1", s.createRequest(models.PurposeMedicalCare, models.PurposeBilling), models.Provenance{}, models.HealthcareContext{})
	s.Require().NoError(err)

	_, err = s.service.Create(ctx, "subject-1", s.createRequest(models.PurposeBilling), models.Provenance{}, models.HealthcareContext{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestCreate_ExpiresStaleGrantFirst() {
	ctx := context.Background()
	now := time.Now().UTC()

	// A GRANTED record past its expiry still claims the purpose until swept.
	stale := &models.Record{
		ID:        uuid.NewString(),
		SubjectID: "subject-1",
		Version:   models.VersionV2,
		Status:    models.StatusGranted,
		Granularity: models.Granularity{
			DataCategories:     []models.DataCategory{models.CategoryPersonal},
			ProcessingPurposes: []models.Purpose{models.PurposeMedicalCare},
		},
		ConsentDate: now.Add(-2 * 365 * 24 * time.Hour),
		ExpiryDate:  now.Add(-365 * 24 * time.Hour),
		LegalBasis:  models.BasisConsent,
	}
	s.Require().NoError(s.store.Create(ctx, stale))

	record, err := s.service.Create(ctx, "subject-1", s.createRequest(models.PurposeMedicalCare), models.Provenance{}, models.HealthcareContext{})
	s.Require().NoError(err)
	s.Equal(models.StatusGranted, record.Status)

	old, err := s.store.FindByID(ctx, "subject-1", stale.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, old.Status)
	s.Contains(s.auditActions(), models.AuditActionConsentExpired)
}

func (s *ServiceSuite) TestWithdraw_Lifecycle() {
	ctx := context.Background()
	record, err := s.service.Create(ctx, "subject-1", s.createRequest(models.PurposeMedicalCare), models.Provenance{}, models.HealthcareContext{})
	s.Require().NoError(err)

	withdrawn, err := s.service.Withdraw(ctx, "subject-1", record.ID, models.WithdrawRequest{
		Method:          "api",
		Reason:          "changed my mind",
		RequestedAction: models.ActionRetainUntilExpiry,
	})
	s.Require().NoError(err)
	s.Equal(models.StatusWithdrawn, withdrawn.Status)
	s.Require().NotNil(withdrawn.Withdrawal)
	s.Equal("api", withdrawn.Withdrawal.Method)
	s.NotNil(withdrawn.Withdrawal.ProcessedAt)

	// Withdrawn is terminal.
	_, err = s.service.Withdraw(ctx, "subject-1", record.ID, models.WithdrawRequest{
		Method:          "api",
		RequestedAction: models.ActionDelete,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	s.Contains(s.auditActions(), models.AuditActionConsentWithdrawn)
}

func (s *ServiceSuite) TestWithdraw_AnonymizeStripsProvenance() {
	ctx := context.Background()
	record, err := s.service.Create(ctx, "subject-1", s.createRequest(models.PurposeMedicalCare),
		models.Provenance{IP: "203.0.113.0", Agent: "ua"}, models.HealthcareContext{ClinicID: "clinic-1", ProfessionalID: "prof-1"})
	s.Require().NoError(err)

	withdrawn, err := s.service.Withdraw(ctx, "subject-1", record.ID, models.WithdrawRequest{
		Method:          "portal",
		RequestedAction: models.ActionAnonymize,
	})
	s.Require().NoError(err)
	s.Empty(withdrawn.Provenance.IP)
	s.Empty(withdrawn.Healthcare.ProfessionalID)
	s.Equal("clinic-1", withdrawn.Healthcare.ClinicID)
	s.NotNil(withdrawn.Withdrawal.ProcessedAt)
}

func (s *ServiceSuite) TestWithdraw_DeleteStaysUnprocessed() {
	ctx := context.Background()
	record, err := s.service.Create(ctx, "subject-1", s.createRequest(models.PurposeMedicalCare), models.Provenance{}, models.HealthcareContext{})
	s.Require().NoError(err)

	withdrawn, err := s.service.Withdraw(ctx, "subject-1", record.ID, models.WithdrawRequest{
		Method:          "api",
		RequestedAction: models.ActionDelete,
	})
	s.Require().NoError(err)
	s.Nil(withdrawn.Withdrawal.ProcessedAt, "deletion completes through the erasure workflow")
}

func (s *ServiceSuite) TestMigrateVersion_ChainsRecords() {
	ctx := context.Background()
	now := time.Now().UTC()

	old := &models.Record{
		ID:        uuid.NewString(),
		SubjectID: "subject-1",
		Version:   models.VersionV2,
		Status:    models.StatusGranted,
		Granularity: models.Granularity{
			DataCategories:     []models.DataCategory{models.CategoryPersonal, models.CategoryMedical},
			ProcessingPurposes: []models.Purpose{models.PurposeMedicalCare},
		},
		ConsentDate: now.Add(-time.Hour),
		ExpiryDate:  now.Add(24 * time.Hour),
		LegalBasis:  models.BasisConsent,
	}
	s.Require().NoError(s.store.Create(ctx, old))

	successor, err := s.service.MigrateVersion(ctx, "subject-1", old.ID, models.VersionV3)
	s.Require().NoError(err)
	s.Equal(models.VersionV3, successor.Version)
	s.Equal(models.StatusGranted, successor.Status)
	s.Equal(old.ID, successor.PreviousVersionID)
	s.Equal(old.Granularity.ProcessingPurposes, successor.Granularity.ProcessingPurposes)

	expired, err := s.store.FindByID(ctx, "subject-1", old.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, expired.Status)
	s.Equal(successor.ID, expired.NextVersionID)

	// Authorization now resolves through the successor.
	verdict, err := s.service.IsProcessingAuthorized(ctx, "prof-1", "subject-1", models.PurposeMedicalCare, nil)
	s.Require().NoError(err)
	s.True(verdict.Allowed)
	s.Equal(successor.ID, verdict.ConsentID)
}

func (s *ServiceSuite) TestMigrateVersion_RejectsOlderTarget() {
	ctx := context.Background()
	record, err := s.service.Create(ctx, "subject-1", s.createRequest(models.PurposeMedicalCare), models.Provenance{}, models.HealthcareContext{})
	s.Require().NoError(err)

	_, err = s.service.MigrateVersion(ctx, "subject-1", record.ID, models.VersionV2)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestIsProcessingAuthorized_Verdicts() {
	ctx := context.Background()
	record, err := s.service.Create(ctx, "subject-1", s.createRequest(models.PurposeMedicalCare), models.Provenance{}, models.HealthcareContext{})
	s.Require().NoError(err)

	s.T().Run("covered request allows", func(t *testing.T) {
		verdict, err := s.service.IsProcessingAuthorized(ctx, "prof-1", "subject-1", models.PurposeMedicalCare,
			[]models.DataCategory{models.CategoryPersonal, models.CategoryMedical})
		require.NoError(t, err)
		assert.True(t, verdict.Allowed)
		assert.Equal(t, record.ID, verdict.ConsentID)
	})

	s.T().Run("uncovered category denies with detail", func(t *testing.T) {
		verdict, err := s.service.IsProcessingAuthorized(ctx, "prof-1", "subject-1", models.PurposeMedicalCare,
			[]models.DataCategory{models.CategoryFinancial})
		require.NoError(t, err)
		assert.False(t, verdict.Allowed)
		assert.Equal(t, []models.DataCategory{models.CategoryFinancial}, verdict.MissingCategories)
		assert.Empty(t, verdict.MissingPurposes)
	})

	s.T().Run("missing consent denies with purpose", func(t *testing.T) {
		verdict, err := s.service.IsProcessingAuthorized(ctx, "prof-1", "subject-1", models.PurposeMarketing, nil)
		require.NoError(t, err)
		assert.False(t, verdict.Allowed)
		assert.Equal(t, []models.Purpose{models.PurposeMarketing}, verdict.MissingPurposes)
	})

	s.T().Run("exempt purpose allows without consent but is audited", func(t *testing.T) {
		before := len(s.auditStore.All())
		verdict, err := s.service.IsProcessingAuthorized(ctx, "prof-1", "subject-2", models.PurposeLegalObligation, nil)
		require.NoError(t, err)
		assert.True(t, verdict.Allowed)
		assert.Empty(t, verdict.ConsentID)
		assert.Greater(t, len(s.auditStore.All()), before)
	})

	s.T().Run("invalid purpose returns CodeBadRequest", func(t *testing.T) {
		_, err := s.service.IsProcessingAuthorized(ctx, "prof-1", "subject-1", "invalid_purpose", nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestGet_NotFound() {
	_, err := s.service.Get(context.Background(), "subject-1", uuid.NewString())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// storageFailureSuite exercises the fail-closed path with a mocked store.
type StorageFailureSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	mockStore  *mocks.MockStore
	auditStore *audit.InMemoryStore
}

func TestStorageFailureSuite(t *testing.T) {
	suite.Run(t, new(StorageFailureSuite))
}

func (s *StorageFailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	s.auditStore = audit.NewInMemoryStore()
}

func (s *StorageFailureSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *StorageFailureSuite) newService(opts ...Option) *Service {
	runner := mocks.NewMockTxRunner(s.ctrl)
	return NewService(
		s.mockStore,
		runner,
		audit.NewPublisher(s.auditStore),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		opts...,
	)
}

func (s *StorageFailureSuite) TestStrictModeDeniesOnStorageFailure() {
	s.mockStore.EXPECT().
		FindActiveByPurpose(gomock.Any(), "subject-1", models.PurposeMedicalCare, gomock.Any()).
		Return(nil, assert.AnError)

	svc := s.newService()
	verdict, err := svc.IsProcessingAuthorized(context.Background(), "prof-1", "subject-1", models.PurposeMedicalCare, nil)
	s.Require().NoError(err)
	s.False(verdict.Allowed)
	s.Equal("consent storage unavailable", verdict.Reason)

	entries := s.auditStore.All()
	s.Require().Len(entries, 1)
	s.Equal(audit.SeverityCritical, entries[0].Severity)
	s.Equal(audit.ActionStorageUnavailable, entries[0].Action)
}

func (s *StorageFailureSuite) TestLenientModeStillDeniesOnStorageFailure() {
	s.mockStore.EXPECT().
		FindActiveByPurpose(gomock.Any(), "subject-1", models.PurposeMedicalCare, gomock.Any()).
		Return(nil, assert.AnError)

	svc := s.newService(WithLenientMode())
	verdict, err := svc.IsProcessingAuthorized(context.Background(), "prof-1", "subject-1", models.PurposeMedicalCare, nil)
	s.Require().NoError(err)
	// A storage failure is never ALLOW; lenient mode only changes whether
	// the gate lets the request proceed past the DENY.
	s.False(verdict.Allowed)
	s.Equal("consent storage unavailable", verdict.Reason)

	entries := s.auditStore.All()
	s.Require().Len(entries, 1)
	s.Equal(audit.SeverityCritical, entries[0].Severity)
	s.Equal(audit.ActionStorageUnavailable, entries[0].Action)
}

func (s *StorageFailureSuite) TestStoreErrorOnGetWrapsInternal() {
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), "subject-1", "consent-1").
		Return(nil, assert.AnError)

	svc := s.newService()
	_, err := svc.Get(context.Background(), "subject-1", "consent-1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
