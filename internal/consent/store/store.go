// Package store persists consent records.
//
// Error contract: methods return sentinel.ErrNotFound when the requested
// record does not exist, sentinel.ErrConflict when an insert would violate
// the single-active-grant invariant, and wrapped errors for infrastructure
// failures.
package store

import (
	"context"
	"time"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
)

type Store interface {
	// Create inserts a new consent record. When the record is GRANTED and an
	// active grant already covers one of its purposes for the same subject,
	// Create fails with ErrConflict and persists nothing.
	Create(ctx context.Context, record *models.Record) error

	// FindByID requires the subject ID alongside the consent ID. A consent ID
	// alone never resolves a record.
	FindByID(ctx context.Context, subjectID, consentID string) (*models.Record, error)

	ListBySubject(ctx context.Context, subjectID string, filter *models.RecordFilter) ([]*models.Record, error)

	// FindActiveByPurpose returns the GRANTED, non-expired records covering
	// the purpose for the subject at the given instant. The single-active-grant
	// invariant makes at most one possible.
	FindActiveByPurpose(ctx context.Context, subjectID string, purpose models.Purpose, now time.Time) ([]*models.Record, error)

	// Execute atomically validates and mutates a consent record under lock.
	// The mutation is persisted only when validate returns nil.
	Execute(ctx context.Context, subjectID, consentID string, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error)

	// DeleteBySubject removes every record for the subject. Used by erasure
	// requests and retention enforcement.
	DeleteBySubject(ctx context.Context, subjectID string) (int, error)

	// AnonymizeBySubject strips provenance and healthcare identifiers from the
	// subject's records while keeping the consent facts for legal retention.
	AnonymizeBySubject(ctx context.Context, subjectID string) (int, error)

	// DeleteTerminalBefore removes terminal records whose consent date is
	// older than the cutoff. Only the retention job calls this.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// TxStores bundles the stores bound to one transaction so consent mutations
// and their audit entries commit or roll back together.
type TxStores struct {
	Consents Store
	Audit    audit.Store
}

// TxRunner runs a function against transaction-bound stores.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(TxStores) error) error
}
