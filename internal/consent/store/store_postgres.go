package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/sentinel"
)

// PostgresStore persists consent records in PostgreSQL. The consent_purposes
// side table carries a partial unique index on (subject_id, purpose) WHERE
// active, so only one GRANTED record can hold a purpose at a time no matter
// how many writers race.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs a consent store bound to an existing transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, record *models.Record) error {
	if record == nil {
		return fmt.Errorf("consent record is required")
	}
	if s.tx != nil {
		return s.createWith(ctx, s.tx, record)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin consent create tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := s.createWith(ctx, tx, record); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit consent create: %w", err)
	}
	return nil
}

func (s *PostgresStore) createWith(ctx context.Context, tx dbExecutor, record *models.Record) error {
	granularity, withdrawal, provenance, healthcare, err := encodeRecord(record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO consents (
			id, subject_id, version, status, granularity,
			consent_date, expiry_date, legal_basis, withdrawal,
			previous_version_id, next_version_id, provenance, healthcare
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.ExecContext(ctx, query,
		record.ID,
		record.SubjectID,
		string(record.Version),
		string(record.Status),
		granularity,
		record.ConsentDate,
		record.ExpiryDate,
		string(record.LegalBasis),
		withdrawal,
		nullString(record.PreviousVersionID),
		nullString(record.NextVersionID),
		provenance,
		healthcare,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert consent: %w", err)
	}

	active := record.Status == models.StatusGranted
	for _, p := range record.Granularity.ProcessingPurposes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO consent_purposes (consent_id, subject_id, purpose, active)
			VALUES ($1, $2, $3, $4)
		`, record.ID, record.SubjectID, string(p), active)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert consent purpose: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, subjectID, consentID string) (*models.Record, error) {
	query := selectConsent + ` WHERE subject_id = $1 AND id = $2`
	record, err := scanConsent(s.execer().QueryRowContext(ctx, query, subjectID, consentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string, filter *models.RecordFilter) ([]*models.Record, error) {
	query := selectConsent + ` WHERE subject_id = $1`
	args := []any{subjectID}
	if filter != nil && filter.Purpose != nil {
		query += ` AND id IN (SELECT consent_id FROM consent_purposes WHERE subject_id = $1 AND purpose = $2)`
		args = append(args, string(*filter.Purpose))
	}
	query += ` ORDER BY consent_date`

	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	defer rows.Close()

	records, err := collectConsents(rows)
	if err != nil {
		return nil, err
	}
	if filter != nil && filter.Status != nil {
		now := time.Now().UTC()
		filtered := records[:0]
		for _, r := range records {
			if r.ComputeStatus(now) == *filter.Status {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	return records, nil
}

func (s *PostgresStore) FindActiveByPurpose(ctx context.Context, subjectID string, purpose models.Purpose, now time.Time) ([]*models.Record, error) {
	query := selectConsent + `
		WHERE subject_id = $1
		  AND status = 'granted'
		  AND expiry_date >= $3
		  AND id IN (SELECT consent_id FROM consent_purposes WHERE subject_id = $1 AND purpose = $2 AND active)
	`
	rows, err := s.execer().QueryContext(ctx, query, subjectID, string(purpose), now)
	if err != nil {
		return nil, fmt.Errorf("find active consents: %w", err)
	}
	defer rows.Close()
	return collectConsents(rows)
}

// Execute atomically validates and mutates a consent record under a row lock.
// When the mutation moves the record out of GRANTED, its purpose claims are
// released in the same transaction.
func (s *PostgresStore) Execute(ctx context.Context, subjectID, consentID string, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	if s.tx != nil {
		return s.executeWithTx(ctx, s.tx, subjectID, consentID, validate, mutate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consent execute tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	record, err := s.executeWithTx(ctx, tx, subjectID, consentID, validate, mutate)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consent execute: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) executeWithTx(ctx context.Context, tx dbExecutor, subjectID, consentID string, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	query := selectConsent + ` WHERE subject_id = $1 AND id = $2 FOR UPDATE`
	record, err := scanConsent(tx.QueryRowContext(ctx, query, subjectID, consentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent for execute: %w", err)
	}

	if err := validate(record); err != nil {
		return nil, err
	}

	wasGranted := record.Status == models.StatusGranted
	mutate(record)

	if err := updateConsent(ctx, tx, record); err != nil {
		return nil, err
	}
	if wasGranted && record.Status != models.StatusGranted {
		_, err = tx.ExecContext(ctx, `
			UPDATE consent_purposes SET active = FALSE WHERE consent_id = $1
		`, record.ID)
		if err != nil {
			return nil, fmt.Errorf("release consent purposes: %w", err)
		}
	}
	return record, nil
}

func (s *PostgresStore) DeleteBySubject(ctx context.Context, subjectID string) (int, error) {
	res, err := s.execer().ExecContext(ctx, `DELETE FROM consents WHERE subject_id = $1`, subjectID)
	if err != nil {
		return 0, fmt.Errorf("delete consents by subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete consents rows: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) AnonymizeBySubject(ctx context.Context, subjectID string) (int, error) {
	res, err := s.execer().ExecContext(ctx, `
		UPDATE consents
		SET provenance = '{}'::jsonb,
		    healthcare = healthcare - 'ProfessionalID'
		WHERE subject_id = $1
	`, subjectID)
	if err != nil {
		return 0, fmt.Errorf("anonymize consents by subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("anonymize consents rows: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.execer().ExecContext(ctx, `
		DELETE FROM consents
		WHERE status IN ('denied', 'withdrawn', 'expired') AND consent_date < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal consents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete terminal consents rows: %w", err)
	}
	return int(n), nil
}

const selectConsent = `
	SELECT id, subject_id, version, status, granularity,
	       consent_date, expiry_date, legal_basis, withdrawal,
	       previous_version_id, next_version_id, provenance, healthcare
	FROM consents`

func updateConsent(ctx context.Context, exec dbExecutor, record *models.Record) error {
	granularity, withdrawal, provenance, healthcare, err := encodeRecord(record)
	if err != nil {
		return err
	}
	query := `
		UPDATE consents
		SET version = $3, status = $4, granularity = $5, consent_date = $6,
		    expiry_date = $7, legal_basis = $8, withdrawal = $9,
		    previous_version_id = $10, next_version_id = $11,
		    provenance = $12, healthcare = $13
		WHERE subject_id = $1 AND id = $2
	`
	res, err := exec.ExecContext(ctx, query,
		record.SubjectID,
		record.ID,
		string(record.Version),
		string(record.Status),
		granularity,
		record.ConsentDate,
		record.ExpiryDate,
		string(record.LegalBasis),
		withdrawal,
		nullString(record.PreviousVersionID),
		nullString(record.NextVersionID),
		provenance,
		healthcare,
	)
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update consent rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type consentRow interface {
	Scan(dest ...any) error
}

func scanConsent(row consentRow) (*models.Record, error) {
	var record models.Record
	var version, status, basis string
	var granularity, withdrawal, provenance, healthcare []byte
	var prevID, nextID sql.NullString

	if err := row.Scan(
		&record.ID, &record.SubjectID, &version, &status, &granularity,
		&record.ConsentDate, &record.ExpiryDate, &basis, &withdrawal,
		&prevID, &nextID, &provenance, &healthcare,
	); err != nil {
		return nil, err
	}

	record.Version = models.Version(version)
	record.Status = models.Status(status)
	record.LegalBasis = models.LegalBasis(basis)
	record.PreviousVersionID = prevID.String
	record.NextVersionID = nextID.String

	if err := json.Unmarshal(granularity, &record.Granularity); err != nil {
		return nil, fmt.Errorf("decode granularity: %w", err)
	}
	if len(withdrawal) > 0 {
		record.Withdrawal = &models.WithdrawalRecord{}
		if err := json.Unmarshal(withdrawal, record.Withdrawal); err != nil {
			return nil, fmt.Errorf("decode withdrawal: %w", err)
		}
	}
	if len(provenance) > 0 {
		if err := json.Unmarshal(provenance, &record.Provenance); err != nil {
			return nil, fmt.Errorf("decode provenance: %w", err)
		}
	}
	if len(healthcare) > 0 {
		if err := json.Unmarshal(healthcare, &record.Healthcare); err != nil {
			return nil, fmt.Errorf("decode healthcare context: %w", err)
		}
	}
	return &record, nil
}

func collectConsents(rows *sql.Rows) ([]*models.Record, error) {
	var records []*models.Record
	for rows.Next() {
		record, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consents: %w", err)
	}
	return records, nil
}

func encodeRecord(record *models.Record) (granularity, withdrawal, provenance, healthcare []byte, err error) {
	granularity, err = json.Marshal(record.Granularity)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode granularity: %w", err)
	}
	if record.Withdrawal != nil {
		withdrawal, err = json.Marshal(record.Withdrawal)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode withdrawal: %w", err)
		}
	}
	provenance, err = json.Marshal(record.Provenance)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode provenance: %w", err)
	}
	healthcare, err = json.Marshal(record.Healthcare)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode healthcare context: %w", err)
	}
	return granularity, withdrawal, provenance, healthcare, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresTxRunner runs consent and audit writes in one database transaction.
type PostgresTxRunner struct {
	db *sql.DB
}

func NewPostgresTxRunner(db *sql.DB) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

func (r *PostgresTxRunner) RunInTx(ctx context.Context, fn func(TxStores) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin consent tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stores := TxStores{
		Consents: NewPostgresTx(tx),
		Audit:    audit.NewPostgresTx(tx),
	}
	if err := fn(stores); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit consent tx: %w", err)
	}
	return nil
}
