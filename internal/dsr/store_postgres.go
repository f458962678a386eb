package dsr

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/GrupoUS/neonpro-sub010/internal/sentinel"
)

// PostgresStore persists data subject requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `id, subject_id, kind, status, opened_at, due_at, completed_at, result`

func (s *PostgresStore) Create(ctx context.Context, req *Request) error {
	result, err := encodeResult(req.Result)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO dsr_requests (id, subject_id, kind, status, opened_at, due_at, completed_at, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.db.ExecContext(ctx, query,
		req.ID, req.SubjectID, string(req.Kind), string(req.Status),
		req.OpenedAt, req.DueAt, req.CompletedAt, result,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert data subject request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, subjectID, requestID string) (*Request, error) {
	query := `SELECT ` + selectColumns + ` FROM dsr_requests WHERE id = $1 AND subject_id = $2`
	req, err := scanRequest(s.db.QueryRowContext(ctx, query, requestID, subjectID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find data subject request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string) ([]*Request, error) {
	query := `SELECT ` + selectColumns + ` FROM dsr_requests WHERE subject_id = $1 ORDER BY opened_at`
	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list data subject requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PostgresStore) Update(ctx context.Context, req *Request) error {
	result, err := encodeResult(req.Result)
	if err != nil {
		return err
	}
	query := `
		UPDATE dsr_requests
		SET status = $3, completed_at = $4, result = $5
		WHERE id = $1 AND subject_id = $2`
	res, err := s.db.ExecContext(ctx, query,
		req.ID, req.SubjectID, string(req.Status), req.CompletedAt, result,
	)
	if err != nil {
		return fmt.Errorf("update data subject request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update data subject request: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDue(ctx context.Context, cutoff time.Time) ([]*Request, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM dsr_requests
		WHERE status IN ('received', 'in_progress') AND due_at < $1
		ORDER BY due_at`
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list due data subject requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		req         Request
		kind        string
		status      string
		completedAt sql.NullTime
		result      []byte
	)
	if err := row.Scan(&req.ID, &req.SubjectID, &kind, &status, &req.OpenedAt, &req.DueAt, &completedAt, &result); err != nil {
		return nil, err
	}
	req.Kind = Kind(kind)
	req.Status = Status(status)
	if completedAt.Valid {
		req.CompletedAt = &completedAt.Time
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &req.Result); err != nil {
			return nil, fmt.Errorf("decode request result: %w", err)
		}
	}
	return &req, nil
}

func collectRequests(rows *sql.Rows) ([]*Request, error) {
	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan data subject request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data subject requests: %w", err)
	}
	return out, nil
}

func encodeResult(result map[string]any) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode request result: %w", err)
	}
	return data, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
