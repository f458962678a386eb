package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GrupoUS/neonpro-sub010/internal/audit/outbox"
)

// PostgresStore persists audit entries in PostgreSQL. Every Append also
// writes an outbox row in the same transaction, so downstream delivery to
// Kafka is at-least-once without a dual-write window.
type PostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx constructs an audit store bound to an existing transaction,
// so consent mutations and their audit entries commit atomically.
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

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	if s.tx != nil {
		return s.appendWith(ctx, s.tx, entry)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.appendWith(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit append: %w", err)
	}
	return nil
}

func (s *PostgresStore) appendWith(ctx context.Context, tx dbExecutor, entry Entry) error {
	query := `
		INSERT INTO audit_log (
			id, actor_id, action, resource_type, resource_id, purpose,
			consent_present, success, severity, reason,
			ip, agent, previous_state, new_state, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := tx.ExecContext(ctx, query,
		entry.ID,
		entry.ActorID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		entry.Purpose,
		entry.ConsentPresent,
		entry.Success,
		string(entry.Severity),
		entry.Reason,
		entry.IP,
		entry.Agent,
		nullBytes(entry.PreviousState),
		nullBytes(entry.NewState),
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload, err := json.Marshal(entryPayload(entry))
	if err != nil {
		return fmt.Errorf("encode outbox payload: %w", err)
	}
	oe := outbox.NewEntry(entry.ResourceType, entry.ResourceID, entry.Action, payload)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, oe.ID, oe.AggregateType, oe.AggregateID, oe.EventType, oe.Payload, oe.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByActor(ctx context.Context, actorID string) ([]Entry, error) {
	query := selectColumns + ` WHERE actor_id = $1 ORDER BY created_at`
	rows, err := s.execer().QueryContext(ctx, query, actorID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries by actor: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *PostgresStore) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Entry, error) {
	query := selectColumns + ` WHERE resource_type = $1`
	args := []any{resourceType}
	if resourceID != "" {
		query += ` AND resource_id = $2`
		args = append(args, resourceID)
	}
	query += ` ORDER BY created_at`
	rows, err := s.execer().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries by resource: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// DeleteOlderThan removes entries past the audit retention horizon. Only the
// retention job calls this, and it records a summary entry with the count.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.execer().ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired audit entries rows: %w", err)
	}
	return int(n), nil
}

const selectColumns = `
	SELECT id, actor_id, action, resource_type, resource_id, purpose,
	       consent_present, success, severity, reason,
	       ip, agent, previous_state, new_state, created_at
	FROM audit_log`

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var severity string
		var prev, next []byte
		if err := rows.Scan(
			&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Purpose,
			&e.ConsentPresent, &e.Success, &severity, &e.Reason,
			&e.IP, &e.Agent, &prev, &next, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Severity = Severity(severity)
		e.PreviousState = prev
		e.NewState = next
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// entryPayload is the wire form published to Kafka for compliance reporting.
func entryPayload(e Entry) map[string]any {
	return map[string]any{
		"id":              e.ID,
		"actor_id":        e.ActorID,
		"action":          e.Action,
		"resource_type":   e.ResourceType,
		"resource_id":     e.ResourceID,
		"purpose":         e.Purpose,
		"consent_present": e.ConsentPresent,
		"success":         e.Success,
		"severity":        string(e.Severity),
		"reason":          e.Reason,
		"timestamp":       e.Timestamp,
	}
}
