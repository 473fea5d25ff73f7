// Package repository provides data persistence implementations for outbox records.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/popwandee/lprserver-v3-sub001/internal/database"
	"github.com/popwandee/lprserver-v3-sub001/internal/outbox/domain"
)

// SQLiteRecordRepository handles outbox record persistence on the embedded
// edge store. One table per record kind keeps the producer writer and the
// sender status-writer off each other's rows.
type SQLiteRecordRepository struct {
	db *sql.DB
}

// NewSQLiteRecordRepository creates a new SQLiteRecordRepository and ensures
// the outbox schema exists.
func NewSQLiteRecordRepository(db *sql.DB) (*SQLiteRecordRepository, error) {
	repo := &SQLiteRecordRepository{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize outbox schema: %w", err)
	}
	return repo, nil
}

func (r *SQLiteRecordRepository) initSchema() error {
	for _, kind := range []domain.RecordKind{domain.RecordKindDetection, domain.RecordKindHealth} {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_attempt_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`, tableFor(kind))
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}

		index := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_status_created ON %s (status, created_at)`,
			tableFor(kind), tableFor(kind),
		)
		if _, err := r.db.Exec(index); err != nil {
			return err
		}
	}
	return nil
}

// tableFor maps a record kind to its outbox table.
func tableFor(kind domain.RecordKind) string {
	if kind == domain.RecordKindHealth {
		return "outbox_health"
	}
	return "outbox_detections"
}

// Enqueue inserts a new pending record. It either succeeds or fails loudly;
// a detection must never be dropped silently.
func (r *SQLiteRecordRepository) Enqueue(ctx context.Context, record *domain.Record) error {
	if !record.Kind.Valid() {
		return fmt.Errorf("unknown record kind: %s", record.Kind)
	}

	querier := database.GetTx(ctx, r.db)

	query := fmt.Sprintf(`INSERT INTO %s (id, payload, status, attempt_count, created_at)
			  VALUES (?, ?, ?, 0, ?)`, tableFor(record.Kind))

	_, err := querier.ExecContext(ctx, query,
		record.ID.String(), record.Payload, domain.RecordStatusPending, record.CreatedAt.UTC())

	return err
}

// FetchPending retrieves pending records oldest-first, bounding staleness of
// what gets delivered next.
func (r *SQLiteRecordRepository) FetchPending(
	ctx context.Context,
	kind domain.RecordKind,
	limit int,
) ([]*domain.Record, error) {
	querier := database.GetTx(ctx, r.db)

	query := fmt.Sprintf(`SELECT id, payload, status, attempt_count, last_attempt_at, created_at
			  FROM %s
			  WHERE status = ?
			  ORDER BY created_at ASC
			  LIMIT ?`, tableFor(kind))

	rows, err := querier.QueryContext(ctx, query, domain.RecordStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var records []*domain.Record
	for rows.Next() {
		record := domain.Record{Kind: kind}
		var id string

		err := rows.Scan(&id, &record.Payload, &record.Status,
			&record.AttemptCount, &record.LastAttemptAt, &record.CreatedAt)
		if err != nil {
			return nil, err
		}

		record.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, err
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

// MarkSent flips a record to sent after a confirmed acknowledgment.
func (r *SQLiteRecordRepository) MarkSent(ctx context.Context, kind domain.RecordKind, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	query := fmt.Sprintf(`UPDATE %s SET status = ? WHERE id = ?`, tableFor(kind))

	_, err := querier.ExecContext(ctx, query, domain.RecordStatusSent, id.String())
	return err
}

// MarkAttempt records a delivery attempt for backoff accounting and stuck-record
// alerting. It never changes the status.
func (r *SQLiteRecordRepository) MarkAttempt(ctx context.Context, kind domain.RecordKind, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	querier := database.GetTx(ctx, r.db)

	query := fmt.Sprintf(
		`UPDATE %s SET attempt_count = attempt_count + 1, last_attempt_at = ? WHERE id = ?`,
		tableFor(kind),
	)

	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := querier.ExecContext(ctx, query, now, id.String()); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSentOlderThan removes sent records created before the cutoff. Pending
// rows are never touched regardless of age.
func (r *SQLiteRecordRepository) DeleteSentOlderThan(
	ctx context.Context,
	kind domain.RecordKind,
	cutoff time.Time,
) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	query := fmt.Sprintf(`DELETE FROM %s WHERE status = ? AND created_at < ?`, tableFor(kind))

	result, err := querier.ExecContext(ctx, query, domain.RecordStatusSent, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// OldestPendingAge returns the age of the oldest pending record, or zero when
// the queue is empty. Used by retention to detect a stuck queue.
func (r *SQLiteRecordRepository) OldestPendingAge(
	ctx context.Context,
	kind domain.RecordKind,
) (time.Duration, error) {
	querier := database.GetTx(ctx, r.db)

	query := fmt.Sprintf(
		`SELECT created_at FROM %s WHERE status = ? ORDER BY created_at ASC LIMIT 1`,
		tableFor(kind),
	)

	var createdAt time.Time
	err := querier.QueryRowContext(ctx, query, domain.RecordStatusPending).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return time.Since(createdAt), nil
}

// CountByStatus returns the number of records with the given status.
func (r *SQLiteRecordRepository) CountByStatus(
	ctx context.Context,
	kind domain.RecordKind,
	status domain.RecordStatus,
) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = ?`, tableFor(kind))

	var count int64
	err := querier.QueryRowContext(ctx, query, status).Scan(&count)
	return count, err
}

// Vacuum reclaims storage after bulk deletion. Must run outside a transaction.
func (r *SQLiteRecordRepository) Vacuum(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "VACUUM")
	return err
}
