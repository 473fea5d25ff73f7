// Package repository implements canonical record persistence for the
// ingestion service. Repositories support both PostgreSQL and MySQL; the
// unique index on message_id is what turns at-least-once delivery into
// exactly-once commit.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/popwandee/lprserver-v3-sub001/internal/database"
	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	ingestDomain "github.com/popwandee/lprserver-v3-sub001/internal/ingest/domain"
)

// PostgreSQLRecordRepository implements canonical record persistence for
// PostgreSQL databases.
type PostgreSQLRecordRepository struct {
	db *sql.DB
}

// NewPostgreSQLRecordRepository creates a new PostgreSQL record repository instance.
func NewPostgreSQLRecordRepository(db *sql.DB) *PostgreSQLRecordRepository {
	return &PostgreSQLRecordRepository{db: db}
}

// Create inserts a new canonical record. A message_id collision returns
// ErrDuplicate so the caller can re-acknowledge instead of double-committing.
func (p *PostgreSQLRecordRepository) Create(ctx context.Context, record *ingestDomain.CanonicalRecord) error {
	querier := database.GetTx(ctx, p.db)

	imageKeys, err := json.Marshal(record.ImageKeys)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode image keys")
	}

	query := `INSERT INTO canonical_records
			  (id, message_id, kind, camera_id, checkpoint_id, recorded_at, payload, image_keys, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = querier.ExecContext(
		ctx,
		query,
		record.ID,
		record.MessageID,
		record.Kind,
		record.CameraID,
		record.CheckpointID,
		record.RecordedAt,
		record.Payload,
		imageKeys,
		record.CreatedAt,
	)
	if err != nil {
		if isPostgreSQLUniqueViolation(err) {
			return apperrors.ErrDuplicate
		}
		return apperrors.Wrap(err, "failed to create canonical record")
	}
	return nil
}

// GetByMessageID retrieves the committed record for an edge message id.
func (p *PostgreSQLRecordRepository) GetByMessageID(
	ctx context.Context,
	messageID uuid.UUID,
) (*ingestDomain.CanonicalRecord, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, message_id, kind, camera_id, checkpoint_id, recorded_at, payload, image_keys, created_at
			  FROM canonical_records
			  WHERE message_id = $1
			  LIMIT 1`

	var record ingestDomain.CanonicalRecord
	var imageKeys []byte
	err := querier.QueryRowContext(ctx, query, messageID).Scan(
		&record.ID,
		&record.MessageID,
		&record.Kind,
		&record.CameraID,
		&record.CheckpointID,
		&record.RecordedAt,
		&record.Payload,
		&imageKeys,
		&record.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get record by message id")
	}

	if err := json.Unmarshal(imageKeys, &record.ImageKeys); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode image keys")
	}
	return &record, nil
}

// DeleteOlderThan removes records of one kind created before the cutoff and
// returns their image keys so blob cleanup can follow.
func (p *PostgreSQLRecordRepository) DeleteOlderThan(
	ctx context.Context,
	kind string,
	cutoff time.Time,
) (int64, []string, error) {
	querier := database.GetTx(ctx, p.db)

	query := `DELETE FROM canonical_records
			  WHERE kind = $1 AND created_at < $2
			  RETURNING image_keys`

	rows, err := querier.QueryContext(ctx, query, kind, cutoff.UTC())
	if err != nil {
		return 0, nil, apperrors.Wrap(err, "failed to delete old records")
	}
	defer rows.Close() //nolint:errcheck

	var count int64
	var allKeys []string
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return 0, nil, apperrors.Wrap(err, "failed to scan image keys")
		}
		var keys []string
		if err := json.Unmarshal(raw, &keys); err != nil {
			return 0, nil, apperrors.Wrap(err, "failed to decode image keys")
		}
		allKeys = append(allKeys, keys...)
		count++
	}
	return count, allKeys, rows.Err()
}

// CountByKind returns the number of committed records of one kind.
func (p *PostgreSQLRecordRepository) CountByKind(ctx context.Context, kind string) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	var count int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM canonical_records WHERE kind = $1`, kind).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count records")
	}
	return count, nil
}

// isPostgreSQLUniqueViolation checks if the error is a PostgreSQL unique
// constraint violation.
func isPostgreSQLUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	// PostgreSQL: "duplicate key value violates unique constraint"
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "unique constraint")
}

// List retrieves committed records of one kind newest-first, optionally
// filtered by camera.
func (p *PostgreSQLRecordRepository) List(
	ctx context.Context,
	kind, cameraID string,
	offset, limit int,
) ([]*ingestDomain.CanonicalRecord, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, message_id, kind, camera_id, checkpoint_id, recorded_at, payload, image_keys, created_at
			  FROM canonical_records
			  WHERE kind = $1 AND ($2 = '' OR camera_id = $2)
			  ORDER BY created_at DESC
			  OFFSET $3 LIMIT $4`

	rows, err := querier.QueryContext(ctx, query, kind, cameraID, offset, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list records")
	}
	defer rows.Close() //nolint:errcheck

	var records []*ingestDomain.CanonicalRecord
	for rows.Next() {
		var record ingestDomain.CanonicalRecord
		var imageKeys []byte
		err := rows.Scan(
			&record.ID,
			&record.MessageID,
			&record.Kind,
			&record.CameraID,
			&record.CheckpointID,
			&record.RecordedAt,
			&record.Payload,
			&imageKeys,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan record")
		}
		if err := json.Unmarshal(imageKeys, &record.ImageKeys); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode image keys")
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}
