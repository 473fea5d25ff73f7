package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/popwandee/lprserver-v3-sub001/internal/database"
	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	ingestDomain "github.com/popwandee/lprserver-v3-sub001/internal/ingest/domain"
)

// MySQLRecordRepository implements canonical record persistence for MySQL
// databases.
type MySQLRecordRepository struct {
	db *sql.DB
}

// NewMySQLRecordRepository creates a new MySQL record repository instance.
func NewMySQLRecordRepository(db *sql.DB) *MySQLRecordRepository {
	return &MySQLRecordRepository{db: db}
}

// Create inserts a new canonical record. A message_id collision returns
// ErrDuplicate so the caller can re-acknowledge instead of double-committing.
func (m *MySQLRecordRepository) Create(ctx context.Context, record *ingestDomain.CanonicalRecord) error {
	querier := database.GetTx(ctx, m.db)

	imageKeys, err := json.Marshal(record.ImageKeys)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode image keys")
	}

	query := `INSERT INTO canonical_records
			  (id, message_id, kind, camera_id, checkpoint_id, recorded_at, payload, image_keys, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = querier.ExecContext(
		ctx,
		query,
		record.ID.String(),
		record.MessageID.String(),
		record.Kind,
		record.CameraID,
		record.CheckpointID,
		record.RecordedAt,
		record.Payload,
		imageKeys,
		record.CreatedAt,
	)
	if err != nil {
		if isMySQLDuplicateEntry(err) {
			return apperrors.ErrDuplicate
		}
		return apperrors.Wrap(err, "failed to create canonical record")
	}
	return nil
}

// GetByMessageID retrieves the committed record for an edge message id.
func (m *MySQLRecordRepository) GetByMessageID(
	ctx context.Context,
	messageID uuid.UUID,
) (*ingestDomain.CanonicalRecord, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, message_id, kind, camera_id, checkpoint_id, recorded_at, payload, image_keys, created_at
			  FROM canonical_records
			  WHERE message_id = ?
			  LIMIT 1`

	var record ingestDomain.CanonicalRecord
	var id, msgID string
	var imageKeys []byte
	err := querier.QueryRowContext(ctx, query, messageID.String()).Scan(
		&id,
		&msgID,
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

	if record.ID, err = uuid.Parse(id); err != nil {
		return nil, apperrors.Wrap(err, "failed to parse record id")
	}
	if record.MessageID, err = uuid.Parse(msgID); err != nil {
		return nil, apperrors.Wrap(err, "failed to parse message id")
	}
	if err := json.Unmarshal(imageKeys, &record.ImageKeys); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode image keys")
	}
	return &record, nil
}

// DeleteOlderThan removes records of one kind created before the cutoff and
// returns their image keys so blob cleanup can follow. MySQL has no DELETE
// RETURNING, so the keys are collected first inside the same transaction.
func (m *MySQLRecordRepository) DeleteOlderThan(
	ctx context.Context,
	kind string,
	cutoff time.Time,
) (int64, []string, error) {
	querier := database.GetTx(ctx, m.db)

	rows, err := querier.QueryContext(ctx,
		`SELECT image_keys FROM canonical_records WHERE kind = ? AND created_at < ?`,
		kind, cutoff.UTC())
	if err != nil {
		return 0, nil, apperrors.Wrap(err, "failed to list old records")
	}
	defer rows.Close() //nolint:errcheck

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
	}
	if err := rows.Err(); err != nil {
		return 0, nil, apperrors.Wrap(err, "failed to list old records")
	}

	result, err := querier.ExecContext(ctx,
		`DELETE FROM canonical_records WHERE kind = ? AND created_at < ?`,
		kind, cutoff.UTC())
	if err != nil {
		return 0, nil, apperrors.Wrap(err, "failed to delete old records")
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, nil, apperrors.Wrap(err, "failed to read affected rows")
	}
	return count, allKeys, nil
}

// CountByKind returns the number of committed records of one kind.
func (m *MySQLRecordRepository) CountByKind(ctx context.Context, kind string) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	var count int64
	err := querier.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM canonical_records WHERE kind = ?`, kind).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count records")
	}
	return count, nil
}

// isMySQLDuplicateEntry checks for MySQL error number 1062 (duplicate entry).
func isMySQLDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// List retrieves committed records of one kind newest-first, optionally
// filtered by camera.
func (m *MySQLRecordRepository) List(
	ctx context.Context,
	kind, cameraID string,
	offset, limit int,
) ([]*ingestDomain.CanonicalRecord, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, message_id, kind, camera_id, checkpoint_id, recorded_at, payload, image_keys, created_at
			  FROM canonical_records
			  WHERE kind = ? AND (? = '' OR camera_id = ?)
			  ORDER BY created_at DESC
			  LIMIT ? OFFSET ?`

	rows, err := querier.QueryContext(ctx, query, kind, cameraID, cameraID, limit, offset)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list records")
	}
	defer rows.Close() //nolint:errcheck

	var records []*ingestDomain.CanonicalRecord
	for rows.Next() {
		var record ingestDomain.CanonicalRecord
		var id, msgID string
		var imageKeys []byte
		err := rows.Scan(
			&id,
			&msgID,
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
		if record.ID, err = uuid.Parse(id); err != nil {
			return nil, apperrors.Wrap(err, "failed to parse record id")
		}
		if record.MessageID, err = uuid.Parse(msgID); err != nil {
			return nil, apperrors.Wrap(err, "failed to parse message id")
		}
		if err := json.Unmarshal(imageKeys, &record.ImageKeys); err != nil {
			return nil, apperrors.Wrap(err, "failed to decode image keys")
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}
