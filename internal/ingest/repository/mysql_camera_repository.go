package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/popwandee/lprserver-v3-sub001/internal/database"
	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	ingestDomain "github.com/popwandee/lprserver-v3-sub001/internal/ingest/domain"
)

// MySQLCameraRepository implements camera persistence for MySQL databases.
type MySQLCameraRepository struct {
	db *sql.DB
}

// NewMySQLCameraRepository creates a new MySQL camera repository instance.
func NewMySQLCameraRepository(db *sql.DB) *MySQLCameraRepository {
	return &MySQLCameraRepository{db: db}
}

// Create inserts a new registered camera. A duplicate camera_id returns
// ErrConflict.
func (m *MySQLCameraRepository) Create(ctx context.Context, camera *ingestDomain.Camera) error {
	querier := database.GetTx(ctx, m.db)

	query := `INSERT INTO cameras (id, camera_id, checkpoint_id, key_hash, created_at)
			  VALUES (?, ?, ?, ?, ?)`

	_, err := querier.ExecContext(
		ctx,
		query,
		camera.ID.String(),
		camera.CameraID,
		camera.CheckpointID,
		camera.KeyHash,
		camera.CreatedAt,
	)
	if err != nil {
		if isMySQLDuplicateEntry(err) {
			return apperrors.ErrConflict
		}
		return apperrors.Wrap(err, "failed to create camera")
	}
	return nil
}

// GetByCameraID retrieves a registered camera by its external identifier.
func (m *MySQLCameraRepository) GetByCameraID(
	ctx context.Context,
	cameraID string,
) (*ingestDomain.Camera, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT id, camera_id, checkpoint_id, key_hash, created_at, last_seen_at
			  FROM cameras
			  WHERE camera_id = ?
			  LIMIT 1`

	var camera ingestDomain.Camera
	var id string
	err := querier.QueryRowContext(ctx, query, cameraID).Scan(
		&id,
		&camera.CameraID,
		&camera.CheckpointID,
		&camera.KeyHash,
		&camera.CreatedAt,
		&camera.LastSeenAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get camera")
	}

	if camera.ID, err = uuid.Parse(id); err != nil {
		return nil, apperrors.Wrap(err, "failed to parse camera id")
	}
	return &camera, nil
}

// TouchLastSeen records that a camera pushed data.
func (m *MySQLCameraRepository) TouchLastSeen(ctx context.Context, cameraID string) error {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE cameras SET last_seen_at = ? WHERE camera_id = ?`

	_, err := querier.ExecContext(ctx, query, time.Now().UTC(), cameraID)
	if err != nil {
		return apperrors.Wrap(err, "failed to touch camera")
	}
	return nil
}
