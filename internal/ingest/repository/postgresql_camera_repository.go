package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/popwandee/lprserver-v3-sub001/internal/database"
	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	ingestDomain "github.com/popwandee/lprserver-v3-sub001/internal/ingest/domain"
)

// PostgreSQLCameraRepository implements camera persistence for PostgreSQL
// databases.
type PostgreSQLCameraRepository struct {
	db *sql.DB
}

// NewPostgreSQLCameraRepository creates a new PostgreSQL camera repository instance.
func NewPostgreSQLCameraRepository(db *sql.DB) *PostgreSQLCameraRepository {
	return &PostgreSQLCameraRepository{db: db}
}

// Create inserts a new registered camera. A duplicate camera_id returns
// ErrConflict.
func (p *PostgreSQLCameraRepository) Create(ctx context.Context, camera *ingestDomain.Camera) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO cameras (id, camera_id, checkpoint_id, key_hash, created_at)
			  VALUES ($1, $2, $3, $4, $5)`

	_, err := querier.ExecContext(
		ctx,
		query,
		camera.ID,
		camera.CameraID,
		camera.CheckpointID,
		camera.KeyHash,
		camera.CreatedAt,
	)
	if err != nil {
		if isPostgreSQLUniqueViolation(err) {
			return apperrors.ErrConflict
		}
		return apperrors.Wrap(err, "failed to create camera")
	}
	return nil
}

// GetByCameraID retrieves a registered camera by its external identifier.
func (p *PostgreSQLCameraRepository) GetByCameraID(
	ctx context.Context,
	cameraID string,
) (*ingestDomain.Camera, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT id, camera_id, checkpoint_id, key_hash, created_at, last_seen_at
			  FROM cameras
			  WHERE camera_id = $1
			  LIMIT 1`

	var camera ingestDomain.Camera
	err := querier.QueryRowContext(ctx, query, cameraID).Scan(
		&camera.ID,
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
	return &camera, nil
}

// TouchLastSeen records that a camera pushed data.
func (p *PostgreSQLCameraRepository) TouchLastSeen(ctx context.Context, cameraID string) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE cameras SET last_seen_at = $1 WHERE camera_id = $2`

	_, err := querier.ExecContext(ctx, query, time.Now().UTC(), cameraID)
	if err != nil {
		return apperrors.Wrap(err, "failed to touch camera")
	}
	return nil
}
