package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
)

func TestMySQLRecordRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts a record", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close() //nolint:errcheck

		record := newRecord()
		mock.ExpectExec("INSERT INTO canonical_records").
			WithArgs(
				record.ID.String(), record.MessageID.String(), record.Kind,
				record.CameraID, record.CheckpointID, record.RecordedAt,
				record.Payload, sqlmock.AnyArg(), record.CreatedAt,
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		repo := NewMySQLRecordRepository(db)
		require.NoError(t, repo.Create(ctx, record))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps error 1062 to ErrDuplicate", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close() //nolint:errcheck

		mock.ExpectExec("INSERT INTO canonical_records").
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

		repo := NewMySQLRecordRepository(db)
		err = repo.Create(ctx, newRecord())
		assert.ErrorIs(t, err, apperrors.ErrDuplicate)
	})
}

func TestMySQLRecordRepository_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectQuery("SELECT image_keys FROM canonical_records").
		WithArgs("detection", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"image_keys"}).
			AddRow([]byte(`["detection/a/0.jpg"]`)))
	mock.ExpectExec("DELETE FROM canonical_records").
		WithArgs("detection", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewMySQLRecordRepository(db)
	count, keys, err := repo.DeleteOlderThan(ctx, "detection", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, []string{"detection/a/0.jpg"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
