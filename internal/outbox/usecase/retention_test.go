package usecase

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/popwandee/lprserver-v3-sub001/internal/outbox/domain"
	"github.com/popwandee/lprserver-v3-sub001/internal/outbox/repository"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

func seedRecord(
	t *testing.T,
	repo *repository.SQLiteRecordRepository,
	db *sql.DB,
	kind domain.RecordKind,
	status domain.RecordStatus,
	age time.Duration,
) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	outbox := NewOutbox(repo, slog.Default())
	id, err := outbox.Enqueue(ctx, kind, wire.DetectionPayload{VehiclesCount: 1})
	require.NoError(t, err)

	if status == domain.RecordStatusSent {
		require.NoError(t, repo.MarkSent(ctx, kind, id))
	}
	if age > 0 {
		backdate(t, db, kind, id, age)
	}
	return id
}

// backdate rewrites created_at so retention windows can be exercised without
// waiting.
func backdate(t *testing.T, db *sql.DB, kind domain.RecordKind, id uuid.UUID, age time.Duration) {
	t.Helper()

	table := "outbox_detections"
	if kind == domain.RecordKindHealth {
		table = "outbox_health"
	}
	_, err := db.Exec(
		"UPDATE "+table+" SET created_at = ? WHERE id = ?",
		time.Now().UTC().Add(-age), id.String(),
	)
	require.NoError(t, err)
}

func TestRetentionCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes old sent records only", func(t *testing.T) {
		repo, db := newTestRepoWithDB(t)
		seedRecord(t, repo, db, domain.RecordKindDetection, domain.RecordStatusSent, 100*time.Hour)
		seedRecord(t, repo, db, domain.RecordKindDetection, domain.RecordStatusSent, time.Hour)
		seedRecord(t, repo, db, domain.RecordKindDetection, domain.RecordStatusPending, 100*time.Hour)

		retention := NewRetention(RetentionConfig{MaxAge: 72 * time.Hour, MaxUnsentAge: 500 * time.Hour},
			repo, slog.Default())
		require.NoError(t, retention.Cycle(ctx))

		sent, err := repo.CountByStatus(ctx, domain.RecordKindDetection, domain.RecordStatusSent)
		require.NoError(t, err)
		assert.Equal(t, int64(1), sent, "recent sent record survives")

		pending, err := repo.CountByStatus(ctx, domain.RecordKindDetection, domain.RecordStatusPending)
		require.NoError(t, err)
		assert.Equal(t, int64(1), pending, "pending records are never deleted regardless of age")
	})

	t.Run("dry run deletes nothing", func(t *testing.T) {
		repo, db := newTestRepoWithDB(t)
		seedRecord(t, repo, db, domain.RecordKindDetection, domain.RecordStatusSent, 100*time.Hour)

		retention := NewRetention(RetentionConfig{MaxAge: 72 * time.Hour, DryRun: true},
			repo, slog.Default())
		require.NoError(t, retention.Cycle(ctx))

		sent, err := repo.CountByStatus(ctx, domain.RecordKindDetection, domain.RecordStatusSent)
		require.NoError(t, err)
		assert.Equal(t, int64(1), sent)
	})

	t.Run("stuck pending records trigger the callback", func(t *testing.T) {
		repo, db := newTestRepoWithDB(t)
		seedRecord(t, repo, db, domain.RecordKindDetection, domain.RecordStatusPending, 3*time.Hour)

		retention := NewRetention(RetentionConfig{MaxAge: 72 * time.Hour, MaxUnsentAge: time.Hour},
			repo, slog.Default())

		var stuckKind domain.RecordKind
		var stuckAge time.Duration
		retention.OnStuck(func(kind domain.RecordKind, age time.Duration) {
			stuckKind = kind
			stuckAge = age
		})

		require.NoError(t, retention.Cycle(ctx))
		assert.Equal(t, domain.RecordKindDetection, stuckKind)
		assert.Greater(t, stuckAge, time.Hour)
	})

	t.Run("fresh pending records do not trigger the callback", func(t *testing.T) {
		repo, db := newTestRepoWithDB(t)
		seedRecord(t, repo, db, domain.RecordKindDetection, domain.RecordStatusPending, 0)

		retention := NewRetention(RetentionConfig{MaxAge: 72 * time.Hour, MaxUnsentAge: time.Hour},
			repo, slog.Default())

		called := false
		retention.OnStuck(func(domain.RecordKind, time.Duration) { called = true })

		require.NoError(t, retention.Cycle(ctx))
		assert.False(t, called)
	})
}
