package usecase

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// RetentionConfig holds canonical store retention configuration.
type RetentionConfig struct {
	Interval time.Duration
	// MaxAge is how long committed records are kept.
	MaxAge time.Duration
	DryRun bool
}

// Retention prunes old canonical records and their stored images. Every record
// on the server is committed by definition, so age is the only criterion.
type Retention struct {
	config RetentionConfig
	repo   RecordRepository
	images ImageStore
	logger *slog.Logger
}

// NewRetention creates the canonical store retention manager.
func NewRetention(
	config RetentionConfig,
	repo RecordRepository,
	images ImageStore,
	logger *slog.Logger,
) *Retention {
	if config.Interval <= 0 {
		config.Interval = 6 * time.Hour
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 30 * 24 * time.Hour
	}
	return &Retention{config: config, repo: repo, images: images, logger: logger}
}

// Start runs the cleanup loop until the context is cancelled.
func (r *Retention) Start(ctx context.Context) error {
	r.logger.Info("starting canonical store retention",
		slog.Duration("interval", r.config.Interval),
		slog.Duration("max_age", r.config.MaxAge),
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping canonical store retention")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Cycle(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("retention cycle failed", slog.Any("error", err))
			}
		}
	}
}

// Cycle runs one cleanup pass over both record kinds. Rows go first, then
// their images; a crash in between leaves orphaned blobs, which a later pass
// of the same deterministic keys cannot re-delete, so they are logged.
func (r *Retention) Cycle(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.config.MaxAge)

	for _, kind := range []wire.Kind{wire.KindDetection, wire.KindHealth} {
		if r.config.DryRun {
			count, err := r.repo.CountByKind(ctx, string(kind))
			if err != nil {
				return apperrors.Wrap(err, "failed to count records")
			}
			r.logger.Info("retention dry run",
				slog.String("kind", string(kind)),
				slog.Int64("total_records", count),
			)
			continue
		}

		deleted, imageKeys, err := r.repo.DeleteOlderThan(ctx, string(kind), cutoff)
		if err != nil {
			return apperrors.Wrap(err, "failed to delete old records")
		}

		orphans := 0
		for _, key := range imageKeys {
			if err := r.images.Delete(ctx, key); err != nil {
				orphans++
				r.logger.Warn("failed to delete image",
					slog.String("key", key),
					slog.Any("error", err),
				)
			}
		}

		if deleted > 0 {
			r.logger.Info("deleted old records",
				slog.String("kind", string(kind)),
				slog.Int64("deleted", deleted),
				slog.Int("images_deleted", len(imageKeys)-orphans),
			)
		}
	}

	return nil
}
