package usecase

import (
	"context"
	"log/slog"
	"time"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	"github.com/popwandee/lprserver-v3-sub001/internal/outbox/domain"
)

// RetentionConfig holds retention manager configuration.
type RetentionConfig struct {
	Interval time.Duration
	// MaxAge is how long sent records are kept before deletion.
	MaxAge time.Duration
	// MaxUnsentAge is the pending-row age beyond which the store is
	// considered stuck and a warning is raised.
	MaxUnsentAge time.Duration
	DryRun       bool
}

// Retention prunes delivered outbox records. Pending records are never
// touched regardless of age: an unsent record is a delivery problem, not a
// cleanup opportunity, so the manager escalates instead of deleting.
type Retention struct {
	config RetentionConfig
	repo   RecordRepository
	logger *slog.Logger

	// onStuck is invoked with the oldest pending age when it exceeds
	// MaxUnsentAge. The health monitor hooks in here.
	onStuck func(kind domain.RecordKind, age time.Duration)
}

// NewRetention creates the outbox retention manager.
func NewRetention(config RetentionConfig, repo RecordRepository, logger *slog.Logger) *Retention {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 72 * time.Hour
	}
	if config.MaxUnsentAge <= 0 {
		config.MaxUnsentAge = time.Hour
	}
	return &Retention{config: config, repo: repo, logger: logger}
}

// OnStuck registers a callback fired when pending records age past the
// configured threshold.
func (r *Retention) OnStuck(fn func(kind domain.RecordKind, age time.Duration)) {
	r.onStuck = fn
}

// Start runs the cleanup loop until the context is cancelled.
func (r *Retention) Start(ctx context.Context) error {
	r.logger.Info("starting outbox retention",
		slog.Duration("interval", r.config.Interval),
		slog.Duration("max_age", r.config.MaxAge),
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping outbox retention")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Cycle(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("retention cycle failed", slog.Any("error", err))
			}
		}
	}
}

// Cycle runs one cleanup pass over both record kinds.
func (r *Retention) Cycle(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.config.MaxAge)
	var total int64

	for _, kind := range []domain.RecordKind{domain.RecordKindDetection, domain.RecordKindHealth} {
		if r.config.DryRun {
			count, err := r.repo.CountByStatus(ctx, kind, domain.RecordStatusSent)
			if err != nil {
				return apperrors.Wrap(err, "failed to count sent records")
			}
			r.logger.Info("retention dry run",
				slog.String("kind", string(kind)),
				slog.Int64("sent_records", count),
			)
		} else {
			deleted, err := r.repo.DeleteSentOlderThan(ctx, kind, cutoff)
			if err != nil {
				return apperrors.Wrap(err, "failed to delete sent records")
			}
			total += deleted
			if deleted > 0 {
				r.logger.Info("deleted sent records",
					slog.String("kind", string(kind)),
					slog.Int64("deleted", deleted),
				)
			}
		}

		age, err := r.repo.OldestPendingAge(ctx, kind)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return apperrors.Wrap(err, "failed to read oldest pending age")
		}
		if age > r.config.MaxUnsentAge {
			r.logger.Warn("pending records are not draining",
				slog.String("kind", string(kind)),
				slog.Duration("oldest_pending_age", age),
				slog.Duration("threshold", r.config.MaxUnsentAge),
			)
			if r.onStuck != nil {
				r.onStuck(kind, age)
			}
		}
	}

	if total > 0 && !r.config.DryRun {
		if err := r.repo.Vacuum(ctx); err != nil {
			r.logger.Warn("vacuum failed", slog.Any("error", err))
		}
	}

	return nil
}
