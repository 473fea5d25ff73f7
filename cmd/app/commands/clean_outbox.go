package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/popwandee/lprserver-v3-sub001/internal/app"
	"github.com/popwandee/lprserver-v3-sub001/internal/config"
	outboxUsecase "github.com/popwandee/lprserver-v3-sub001/internal/outbox/usecase"
)

// RunCleanOutbox runs one outbox retention pass. Only sent records past the
// retention age are deleted; pending records are never touched regardless of
// age. Supports dry-run mode to preview the deletion count.
func RunCleanOutbox(ctx context.Context, dryRun bool) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("cleaning outbox",
		slog.Duration("max_age", cfg.RetentionMaxAge),
		slog.Bool("dry_run", dryRun),
	)

	defer closeContainer(container, logger)

	repo, err := container.OutboxRepository()
	if err != nil {
		return fmt.Errorf("failed to initialize outbox repository: %w", err)
	}

	retention := outboxUsecase.NewRetention(outboxUsecase.RetentionConfig{
		MaxAge:       cfg.RetentionMaxAge,
		MaxUnsentAge: cfg.RetentionMaxUnsentAgeWarning,
		DryRun:       dryRun,
	}, repo, logger)

	if err := retention.Cycle(ctx); err != nil {
		return fmt.Errorf("failed to clean outbox: %w", err)
	}

	logger.Info("outbox cleanup completed", slog.Bool("dry_run", dryRun))
	return nil
}
