package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/popwandee/lprserver-v3-sub001/internal/app"
	"github.com/popwandee/lprserver-v3-sub001/internal/config"
	ingestUsecase "github.com/popwandee/lprserver-v3-sub001/internal/ingest/usecase"
)

// RunCleanRecords runs one canonical store retention pass, deleting committed
// records past the retention age together with their stored images. Supports
// dry-run mode to preview the deletion count.
func RunCleanRecords(ctx context.Context, dryRun bool) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("cleaning canonical records",
		slog.Duration("max_age", cfg.RetentionServerMaxAge),
		slog.Bool("dry_run", dryRun),
	)

	defer closeContainer(container, logger)

	repo, err := container.RecordRepository()
	if err != nil {
		return fmt.Errorf("failed to initialize record repository: %w", err)
	}

	images, err := container.BlobStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	retention := ingestUsecase.NewRetention(ingestUsecase.RetentionConfig{
		MaxAge: cfg.RetentionServerMaxAge,
		DryRun: dryRun,
	}, repo, images, logger)

	if err := retention.Cycle(ctx); err != nil {
		return fmt.Errorf("failed to clean records: %w", err)
	}

	logger.Info("record cleanup completed", slog.Bool("dry_run", dryRun))
	return nil
}
