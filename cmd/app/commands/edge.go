package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/popwandee/lprserver-v3-sub001/internal/app"
	"github.com/popwandee/lprserver-v3-sub001/internal/config"
)

// RunEdge starts the edge agent: one sender loop per record kind, the health
// monitor and the outbox retention manager. Blocks until receiving
// SIGINT/SIGTERM. The loops share a context; cancelling it drains them all.
func RunEdge(ctx context.Context, version string) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("starting edge agent",
		slog.String("version", version),
		slog.String("camera_id", cfg.CameraID),
		slog.String("checkpoint_id", cfg.CheckpointID),
	)

	defer closeContainer(container, logger)

	senders, err := container.Senders()
	if err != nil {
		return fmt.Errorf("failed to initialize senders: %w", err)
	}

	monitor, err := container.HealthMonitor()
	if err != nil {
		return fmt.Errorf("failed to initialize health monitor: %w", err)
	}

	retention, err := container.EdgeRetention()
	if err != nil {
		return fmt.Errorf("failed to initialize retention: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, sender := range senders {
		group.Go(func() error {
			return sender.Start(groupCtx)
		})
	}
	group.Go(func() error {
		return monitor.Start(groupCtx)
	})
	group.Go(func() error {
		return retention.Start(groupCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("edge agent stopped: %w", err)
	}

	logger.Info("edge agent stopped")
	return nil
}
