package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/popwandee/lprserver-v3-sub001/internal/app"
	"github.com/popwandee/lprserver-v3-sub001/internal/config"
	"github.com/popwandee/lprserver-v3-sub001/internal/http"
)

// RunServer starts the ingestion server with graceful shutdown support.
// Loads configuration, initializes the DI container, and starts the HTTP API
// (including the websocket endpoint), the metrics server, the broker consumer
// when a subscription is configured, and the canonical store retention loop.
// Blocks until receiving SIGINT/SIGTERM or encountering a fatal error.
func RunServer(ctx context.Context, version string) error {
	cfg := config.Load()

	// Set Gin mode based on log level
	gin.SetMode(cfg.GetGinMode())

	container := app.NewContainer(cfg)
	logger := container.Logger()
	logger.Info("starting ingestion server", slog.String("version", version))

	defer closeContainer(container, logger)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server, err := container.HTTPServer(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}

	retention, err := container.ServerRetention(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize retention: %w", err)
	}

	brokerConsumer, err := container.BrokerConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize broker consumer: %w", err)
	}

	serverErr := make(chan error, 3)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErr <- fmt.Errorf("api server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				serverErr <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	go func() {
		if err := retention.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("retention loop error", slog.Any("error", err))
		}
	}()

	if brokerConsumer != nil {
		go func() {
			if err := brokerConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				serverErr <- fmt.Errorf("broker consumer error: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error, initiating shutdown", slog.Any("error", err))
		return shutdownServers(server, metricsServer, cfg, err)
	}

	return shutdownServers(server, metricsServer, cfg, nil)
}

// shutdownServers gracefully stops both servers within the configured window.
func shutdownServers(
	server *http.Server,
	metricsServer *http.MetricsServer,
	cfg *config.Config,
	cause error,
) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DBConnMaxLifetime)
	defer shutdownCancel()

	var shutdownErrors []error
	if cause != nil {
		shutdownErrors = append(shutdownErrors, cause)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		shutdownErrors = append(shutdownErrors, fmt.Errorf("api server shutdown: %w", err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return errors.Join(shutdownErrors...)
	}
	return nil
}
