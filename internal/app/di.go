// Package app provides the dependency injection container for assembling
// application components. A single container backs both roles: the edge agent
// wires the outbox, transports and monitor; the ingestion server wires the
// canonical store, blob bucket and HTTP surface.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/popwandee/lprserver-v3-sub001/internal/blob"
	"github.com/popwandee/lprserver-v3-sub001/internal/config"
	"github.com/popwandee/lprserver-v3-sub001/internal/health"
	"github.com/popwandee/lprserver-v3-sub001/internal/http"
	"github.com/popwandee/lprserver-v3-sub001/internal/ingest/broker"
	ingestUsecase "github.com/popwandee/lprserver-v3-sub001/internal/ingest/usecase"
	"github.com/popwandee/lprserver-v3-sub001/internal/ingest/ws"
	"github.com/popwandee/lprserver-v3-sub001/internal/metrics"
	outboxUsecase "github.com/popwandee/lprserver-v3-sub001/internal/outbox/usecase"
	"github.com/popwandee/lprserver-v3-sub001/internal/transport"
)

// Container holds all application dependencies and provides methods to access
// them. It follows the lazy initialization pattern - components are created on
// first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger          *slog.Logger
	db              *sql.DB
	outboxDB        *sql.DB
	blobStore       *blob.Store
	metricsProvider *metrics.Provider
	syncMetrics     metrics.SyncMetrics

	// Edge components
	outbox        *outboxUsecase.Outbox
	outboxRepo    outboxUsecase.RecordRepository
	negotiator    *transport.Negotiator
	senders       []*outboxUsecase.Sender
	healthMonitor *health.Monitor
	edgeRetention *outboxUsecase.Retention

	// Server components
	recordRepo      ingestUsecase.RecordRepository
	cameraRepo      ingestUsecase.CameraRepository
	ingestUseCase   ingestUsecase.UseCase
	httpServer      *http.Server
	metricsServer   *http.MetricsServer
	serverRetention *ingestUsecase.Retention
	wsHandler       *ws.Handler
	brokerConsumer  *broker.Consumer

	// Initialization flags and mutex for thread-safety
	mu                  sync.Mutex
	loggerInit          sync.Once
	dbInit              sync.Once
	outboxDBInit        sync.Once
	blobStoreInit       sync.Once
	metricsProviderInit sync.Once
	syncMetricsInit     sync.Once
	outboxInit          sync.Once
	outboxRepoInit      sync.Once
	negotiatorInit      sync.Once
	sendersInit         sync.Once
	healthMonitorInit   sync.Once
	edgeRetentionInit   sync.Once
	recordRepoInit      sync.Once
	cameraRepoInit      sync.Once
	ingestUseCaseInit   sync.Once
	httpServerInit      sync.Once
	metricsServerInit   sync.Once
	serverRetentionInit sync.Once
	brokerConsumerInit  sync.Once
	initErrors          map[string]error
}

// NewContainer creates a new dependency injection container with the provided
// configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// MetricsProvider returns the OpenTelemetry metrics provider, or nil when
// metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	var err error
	c.metricsProviderInit.Do(func() {
		if !c.config.MetricsEnabled {
			return
		}
		c.metricsProvider, err = metrics.NewProvider(c.config.MetricsNamespace)
		if err != nil {
			c.initErrors["metricsProvider"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["metricsProvider"]; exists {
		return nil, storedErr
	}
	return c.metricsProvider, nil
}

// SyncMetrics returns the delivery pipeline metrics recorder. A no-op
// implementation is returned when metrics are disabled.
func (c *Container) SyncMetrics() (metrics.SyncMetrics, error) {
	var err error
	c.syncMetricsInit.Do(func() {
		c.syncMetrics, err = c.initSyncMetrics()
		if err != nil {
			c.initErrors["syncMetrics"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["syncMetrics"]; exists {
		return nil, storedErr
	}
	return c.syncMetrics, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.negotiator != nil {
		if err := c.negotiator.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("negotiator close: %w", err))
		}
	}

	if c.blobStore != nil {
		if err := c.blobStore.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("blob store close: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	if c.outboxDB != nil {
		if err := c.outboxDB.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("outbox database close: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %v", shutdownErrors)
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initSyncMetrics creates the pipeline metrics recorder.
func (c *Container) initSyncMetrics() (metrics.SyncMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for sync metrics: %w", err)
	}
	if provider == nil {
		return metrics.NewNoOpSyncMetrics(), nil
	}
	return metrics.NewSyncMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
}
