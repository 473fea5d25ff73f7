package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/popwandee/lprserver-v3-sub001/internal/blob"
	"github.com/popwandee/lprserver-v3-sub001/internal/database"
	"github.com/popwandee/lprserver-v3-sub001/internal/http"
	"github.com/popwandee/lprserver-v3-sub001/internal/ingest/broker"
	ingestHTTP "github.com/popwandee/lprserver-v3-sub001/internal/ingest/http"
	ingestRepository "github.com/popwandee/lprserver-v3-sub001/internal/ingest/repository"
	ingestService "github.com/popwandee/lprserver-v3-sub001/internal/ingest/service"
	ingestUsecase "github.com/popwandee/lprserver-v3-sub001/internal/ingest/usecase"
	"github.com/popwandee/lprserver-v3-sub001/internal/ingest/ws"
	"github.com/popwandee/lprserver-v3-sub001/internal/metrics"
)

// DB returns the canonical store connection.
// It creates and configures the database connection on first access.
func (c *Container) DB() (*sql.DB, error) {
	var err error
	c.dbInit.Do(func() {
		c.db, err = c.initDB()
		if err != nil {
			c.initErrors["db"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["db"]; exists {
		return nil, storedErr
	}
	return c.db, nil
}

// BlobStore returns the bucket holding detection image payloads.
func (c *Container) BlobStore(ctx context.Context) (*blob.Store, error) {
	var err error
	c.blobStoreInit.Do(func() {
		c.blobStore, err = blob.Open(ctx, c.config.BlobBucketURL)
		if err != nil {
			c.initErrors["blobStore"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["blobStore"]; exists {
		return nil, storedErr
	}
	return c.blobStore, nil
}

// RecordRepository returns the canonical record repository instance.
func (c *Container) RecordRepository() (ingestUsecase.RecordRepository, error) {
	var err error
	c.recordRepoInit.Do(func() {
		c.recordRepo, err = c.initRecordRepository()
		if err != nil {
			c.initErrors["recordRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["recordRepo"]; exists {
		return nil, storedErr
	}
	return c.recordRepo, nil
}

// CameraRepository returns the camera repository instance.
func (c *Container) CameraRepository() (ingestUsecase.CameraRepository, error) {
	var err error
	c.cameraRepoInit.Do(func() {
		c.cameraRepo, err = c.initCameraRepository()
		if err != nil {
			c.initErrors["cameraRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["cameraRepo"]; exists {
		return nil, storedErr
	}
	return c.cameraRepo, nil
}

// IngestUseCase returns the ingestion use case instance.
func (c *Container) IngestUseCase(ctx context.Context) (ingestUsecase.UseCase, error) {
	var err error
	c.ingestUseCaseInit.Do(func() {
		c.ingestUseCase, err = c.initIngestUseCase(ctx)
		if err != nil {
			c.initErrors["ingestUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["ingestUseCase"]; exists {
		return nil, storedErr
	}
	return c.ingestUseCase, nil
}

// HTTPServer returns the ingestion HTTP server with every route mounted.
func (c *Container) HTTPServer(ctx context.Context) (*http.Server, error) {
	var err error
	c.httpServerInit.Do(func() {
		c.httpServer, err = c.initHTTPServer(ctx)
		if err != nil {
			c.initErrors["httpServer"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["httpServer"]; exists {
		return nil, storedErr
	}
	return c.httpServer, nil
}

// MetricsServer returns the Prometheus metrics server, or nil when metrics
// are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	c.metricsServerInit.Do(func() {
		provider, err := c.MetricsProvider()
		if err != nil {
			c.initErrors["metricsServer"] = err
			return
		}
		if provider == nil {
			return
		}
		c.metricsServer = http.NewMetricsServer(
			c.config.ServerHost, c.config.MetricsPort, c.Logger(), provider)
	})
	if storedErr, exists := c.initErrors["metricsServer"]; exists {
		return nil, storedErr
	}
	return c.metricsServer, nil
}

// BrokerConsumer returns the pub/sub batch consumer, or nil when no broker
// subscription is configured.
func (c *Container) BrokerConsumer(ctx context.Context) (*broker.Consumer, error) {
	c.brokerConsumerInit.Do(func() {
		if c.config.BrokerSubscriptionURL == "" {
			return
		}
		useCase, err := c.IngestUseCase(ctx)
		if err != nil {
			c.initErrors["brokerConsumer"] = fmt.Errorf(
				"failed to get ingest use case for broker consumer: %w", err)
			return
		}
		c.brokerConsumer = broker.NewConsumer(
			c.config.BrokerSubscriptionURL, useCase, c.Logger())
	})
	if storedErr, exists := c.initErrors["brokerConsumer"]; exists {
		return nil, storedErr
	}
	return c.brokerConsumer, nil
}

// ServerRetention returns the canonical store retention manager.
func (c *Container) ServerRetention(ctx context.Context) (*ingestUsecase.Retention, error) {
	var err error
	c.serverRetentionInit.Do(func() {
		c.serverRetention, err = c.initServerRetention(ctx)
		if err != nil {
			c.initErrors["serverRetention"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["serverRetention"]; exists {
		return nil, storedErr
	}
	return c.serverRetention, nil
}

// initDB creates and configures the canonical store connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initRecordRepository creates the canonical record repository for the
// configured driver.
func (c *Container) initRecordRepository() (ingestUsecase.RecordRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for record repository: %w", err)
	}

	switch c.config.DBDriver {
	case "mysql":
		return ingestRepository.NewMySQLRecordRepository(db), nil
	case "postgres":
		return ingestRepository.NewPostgreSQLRecordRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initCameraRepository creates the camera repository for the configured driver.
func (c *Container) initCameraRepository() (ingestUsecase.CameraRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for camera repository: %w", err)
	}

	switch c.config.DBDriver {
	case "mysql":
		return ingestRepository.NewMySQLCameraRepository(db), nil
	case "postgres":
		return ingestRepository.NewPostgreSQLCameraRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initIngestUseCase creates the ingestion use case with all its dependencies.
func (c *Container) initIngestUseCase(ctx context.Context) (ingestUsecase.UseCase, error) {
	recordRepo, err := c.RecordRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get record repository for ingest use case: %w", err)
	}

	cameraRepo, err := c.CameraRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get camera repository for ingest use case: %w", err)
	}

	images, err := c.BlobStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob store for ingest use case: %w", err)
	}

	syncMetrics, err := c.SyncMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get sync metrics for ingest use case: %w", err)
	}

	return ingestUsecase.NewIngestUsecase(
		recordRepo,
		cameraRepo,
		images,
		ingestService.NewKeyService(),
		syncMetrics,
		c.Logger(),
	), nil
}

// initHTTPServer creates the HTTP server with the ingestion routes, the
// websocket endpoint and the standard middleware stack.
func (c *Container) initHTTPServer(ctx context.Context) (*http.Server, error) {
	logger := c.Logger()

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for http server: %w", err)
	}

	useCase, err := c.IngestUseCase(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ingest use case for http server: %w", err)
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	var middlewares []gin.HandlerFunc
	if provider != nil {
		middlewares = append(middlewares, metrics.HTTPMetricsMiddleware(
			provider.MeterProvider(), c.config.MetricsNamespace))
	}

	ingestHandler := ingestHTTP.NewIngestHandler(useCase, logger)
	c.wsHandler = ws.NewHandler(useCase, c.config.SessionIdleTimeout, logger)

	server := http.NewServer(db, c.config.ServerHost, c.config.ServerPort, logger)
	server.SetupRouter(
		http.RouterOptions{
			CORSEnabled:      c.config.CORSEnabled,
			CORSAllowOrigins: c.config.CORSAllowOrigins,
			Middlewares:      middlewares,
		},
		func(router *gin.Engine) {
			ingestHandler.RegisterRoutes(router,
				c.config.RegisterRateLimitPerSec, c.config.RegisterRateLimitBurst)
		},
		c.wsHandler.RegisterRoutes,
	)

	return server, nil
}

// initServerRetention creates the canonical store retention manager.
func (c *Container) initServerRetention(ctx context.Context) (*ingestUsecase.Retention, error) {
	recordRepo, err := c.RecordRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get record repository for retention: %w", err)
	}

	images, err := c.BlobStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob store for retention: %w", err)
	}

	retentionConfig := ingestUsecase.RetentionConfig{
		Interval: c.config.RetentionInterval,
		MaxAge:   c.config.RetentionServerMaxAge,
	}
	return ingestUsecase.NewRetention(retentionConfig, recordRepo, images, c.Logger()), nil
}
