package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/popwandee/lprserver-v3-sub001/internal/database"
	"github.com/popwandee/lprserver-v3-sub001/internal/health"
	outboxDomain "github.com/popwandee/lprserver-v3-sub001/internal/outbox/domain"
	outboxRepository "github.com/popwandee/lprserver-v3-sub001/internal/outbox/repository"
	outboxUsecase "github.com/popwandee/lprserver-v3-sub001/internal/outbox/usecase"
	"github.com/popwandee/lprserver-v3-sub001/internal/transport"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// OutboxDB returns the embedded SQLite outbox connection, creating the schema
// on first access.
func (c *Container) OutboxDB() (*sql.DB, error) {
	var err error
	c.outboxDBInit.Do(func() {
		c.outboxDB, err = database.ConnectSQLite(c.config.OutboxPath)
		if err != nil {
			c.initErrors["outboxDB"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["outboxDB"]; exists {
		return nil, storedErr
	}
	return c.outboxDB, nil
}

// OutboxRepository returns the outbox record repository instance.
func (c *Container) OutboxRepository() (outboxUsecase.RecordRepository, error) {
	var err error
	c.outboxRepoInit.Do(func() {
		c.outboxRepo, err = c.initOutboxRepository()
		if err != nil {
			c.initErrors["outboxRepo"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["outboxRepo"]; exists {
		return nil, storedErr
	}
	return c.outboxRepo, nil
}

// Outbox returns the enqueue-side outbox instance used by producers on the
// edge (detection pipeline adapter, health monitor).
func (c *Container) Outbox() (*outboxUsecase.Outbox, error) {
	var err error
	c.outboxInit.Do(func() {
		c.outbox, err = c.initOutbox()
		if err != nil {
			c.initErrors["outbox"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["outbox"]; exists {
		return nil, storedErr
	}
	return c.outbox, nil
}

// Negotiator returns the transport negotiator over every configured channel.
func (c *Container) Negotiator() (*transport.Negotiator, error) {
	var err error
	c.negotiatorInit.Do(func() {
		c.negotiator, err = c.initNegotiator()
		if err != nil {
			c.initErrors["negotiator"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["negotiator"]; exists {
		return nil, storedErr
	}
	return c.negotiator, nil
}

// Senders returns the background sender agents, one per record kind.
func (c *Container) Senders() ([]*outboxUsecase.Sender, error) {
	var err error
	c.sendersInit.Do(func() {
		c.senders, err = c.initSenders()
		if err != nil {
			c.initErrors["senders"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["senders"]; exists {
		return nil, storedErr
	}
	return c.senders, nil
}

// HealthMonitor returns the periodic self-check monitor.
func (c *Container) HealthMonitor() (*health.Monitor, error) {
	var err error
	c.healthMonitorInit.Do(func() {
		c.healthMonitor, err = c.initHealthMonitor()
		if err != nil {
			c.initErrors["healthMonitor"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["healthMonitor"]; exists {
		return nil, storedErr
	}
	return c.healthMonitor, nil
}

// EdgeRetention returns the outbox retention manager.
func (c *Container) EdgeRetention() (*outboxUsecase.Retention, error) {
	var err error
	c.edgeRetentionInit.Do(func() {
		c.edgeRetention, err = c.initEdgeRetention()
		if err != nil {
			c.initErrors["edgeRetention"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["edgeRetention"]; exists {
		return nil, storedErr
	}
	return c.edgeRetention, nil
}

// initOutboxRepository creates the outbox record repository instance.
func (c *Container) initOutboxRepository() (outboxUsecase.RecordRepository, error) {
	db, err := c.OutboxDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox database for outbox repository: %w", err)
	}
	return outboxRepository.NewSQLiteRecordRepository(db)
}

// initOutbox creates the enqueue-side outbox.
func (c *Container) initOutbox() (*outboxUsecase.Outbox, error) {
	repo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for outbox: %w", err)
	}
	return outboxUsecase.NewOutbox(repo, c.Logger()), nil
}

// initNegotiator creates the transport negotiator. Channels are ordered by
// preference: websocket, HTTP, then the pub/sub broker when one is configured.
func (c *Container) initNegotiator() (*transport.Negotiator, error) {
	register := wire.RegisterRequest{
		CameraID:     c.config.CameraID,
		CheckpointID: c.config.CheckpointID,
		CameraKey:    c.config.SyncCameraKey,
	}

	transports := []transport.Transport{
		transport.NewWebSocketTransport(c.config.SyncWebSocketURL, register),
		transport.NewHTTPTransport(c.config.SyncServerURL, c.config.SenderAttemptTimeout),
	}
	if c.config.SyncBrokerURL != "" {
		transports = append(transports, transport.NewPubSubTransport(c.config.SyncBrokerURL))
	}

	negotiatorConfig := transport.Config{
		FailureThreshold: c.config.TransportFailureThreshold,
		Cooldown:         c.config.TransportCooldown,
		StatePath:        c.config.TransportStatePath,
	}

	return transport.NewNegotiator(negotiatorConfig, transports, c.Logger()), nil
}

// initSenders creates one sender agent per record kind. The two senders share
// the negotiator and the outbox database but nothing else; a stalled health
// queue never blocks detections.
func (c *Container) initSenders() ([]*outboxUsecase.Sender, error) {
	repo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for senders: %w", err)
	}

	negotiator, err := c.Negotiator()
	if err != nil {
		return nil, fmt.Errorf("failed to get negotiator for senders: %w", err)
	}

	syncMetrics, err := c.SyncMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get sync metrics for senders: %w", err)
	}

	kinds := []outboxDomain.RecordKind{
		outboxDomain.RecordKindDetection,
		outboxDomain.RecordKindHealth,
	}

	senders := make([]*outboxUsecase.Sender, 0, len(kinds))
	for _, kind := range kinds {
		senderConfig := outboxUsecase.SenderConfig{
			Kind:           kind,
			CameraID:       c.config.CameraID,
			CheckpointID:   c.config.CheckpointID,
			PollInterval:   c.config.SenderPollInterval,
			BatchSize:      c.config.OutboxBatchSize,
			AttemptTimeout: c.config.SenderAttemptTimeout,
			BackoffBase:    c.config.SenderBackoffBase,
			BackoffMax:     c.config.SenderBackoffMax,
		}
		senders = append(senders, outboxUsecase.NewSender(
			senderConfig, repo, negotiator, syncMetrics, c.Logger()))
	}

	return senders, nil
}

// initHealthMonitor creates the health monitor with the standard edge checks.
func (c *Container) initHealthMonitor() (*health.Monitor, error) {
	outbox, err := c.Outbox()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox for health monitor: %w", err)
	}

	db, err := c.OutboxDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox database for health monitor: %w", err)
	}

	repo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for health monitor: %w", err)
	}

	negotiator, err := c.Negotiator()
	if err != nil {
		return nil, fmt.Errorf("failed to get negotiator for health monitor: %w", err)
	}

	failFreeRatio := c.config.HealthDiskMinFreePercent / 100
	checks := []health.Check{
		health.NewCanonicalStoreCheck(negotiator),
		health.NewOutboxStoreCheck(db),
		health.NewDiskCheck(c.config.HealthDiskPath, failFreeRatio*2, failFreeRatio),
		health.NewBacklogCheck(repo, 0, c.config.RetentionMaxUnsentAgeWarning),
	}
	if c.config.HealthPipelineHeartbeatPath != "" {
		checks = append(checks, health.NewPipelineCheck(
			c.config.HealthPipelineHeartbeatPath, c.config.HealthPipelineMaxAge))
	}

	return health.NewMonitor(c.config.HealthInterval, outbox, c.Logger(), checks...), nil
}

// initEdgeRetention creates the outbox retention manager and hooks its
// stuck-queue escalation into the health monitor.
func (c *Container) initEdgeRetention() (*outboxUsecase.Retention, error) {
	repo, err := c.OutboxRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox repository for retention: %w", err)
	}

	retentionConfig := outboxUsecase.RetentionConfig{
		Interval:     c.config.RetentionInterval,
		MaxAge:       c.config.RetentionMaxAge,
		MaxUnsentAge: c.config.RetentionMaxUnsentAgeWarning,
	}
	retention := outboxUsecase.NewRetention(retentionConfig, repo, c.Logger())

	monitor, err := c.HealthMonitor()
	if err != nil {
		return nil, fmt.Errorf("failed to get health monitor for retention: %w", err)
	}
	retention.OnStuck(func(kind outboxDomain.RecordKind, age time.Duration) {
		monitor.ReportStuckOutbox(context.Background(), kind, age)
	})

	return retention, nil
}
