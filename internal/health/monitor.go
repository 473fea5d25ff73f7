// Package health runs periodic self-checks on the edge device and reports
// them through the same durable outbox as detection records, so health history
// survives outages exactly like detections do.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/popwandee/lprserver-v3-sub001/internal/outbox/domain"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// Enqueuer is the producer-facing outbox API the monitor publishes through.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind domain.RecordKind, payload any) (uuid.UUID, error)
}

// Monitor runs a set of named checks on a fixed interval.
type Monitor struct {
	interval time.Duration
	checks   []Check
	outbox   Enqueuer
	logger   *slog.Logger
}

// NewMonitor creates a health monitor.
func NewMonitor(interval time.Duration, outbox Enqueuer, logger *slog.Logger, checks ...Check) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{interval: interval, checks: checks, outbox: outbox, logger: logger}
}

// Start runs the check loop until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Info("starting health monitor",
		slog.Duration("interval", m.interval),
		slog.Int("checks", len(m.checks)),
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("stopping health monitor")
			return ctx.Err()
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle runs every check once and enqueues each result. Enqueue failures are
// logged and do not stop the remaining checks.
func (m *Monitor) Cycle(ctx context.Context) {
	for _, check := range m.checks {
		payload := check.Run(ctx)
		payload.Component = check.Name()

		if payload.Status != wire.HealthStatusPass {
			m.logger.Warn("health check not passing",
				slog.String("component", payload.Component),
				slog.String("status", string(payload.Status)),
				slog.String("message", payload.Message),
			)
		}

		if _, err := m.outbox.Enqueue(ctx, domain.RecordKindHealth, payload); err != nil {
			m.logger.Error("failed to enqueue health record",
				slog.String("component", payload.Component),
				slog.Any("error", err),
			)
		}
	}
}

// ReportStuckOutbox enqueues a WARNING record for the outbox backlog
// component. The retention manager calls this when pending records age past
// its threshold; the rows are still intact, so this is a warning rather than
// a failure.
func (m *Monitor) ReportStuckOutbox(ctx context.Context, kind domain.RecordKind, age time.Duration) {
	payload := wire.HealthPayload{
		Component: "outbox_backlog",
		Status:    wire.HealthStatusWarning,
		Message:   "pending " + string(kind) + " records are not draining",
		Metrics:   map[string]float64{"oldest_pending_age_seconds": age.Seconds()},
	}
	if _, err := m.outbox.Enqueue(ctx, domain.RecordKindHealth, payload); err != nil {
		m.logger.Error("failed to enqueue stuck-outbox record", slog.Any("error", err))
	}
}
