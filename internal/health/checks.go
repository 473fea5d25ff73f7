package health

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/popwandee/lprserver-v3-sub001/internal/outbox/domain"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// Check is a single named probe. Run never returns an error: a failing probe
// is a result, not a fault, and it is reported through the same outbox as any
// other payload.
type Check interface {
	Name() string
	Run(ctx context.Context) wire.HealthPayload
}

// Prober reports whether the path to the canonical store is usable right now.
type Prober interface {
	Probe(ctx context.Context) error
}

// canonicalStoreCheck probes connectivity to the ingestion service through the
// transport negotiator, so the result reflects the same path data takes.
type canonicalStoreCheck struct {
	prober Prober
}

// NewCanonicalStoreCheck builds the canonical store reachability check.
func NewCanonicalStoreCheck(prober Prober) Check {
	return &canonicalStoreCheck{prober: prober}
}

func (c *canonicalStoreCheck) Name() string { return "canonical_store" }

func (c *canonicalStoreCheck) Run(ctx context.Context) wire.HealthPayload {
	payload := wire.HealthPayload{Component: c.Name(), Status: wire.HealthStatusPass}
	if err := c.prober.Probe(ctx); err != nil {
		payload.Status = wire.HealthStatusFail
		payload.Message = err.Error()
	}
	return payload
}

// outboxStoreCheck verifies the local durable store answers queries.
type outboxStoreCheck struct {
	db *sql.DB
}

// NewOutboxStoreCheck builds the local store liveness check.
func NewOutboxStoreCheck(db *sql.DB) Check {
	return &outboxStoreCheck{db: db}
}

func (c *outboxStoreCheck) Name() string { return "outbox_store" }

func (c *outboxStoreCheck) Run(ctx context.Context) wire.HealthPayload {
	payload := wire.HealthPayload{Component: c.Name(), Status: wire.HealthStatusPass}
	if err := c.db.PingContext(ctx); err != nil {
		payload.Status = wire.HealthStatusFail
		payload.Message = err.Error()
	}
	return payload
}

// diskCheck reports free space on the volume holding the outbox database.
type diskCheck struct {
	path          string
	warnFreeRatio float64
	failFreeRatio float64
}

// NewDiskCheck builds the disk space check for the given path. Ratios are
// fractions of total space, e.g. 0.10 warns below 10% free.
func NewDiskCheck(path string, warnFreeRatio, failFreeRatio float64) Check {
	if warnFreeRatio <= 0 {
		warnFreeRatio = 0.10
	}
	if failFreeRatio <= 0 {
		failFreeRatio = 0.05
	}
	return &diskCheck{path: path, warnFreeRatio: warnFreeRatio, failFreeRatio: failFreeRatio}
}

func (c *diskCheck) Name() string { return "disk" }

func (c *diskCheck) Run(_ context.Context) wire.HealthPayload {
	payload := wire.HealthPayload{Component: c.Name(), Status: wire.HealthStatusPass}

	var stat unix.Statfs_t
	if err := unix.Statfs(c.path, &stat); err != nil {
		payload.Status = wire.HealthStatusFail
		payload.Message = err.Error()
		return payload
	}

	total := float64(stat.Blocks) * float64(stat.Bsize)
	free := float64(stat.Bavail) * float64(stat.Bsize)
	ratio := 0.0
	if total > 0 {
		ratio = free / total
	}

	payload.Metrics = map[string]float64{
		"free_bytes": free,
		"free_ratio": ratio,
	}

	switch {
	case ratio < c.failFreeRatio:
		payload.Status = wire.HealthStatusFail
		payload.Message = fmt.Sprintf("only %.1f%% disk free", ratio*100)
	case ratio < c.warnFreeRatio:
		payload.Status = wire.HealthStatusWarning
		payload.Message = fmt.Sprintf("%.1f%% disk free", ratio*100)
	}
	return payload
}

// pipelineCheck watches the detection pipeline heartbeat file. The pipeline
// touches the file on every processed frame; a stale mtime means it stopped.
type pipelineCheck struct {
	heartbeatPath string
	maxAge        time.Duration
}

// NewPipelineCheck builds the detection pipeline liveness check.
func NewPipelineCheck(heartbeatPath string, maxAge time.Duration) Check {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &pipelineCheck{heartbeatPath: heartbeatPath, maxAge: maxAge}
}

func (c *pipelineCheck) Name() string { return "pipeline" }

func (c *pipelineCheck) Run(_ context.Context) wire.HealthPayload {
	payload := wire.HealthPayload{Component: c.Name(), Status: wire.HealthStatusPass}

	info, err := os.Stat(c.heartbeatPath)
	if err != nil {
		payload.Status = wire.HealthStatusFail
		payload.Message = fmt.Sprintf("heartbeat file unreadable: %v", err)
		return payload
	}

	age := time.Since(info.ModTime())
	payload.Metrics = map[string]float64{"heartbeat_age_seconds": age.Seconds()}
	if age > c.maxAge {
		payload.Status = wire.HealthStatusFail
		payload.Message = fmt.Sprintf("no heartbeat for %s", age.Round(time.Second))
	}
	return payload
}

// PendingCounter exposes the outbox depth query needed by the backlog check.
type PendingCounter interface {
	CountByStatus(ctx context.Context, kind domain.RecordKind, status domain.RecordStatus) (int64, error)
	OldestPendingAge(ctx context.Context, kind domain.RecordKind) (time.Duration, error)
}

// backlogCheck warns when the detection outbox is not draining.
type backlogCheck struct {
	repo          PendingCounter
	warnDepth     int64
	maxPendingAge time.Duration
}

// NewBacklogCheck builds the outbox backlog check.
func NewBacklogCheck(repo PendingCounter, warnDepth int64, maxPendingAge time.Duration) Check {
	if warnDepth <= 0 {
		warnDepth = 100
	}
	if maxPendingAge <= 0 {
		maxPendingAge = time.Hour
	}
	return &backlogCheck{repo: repo, warnDepth: warnDepth, maxPendingAge: maxPendingAge}
}

func (c *backlogCheck) Name() string { return "outbox_backlog" }

func (c *backlogCheck) Run(ctx context.Context) wire.HealthPayload {
	payload := wire.HealthPayload{Component: c.Name(), Status: wire.HealthStatusPass}

	depth, err := c.repo.CountByStatus(ctx, domain.RecordKindDetection, domain.RecordStatusPending)
	if err != nil {
		payload.Status = wire.HealthStatusFail
		payload.Message = err.Error()
		return payload
	}
	age, err := c.repo.OldestPendingAge(ctx, domain.RecordKindDetection)
	if err != nil {
		payload.Status = wire.HealthStatusFail
		payload.Message = err.Error()
		return payload
	}

	payload.Metrics = map[string]float64{
		"pending_records":            float64(depth),
		"oldest_pending_age_seconds": age.Seconds(),
	}

	switch {
	case age > c.maxPendingAge:
		payload.Status = wire.HealthStatusWarning
		payload.Message = fmt.Sprintf("oldest pending record is %s old", age.Round(time.Second))
	case depth > c.warnDepth:
		payload.Status = wire.HealthStatusWarning
		payload.Message = fmt.Sprintf("%d records pending", depth)
	}
	return payload
}
