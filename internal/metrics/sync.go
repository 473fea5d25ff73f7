package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetrics defines the instruments for the outbox synchronization pipeline.
// Implementations track delivery outcomes on the edge and commit outcomes on
// the server side.
type SyncMetrics interface {
	// RecordDelivery records one delivered, rejected or retried record.
	// Kind examples: "detection", "health".
	// Outcome examples: "sent", "rejected", "retried", "committed", "duplicate".
	RecordDelivery(ctx context.Context, kind, outcome string)

	// RecordBatchDuration records how long one delivery or ingest batch took.
	RecordBatchDuration(ctx context.Context, kind, transport string, duration time.Duration)

	// RecordOutboxDepth records the current number of pending outbox rows.
	RecordOutboxDepth(ctx context.Context, kind string, depth int64)
}

// syncMetrics implements SyncMetrics using OpenTelemetry metrics.
type syncMetrics struct {
	deliveryCounter metric.Int64Counter
	batchHisto      metric.Float64Histogram
	depthGauge      metric.Int64Gauge
}

// NewSyncMetrics creates a SyncMetrics implementation using the provided meter provider.
// The namespace parameter is used as a prefix for all metric names.
func NewSyncMetrics(meterProvider metric.MeterProvider, namespace string) (SyncMetrics, error) {
	meter := meterProvider.Meter(namespace)

	deliveryCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_records_total", namespace),
		metric.WithDescription("Total number of records by delivery outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery counter: %w", err)
	}

	batchHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_batch_duration_seconds", namespace),
		metric.WithDescription("Duration of batch delivery and ingest operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch histogram: %w", err)
	}

	depthGauge, err := meter.Int64Gauge(
		fmt.Sprintf("%s_outbox_pending", namespace),
		metric.WithDescription("Number of pending outbox records"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create depth gauge: %w", err)
	}

	return &syncMetrics{
		deliveryCounter: deliveryCounter,
		batchHisto:      batchHisto,
		depthGauge:      depthGauge,
	}, nil
}

// RecordDelivery increments the record counter with kind and outcome labels.
func (s *syncMetrics) RecordDelivery(ctx context.Context, kind, outcome string) {
	s.deliveryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordBatchDuration records the batch duration in seconds with kind and transport labels.
func (s *syncMetrics) RecordBatchDuration(
	ctx context.Context,
	kind, transport string,
	duration time.Duration,
) {
	s.batchHisto.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("transport", transport),
		),
	)
}

// RecordOutboxDepth records the pending-row gauge for one kind.
func (s *syncMetrics) RecordOutboxDepth(ctx context.Context, kind string, depth int64) {
	s.depthGauge.Record(ctx, depth,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// NoOpSyncMetrics is a no-op implementation of SyncMetrics for when metrics are disabled.
type NoOpSyncMetrics struct{}

// NewNoOpSyncMetrics creates a no-op SyncMetrics implementation.
func NewNoOpSyncMetrics() SyncMetrics {
	return &NoOpSyncMetrics{}
}

// RecordDelivery does nothing when metrics are disabled.
func (n *NoOpSyncMetrics) RecordDelivery(ctx context.Context, kind, outcome string) {}

// RecordBatchDuration does nothing when metrics are disabled.
func (n *NoOpSyncMetrics) RecordBatchDuration(
	ctx context.Context,
	kind, transport string,
	duration time.Duration,
) {
}

// RecordOutboxDepth does nothing when metrics are disabled.
func (n *NoOpSyncMetrics) RecordOutboxDepth(ctx context.Context, kind string, depth int64) {}
