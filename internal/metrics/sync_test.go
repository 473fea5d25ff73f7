package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSyncMetrics(t *testing.T) {
	provider, err := NewProvider("lprsync")
	require.NoError(t, err)
	defer provider.Shutdown(context.Background()) //nolint:errcheck

	m, err := NewSyncMetrics(provider.MeterProvider(), "lprsync")
	require.NoError(t, err)
	require.NotNil(t, m)

	// Instruments must accept recordings without panicking.
	ctx := context.Background()
	m.RecordDelivery(ctx, "detection", "sent")
	m.RecordDelivery(ctx, "detection", "rejected")
	m.RecordBatchDuration(ctx, "detection", "websocket", 120*time.Millisecond)
	m.RecordOutboxDepth(ctx, "health", 3)
}

func TestNoOpSyncMetrics(t *testing.T) {
	m := NewNoOpSyncMetrics()
	assert.NotNil(t, m)

	ctx := context.Background()
	m.RecordDelivery(ctx, "detection", "sent")
	m.RecordBatchDuration(ctx, "health", "http", time.Second)
	m.RecordOutboxDepth(ctx, "detection", 0)
}
