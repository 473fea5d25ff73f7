package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/pubsub"

	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

func TestPubSubTransport_Deliver(t *testing.T) {
	ctx := context.Background()

	url := "mem://ingest-deliver"
	tr := NewPubSubTransport(url)
	defer tr.Close() //nolint:errcheck

	// mempubsub only allows subscribing to a topic that already exists, so
	// open the topic (via Probe) before the subscription.
	require.NoError(t, tr.Probe(ctx))

	subscription, err := pubsub.OpenSubscription(ctx, url)
	require.NoError(t, err)
	defer subscription.Shutdown(ctx) //nolint:errcheck

	batch := testBatch()
	acks, err := tr.Deliver(ctx, batch)
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Accepted(), "publish synthesizes accepted acks")
	assert.Equal(t, batch.Messages[0].MessageID, acks[0].MessageID)

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msg, err := subscription.Receive(recvCtx)
	require.NoError(t, err)
	msg.Ack()

	var received wire.Batch
	require.NoError(t, json.Unmarshal(msg.Body, &received))
	assert.Equal(t, batch.CameraID, received.CameraID)
	assert.Equal(t, "cam-01", msg.Metadata["camera_id"])
}

func TestPubSubTransport_Probe(t *testing.T) {
	tr := NewPubSubTransport("mem://ingest-probe")
	defer tr.Close() //nolint:errcheck

	assert.NoError(t, tr.Probe(context.Background()))
}
