package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"
	_ "gocloud.dev/pubsub/rabbitpubsub"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// PubSubTransport publishes batches to a broker topic. It is the last-resort
// channel: publishing is fire-and-acknowledge, so acks are synthesized as
// accepted on successful publish. The server-side broker consumer drains the
// matching subscription into the ingestion usecase; the broker delivers
// at-least-once and the canonical store dedups on message_id, so a record can
// never be committed twice even if both the broker and a later direct retry
// deliver it.
type PubSubTransport struct {
	url string

	mu    sync.Mutex
	topic *pubsub.Topic
}

// NewPubSubTransport creates a broker transport for the given topic URL
// (e.g. "rabbit://ingest", "mem://ingest" in tests).
func NewPubSubTransport(url string) *PubSubTransport {
	return &PubSubTransport{url: url}
}

// Name identifies the channel in logs and the operational log.
func (t *PubSubTransport) Name() string { return NamePubSub }

func (t *PubSubTransport) openTopic(ctx context.Context) (*pubsub.Topic, error) {
	if t.topic != nil {
		return t.topic, nil
	}

	topic, err := pubsub.OpenTopic(ctx, t.url)
	if err != nil {
		return nil, fmt.Errorf("%w: open topic: %v", apperrors.ErrTransport, err)
	}
	t.topic = topic
	return topic, nil
}

// Deliver publishes the batch JSON and synthesizes accepted acks.
func (t *PubSubTransport) Deliver(ctx context.Context, batch *wire.Batch) ([]wire.Ack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	topic, err := t.openTopic(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode batch")
	}

	msg := &pubsub.Message{
		Body: body,
		Metadata: map[string]string{
			"camera_id":     batch.CameraID,
			"checkpoint_id": batch.CheckpointID,
		},
	}
	if err := topic.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: publish: %v", apperrors.ErrTransport, err)
	}

	acks := make([]wire.Ack, 0, len(batch.Messages))
	for _, m := range batch.Messages {
		acks = append(acks, wire.Ack{MessageID: m.MessageID, Outcome: wire.OutcomeAccepted})
	}
	return acks, nil
}

// Probe verifies the topic can be opened.
func (t *PubSubTransport) Probe(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := t.openTopic(ctx)
	return err
}

// Close shuts the topic down.
func (t *PubSubTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.topic == nil {
		return nil
	}
	err := t.topic.Shutdown(context.Background())
	t.topic = nil
	return err
}
