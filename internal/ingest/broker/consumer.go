// Package broker consumes batches that edges published over the pub/sub
// fallback channel and commits them through the same ingestion path as the
// HTTP and websocket surfaces. The broker delivers at-least-once; the
// message_id barrier in the canonical store collapses redeliveries.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"

	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"
	_ "gocloud.dev/pubsub/rabbitpubsub"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	ingestUsecase "github.com/popwandee/lprserver-v3-sub001/internal/ingest/usecase"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// Consumer drains a broker subscription into the ingestion usecase.
type Consumer struct {
	subscriptionURL string
	useCase         ingestUsecase.UseCase
	logger          *slog.Logger
}

// NewConsumer creates a broker consumer for the given subscription URL
// (e.g. "rabbit://ingest-queue", "mem://ingest" in tests).
func NewConsumer(subscriptionURL string, useCase ingestUsecase.UseCase, logger *slog.Logger) *Consumer {
	return &Consumer{subscriptionURL: subscriptionURL, useCase: useCase, logger: logger}
}

// Start receives until the context is cancelled. Each broker message carries
// one wire batch; its fate decides the broker acknowledgment, mirroring what
// the HTTP handler tells a directly connected edge.
func (c *Consumer) Start(ctx context.Context) error {
	subscription, err := pubsub.OpenSubscription(ctx, c.subscriptionURL)
	if err != nil {
		return apperrors.Wrap(err, "failed to open broker subscription")
	}
	defer subscription.Shutdown(context.Background()) //nolint:errcheck

	c.logger.Info("starting broker consumer", slog.String("subscription", c.subscriptionURL))

	for {
		message, err := subscription.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("stopping broker consumer")
				return ctx.Err()
			}
			return apperrors.Wrap(err, "broker receive failed")
		}
		c.handle(ctx, message)
	}
}

// handle commits one broker message. Undecodable messages are acked and
// dropped: redelivering them can never succeed. Messages where any record got
// no verdict (storage fault) are nacked so the broker redelivers; the records
// already committed collapse on the message_id barrier.
func (c *Consumer) handle(ctx context.Context, message *pubsub.Message) {
	var batch wire.Batch
	if err := json.Unmarshal(message.Body, &batch); err != nil {
		c.logger.Error("discarding undecodable broker message",
			slog.String("camera_id", message.Metadata["camera_id"]),
			slog.Any("error", err),
		)
		message.Ack()
		return
	}
	if len(batch.Messages) == 0 {
		message.Ack()
		return
	}

	kind := batch.Messages[0].Kind
	acks := c.useCase.ProcessBatch(ctx, kind, &batch)

	if len(acks) < len(batch.Messages) {
		c.logger.Warn("broker batch partially committed",
			slog.String("camera_id", batch.CameraID),
			slog.Int("batch_size", len(batch.Messages)),
			slog.Int("decided", len(acks)),
		)
		if message.Nackable() {
			message.Nack()
			return
		}
	}
	message.Ack()
}
