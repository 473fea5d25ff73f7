// Package transport implements the delivery channels between the edge sender
// agent and the ingestion server, and the negotiator that orders and probes
// them. All channels carry the same wire shapes; the negotiator hides
// reconnects, backoff and per-transport demotion behind a single Deliver call.
package transport

import (
	"context"

	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// Transport is a single delivery channel. Deliver returns the per-record
// acknowledgments on success. Errors wrapping apperrors.ErrTransport mean the
// batch never reached the server and will be retried; errors wrapping
// apperrors.ErrRejected mean the server refused the whole batch terminally.
type Transport interface {
	// Name identifies the channel in logs and the operational log.
	Name() string

	// Deliver sends one batch and waits for acknowledgments.
	Deliver(ctx context.Context, batch *wire.Batch) ([]wire.Ack, error)

	// Probe checks reachability without sending data. Used to restore a
	// demoted transport's priority.
	Probe(ctx context.Context) error

	// Close releases any persistent connection state.
	Close() error
}

// Names of the built-in transports, in default preference order.
const (
	NameWebSocket = "websocket"
	NameHTTP      = "http"
	NamePubSub    = "pubsub"
)
