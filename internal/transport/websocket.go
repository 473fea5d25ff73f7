package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// Event names of the socket channel.
const (
	EventRegister = "register"
	EventData     = "data"
	EventAck      = "ack"
	EventPing     = "ping"
	EventPong     = "pong"
	EventError    = "error"
)

// Envelope frames every websocket message with an event discriminator.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds an envelope, marshaling data into the frame.
func NewEnvelope(event string, data any) (*Envelope, error) {
	env := &Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return env, nil
}

// WebSocketTransport is the preferred channel: a persistent bidirectional
// socket that registers the camera identity on connect and exchanges
// data/ack frames. A single in-flight batch per connection keeps ack
// correlation trivial.
type WebSocketTransport struct {
	url      string
	register wire.RegisterRequest

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketTransport creates a websocket transport. The connection is
// established lazily on the first Deliver or Probe.
func NewWebSocketTransport(url string, register wire.RegisterRequest) *WebSocketTransport {
	return &WebSocketTransport{url: url, register: register}
}

// Name identifies the channel in logs and the operational log.
func (t *WebSocketTransport) Name() string { return NameWebSocket }

// connect dials and registers, retrying with capped exponential backoff
// within the caller's context deadline.
func (t *WebSocketTransport) connect(ctx context.Context) (*websocket.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	var conn *websocket.Conn
	operation := func() error {
		dialed, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
		if err != nil {
			return err
		}
		conn = dialed
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %v", apperrors.ErrTransport, err)
	}

	env, err := NewEnvelope(EventRegister, t.register)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, apperrors.Wrap(err, "failed to encode register")
	}
	if err := t.writeEnvelope(ctx, conn, env); err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: register write: %v", apperrors.ErrTransport, err)
	}

	// The server answers register with an empty ack frame before any data
	// is accepted on the session.
	reply, err := t.readEnvelope(ctx, conn)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: register reply: %v", apperrors.ErrTransport, err)
	}
	if reply.Event == EventError {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: register refused: %s", apperrors.ErrRejected, string(reply.Data))
	}

	t.conn = conn
	return conn, nil
}

// Deliver sends one data frame and waits for the matching ack frame.
func (t *WebSocketTransport) Deliver(ctx context.Context, batch *wire.Batch) ([]wire.Ack, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	env, err := NewEnvelope(EventData, batch)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode batch")
	}

	if err := t.writeEnvelope(ctx, conn, env); err != nil {
		t.drop()
		return nil, fmt.Errorf("%w: data write: %v", apperrors.ErrTransport, err)
	}

	for {
		reply, err := t.readEnvelope(ctx, conn)
		if err != nil {
			t.drop()
			return nil, fmt.Errorf("%w: ack read: %v", apperrors.ErrTransport, err)
		}

		switch reply.Event {
		case EventAck:
			var acks []wire.Ack
			if err := json.Unmarshal(reply.Data, &acks); err != nil {
				t.drop()
				return nil, fmt.Errorf("%w: malformed ack: %v", apperrors.ErrTransport, err)
			}
			return acks, nil
		case EventPing:
			pong, _ := NewEnvelope(EventPong, nil)
			if err := t.writeEnvelope(ctx, conn, pong); err != nil {
				t.drop()
				return nil, fmt.Errorf("%w: pong write: %v", apperrors.ErrTransport, err)
			}
		case EventError:
			return nil, fmt.Errorf("%w: %s", apperrors.ErrRejected, string(reply.Data))
		default:
			// Unknown frames are skipped for forward compatibility.
		}
	}
}

// Probe verifies liveness with a ping/pong round trip, dialing if needed.
func (t *WebSocketTransport) Probe(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}

	ping, _ := NewEnvelope(EventPing, nil)
	if err := t.writeEnvelope(ctx, conn, ping); err != nil {
		t.drop()
		return fmt.Errorf("%w: ping write: %v", apperrors.ErrTransport, err)
	}

	reply, err := t.readEnvelope(ctx, conn)
	if err != nil {
		t.drop()
		return fmt.Errorf("%w: pong read: %v", apperrors.ErrTransport, err)
	}
	if reply.Event != EventPong {
		t.drop()
		return fmt.Errorf("%w: unexpected frame %q", apperrors.ErrTransport, reply.Event)
	}
	return nil
}

// Close tears down the persistent connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// drop discards a broken connection so the next call re-dials.
// Caller must hold t.mu.
func (t *WebSocketTransport) drop() {
	if t.conn != nil {
		t.conn.Close() //nolint:errcheck
		t.conn = nil
	}
}

func (t *WebSocketTransport) writeEnvelope(ctx context.Context, conn *websocket.Conn, env *Envelope) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return conn.WriteJSON(env)
}

func (t *WebSocketTransport) readEnvelope(ctx context.Context, conn *websocket.Conn) (*Envelope, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}
