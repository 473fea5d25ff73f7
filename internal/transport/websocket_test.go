package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

func testRegister() wire.RegisterRequest {
	return wire.RegisterRequest{CameraID: "cam-01", CheckpointID: "cp-01", CameraKey: "secret"}
}

// socketServer scripts the server side of the socket protocol for one test.
type socketServer struct {
	registerCount atomic.Int64
	lastRegister  atomic.Value // wire.RegisterRequest

	refuseRegister bool
	rejectData     bool
	pingBeforeAck  bool
}

func (s *socketServer) handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close() //nolint:errcheck

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Event {
		case EventRegister:
			var register wire.RegisterRequest
			if err := json.Unmarshal(env.Data, &register); err != nil {
				return
			}
			s.registerCount.Add(1)
			s.lastRegister.Store(register)
			if s.refuseRegister {
				reply, _ := NewEnvelope(EventError, "unknown camera key")
				conn.WriteJSON(reply) //nolint:errcheck
				return
			}
			reply, _ := NewEnvelope(EventAck, nil)
			conn.WriteJSON(reply) //nolint:errcheck
		case EventData:
			if s.rejectData {
				reply, _ := NewEnvelope(EventError, "session torn down")
				conn.WriteJSON(reply) //nolint:errcheck
				return
			}
			if s.pingBeforeAck {
				ping, _ := NewEnvelope(EventPing, nil)
				conn.WriteJSON(ping) //nolint:errcheck
			}
			var batch wire.Batch
			if err := json.Unmarshal(env.Data, &batch); err != nil {
				return
			}
			acks := make([]wire.Ack, 0, len(batch.Messages))
			for _, m := range batch.Messages {
				acks = append(acks, wire.Ack{MessageID: m.MessageID, Outcome: wire.OutcomeAccepted})
			}
			reply, _ := NewEnvelope(EventAck, acks)
			conn.WriteJSON(reply) //nolint:errcheck
		case EventPing:
			reply, _ := NewEnvelope(EventPong, nil)
			conn.WriteJSON(reply) //nolint:errcheck
		case EventPong:
			// Absorb pongs answered to our own pings.
		}
	}
}

func newSocketTransport(t *testing.T, server *socketServer) *WebSocketTransport {
	t.Helper()
	httpServer := httptest.NewServer(http.HandlerFunc(server.handle))
	t.Cleanup(httpServer.Close)

	tr := NewWebSocketTransport("ws"+strings.TrimPrefix(httpServer.URL, "http"), testRegister())
	t.Cleanup(func() { tr.Close() }) //nolint:errcheck
	return tr
}

func TestWebSocketTransport_DeliverRegistersOnceThenSends(t *testing.T) {
	server := &socketServer{}
	tr := newSocketTransport(t, server)

	acks, err := tr.Deliver(context.Background(), testBatch())
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.True(t, acks[0].Accepted())

	register, ok := server.lastRegister.Load().(wire.RegisterRequest)
	require.True(t, ok)
	assert.Equal(t, "cam-01", register.CameraID)

	// The connection persists: a second delivery must not re-register.
	_, err = tr.Deliver(context.Background(), testBatch())
	require.NoError(t, err)
	assert.EqualValues(t, 1, server.registerCount.Load())
}

func TestWebSocketTransport_RegisterRefusedIsRejection(t *testing.T) {
	server := &socketServer{refuseRegister: true}
	tr := newSocketTransport(t, server)

	_, err := tr.Deliver(context.Background(), testBatch())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRejected))
	assert.False(t, apperrors.Is(err, apperrors.ErrTransport))
}

func TestWebSocketTransport_ErrorFrameIsRejection(t *testing.T) {
	server := &socketServer{rejectData: true}
	tr := newSocketTransport(t, server)

	_, err := tr.Deliver(context.Background(), testBatch())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRejected))
}

func TestWebSocketTransport_PingDuringDeliveryIsAnswered(t *testing.T) {
	server := &socketServer{pingBeforeAck: true}
	tr := newSocketTransport(t, server)

	acks, err := tr.Deliver(context.Background(), testBatch())
	require.NoError(t, err)
	require.Len(t, acks, 1)
}

func TestWebSocketTransport_Probe(t *testing.T) {
	server := &socketServer{}
	tr := newSocketTransport(t, server)

	assert.NoError(t, tr.Probe(context.Background()))
}

func TestWebSocketTransport_ServerGoneIsTransportError(t *testing.T) {
	tr := NewWebSocketTransport("ws://127.0.0.1:1/v1/ws", testRegister())
	defer tr.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := tr.Deliver(ctx, testBatch())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTransport))
}
