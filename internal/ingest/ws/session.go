// Package ws serves the websocket side of the ingestion API. Each connection
// gets its own session goroutine, so a slow or silent camera can never block
// the others. Frames carry the same envelope the edge transport sends.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	ingestUseCase "github.com/popwandee/lprserver-v3-sub001/internal/ingest/usecase"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// Event names of the socket channel. These mirror the edge transport exactly;
// a mismatch here strands every camera on the HTTP fallback.
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

// newEnvelope builds an envelope, marshaling data into the frame.
func newEnvelope(event string, data any) (*Envelope, error) {
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

// Handler upgrades HTTP requests to websocket sessions and runs the ingestion
// protocol over them.
type Handler struct {
	useCase     ingestUseCase.UseCase
	logger      *slog.Logger
	idleTimeout time.Duration
	upgrader    websocket.Upgrader
}

// NewHandler creates a websocket ingestion handler. idleTimeout bounds how
// long a registered session may stay silent before it is torn down.
func NewHandler(useCase ingestUseCase.UseCase, idleTimeout time.Duration, logger *slog.Logger) *Handler {
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	return &Handler{
		useCase:     useCase,
		logger:      logger,
		idleTimeout: idleTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cameras connect from private networks with no browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the websocket endpoint onto a router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/v1/ws", h.UpgradeHandler)
}

// UpgradeHandler upgrades the connection and runs the session loop until the
// camera disconnects, misbehaves, or goes idle.
// GET /v1/ws
func (h *Handler) UpgradeHandler(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed",
			slog.String("client_ip", c.ClientIP()),
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close() //nolint:errcheck

	h.runSession(c, conn)
}

// session tracks the identity of one registered connection.
type session struct {
	cameraID     string
	checkpointID string
	registered   bool
}

// runSession drives the frame loop for one connection. The first frame must
// be a register; after that, data frames are ingested one at a time in the
// session goroutine, which gives the one-in-flight-batch guarantee for free.
func (h *Handler) runSession(c *gin.Context, conn *websocket.Conn) {
	ctx := c.Request.Context()
	logger := h.logger.With(slog.String("client_ip", c.ClientIP()))
	sess := &session{}

	for {
		if err := conn.SetReadDeadline(time.Now().Add(h.idleTimeout)); err != nil {
			return
		}

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !isExpectedClose(err) {
				logger.Info("websocket session ended",
					slog.String("camera_id", sess.cameraID),
					slog.String("error", err.Error()))
			}
			return
		}

		switch env.Event {
		case EventRegister:
			if err := h.handleRegister(ctx, conn, sess, env.Data); err != nil {
				h.writeError(conn, err)
				return
			}
			logger = logger.With(slog.String("camera_id", sess.cameraID))
			logger.Info("websocket session registered",
				slog.String("checkpoint_id", sess.checkpointID))

		case EventData:
			if !sess.registered {
				h.writeError(conn, apperrors.New("register required before data"))
				return
			}
			if err := h.handleData(ctx, conn, sess, env.Data); err != nil {
				logger.Warn("websocket data frame failed",
					slog.String("error", err.Error()))
				h.writeError(conn, err)
				return
			}

		case EventPing:
			pong, _ := newEnvelope(EventPong, nil)
			if err := conn.WriteJSON(pong); err != nil {
				return
			}

		case EventPong:
			// Answer to a ping we sent; nothing to do.

		default:
			// Unknown frames are skipped for forward compatibility.
		}
	}
}

// handleRegister authenticates the session identity. The reply is an empty
// ack frame; the edge transport waits for it before sending data.
func (h *Handler) handleRegister(ctx context.Context, conn *websocket.Conn, sess *session, data json.RawMessage) error {
	var request wire.RegisterRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return apperrors.Wrap(err, "malformed register frame")
	}

	camera, err := h.useCase.Register(ctx, &request)
	if err != nil {
		return err
	}

	sess.cameraID = camera.CameraID
	sess.checkpointID = camera.CheckpointID
	sess.registered = true

	ack, _ := newEnvelope(EventAck, nil)
	return conn.WriteJSON(ack)
}

// handleData ingests one batch and answers with the ack frame. Batches from
// other camera identities are refused; the session is bound to the identity
// it registered with.
func (h *Handler) handleData(ctx context.Context, conn *websocket.Conn, sess *session, data json.RawMessage) error {
	var batch wire.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return apperrors.Wrap(err, "malformed data frame")
	}
	if err := batch.Validate(); err != nil {
		return err
	}
	if batch.CameraID != sess.cameraID {
		return apperrors.New("batch camera_id does not match session")
	}

	kind := batchKind(&batch)
	acks := h.useCase.ProcessBatch(ctx, kind, &batch)

	env, err := newEnvelope(EventAck, acks)
	if err != nil {
		return err
	}
	return conn.WriteJSON(env)
}

// batchKind derives the endpoint kind from the batch contents. The HTTP path
// encodes the kind in the URL; the socket carries it in the messages, and a
// batch never mixes kinds (ProcessBatch rejects any stragglers).
func batchKind(batch *wire.Batch) wire.Kind {
	if len(batch.Messages) == 0 {
		return wire.KindDetection
	}
	return batch.Messages[0].Kind
}

// writeError sends an error frame on a best-effort basis before teardown.
func (h *Handler) writeError(conn *websocket.Conn, err error) {
	env, envErr := newEnvelope(EventError, gin.H{"message": err.Error()})
	if envErr != nil {
		return
	}
	conn.WriteJSON(env) //nolint:errcheck
}

// isExpectedClose reports whether a read error is a routine disconnect.
func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
