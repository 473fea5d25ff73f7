package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	ingestDomain "github.com/popwandee/lprserver-v3-sub001/internal/ingest/domain"
	"github.com/popwandee/lprserver-v3-sub001/internal/ingest/http/dto"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// TestMain sets Gin to test mode for all tests in this package.
func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakeUseCase scripts ingestion outcomes for handler tests.
type fakeUseCase struct {
	acks        []wire.Ack
	camera      *ingestDomain.Camera
	registerErr error
	records     []*ingestDomain.CanonicalRecord
	listErr     error

	gotKind  wire.Kind
	gotBatch *wire.Batch
}

func (f *fakeUseCase) ProcessBatch(_ context.Context, kind wire.Kind, batch *wire.Batch) []wire.Ack {
	f.gotKind = kind
	f.gotBatch = batch
	return f.acks
}

func (f *fakeUseCase) Register(context.Context, *wire.RegisterRequest) (*ingestDomain.Camera, error) {
	return f.camera, f.registerErr
}

func (f *fakeUseCase) ListRecords(context.Context, wire.Kind, string, int, int) ([]*ingestDomain.CanonicalRecord, error) {
	return f.records, f.listErr
}

func newTestRouter(useCase *fakeUseCase) *gin.Engine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	handler := NewIngestHandler(useCase, logger)
	router := gin.New()
	handler.RegisterRoutes(router, 100, 100)
	return router
}

func validBatch(t *testing.T) wire.Batch {
	t.Helper()
	payload, err := json.Marshal(wire.DetectionPayload{VehiclesCount: 1})
	require.NoError(t, err)
	return wire.Batch{
		CameraID:     "cam-01",
		CheckpointID: "checkpoint-01",
		Messages: []wire.Message{{
			SchemaVersion: wire.SchemaVersion,
			MessageID:     uuid.Must(uuid.NewV7()).String(),
			Kind:          wire.KindDetection,
			CameraID:      "cam-01",
			CheckpointID:  "checkpoint-01",
			Timestamp:     time.Now().UTC(),
			Payload:       payload,
		}},
	}
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestBatchHandler(t *testing.T) {
	t.Run("returns acks for a parsed batch", func(t *testing.T) {
		batch := validBatch(t)
		useCase := &fakeUseCase{acks: []wire.Ack{{
			MessageID: batch.Messages[0].MessageID,
			Outcome:   wire.OutcomeAccepted,
		}}}
		router := newTestRouter(useCase)

		w := postJSON(t, router, "/v1/ingest/detection", batch)

		assert.Equal(t, http.StatusOK, w.Code)
		var response dto.BatchResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Len(t, response.Acks, 1)
		assert.Equal(t, wire.OutcomeAccepted, response.Acks[0].Outcome)
		assert.Equal(t, wire.KindDetection, useCase.gotKind)
	})

	t.Run("returns 200 even when every record is rejected", func(t *testing.T) {
		batch := validBatch(t)
		useCase := &fakeUseCase{acks: []wire.Ack{{
			MessageID: batch.Messages[0].MessageID,
			Outcome:   wire.OutcomeRejected,
			Reason:    "schema validation failed",
		}}}
		router := newTestRouter(useCase)

		w := postJSON(t, router, "/v1/ingest/detection", batch)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("returns 400 for an undecodable body", func(t *testing.T) {
		router := newTestRouter(&fakeUseCase{})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/ingest/detection",
			bytes.NewReader([]byte("{not json")))
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns 400 for an empty batch", func(t *testing.T) {
		router := newTestRouter(&fakeUseCase{})
		w := postJSON(t, router, "/v1/ingest/detection",
			wire.Batch{CameraID: "cam-01", CheckpointID: "checkpoint-01"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("returns 400 for an unknown kind", func(t *testing.T) {
		router := newTestRouter(&fakeUseCase{})
		w := postJSON(t, router, "/v1/ingest/telemetry", validBatch(t))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRegisterHandler(t *testing.T) {
	t.Run("registers a camera", func(t *testing.T) {
		useCase := &fakeUseCase{camera: &ingestDomain.Camera{
			ID:           uuid.Must(uuid.NewV7()),
			CameraID:     "cam-01",
			CheckpointID: "checkpoint-01",
			CreatedAt:    time.Now().UTC(),
		}}
		router := newTestRouter(useCase)

		w := postJSON(t, router, "/v1/register", wire.RegisterRequest{
			CameraID: "cam-01", CheckpointID: "checkpoint-01", CameraKey: "secret",
		})

		assert.Equal(t, http.StatusOK, w.Code)
		var response dto.RegisterResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "cam-01", response.CameraID)
	})

	t.Run("maps unauthorized to 401", func(t *testing.T) {
		useCase := &fakeUseCase{registerErr: apperrors.ErrUnauthorized}
		router := newTestRouter(useCase)

		w := postJSON(t, router, "/v1/register", wire.RegisterRequest{
			CameraID: "cam-01", CheckpointID: "checkpoint-01", CameraKey: "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("enforces the per-ip rate limit", func(t *testing.T) {
		useCase := &fakeUseCase{camera: &ingestDomain.Camera{CreatedAt: time.Now().UTC()}}
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		handler := NewIngestHandler(useCase, logger)
		router := gin.New()
		handler.RegisterRoutes(router, 0.1, 1)

		request := wire.RegisterRequest{
			CameraID: "cam-01", CheckpointID: "checkpoint-01", CameraKey: "secret",
		}
		first := postJSON(t, router, "/v1/register", request)
		assert.Equal(t, http.StatusOK, first.Code)

		second := postJSON(t, router, "/v1/register", request)
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.NotEmpty(t, second.Header().Get("Retry-After"))
	})
}

func TestPingHandler(t *testing.T) {
	router := newTestRouter(&fakeUseCase{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListRecordsHandler(t *testing.T) {
	t.Run("lists committed records", func(t *testing.T) {
		useCase := &fakeUseCase{records: []*ingestDomain.CanonicalRecord{{
			ID:           uuid.Must(uuid.NewV7()),
			MessageID:    uuid.Must(uuid.NewV7()),
			Kind:         "detection",
			CameraID:     "cam-01",
			CheckpointID: "checkpoint-01",
			RecordedAt:   time.Now().UTC(),
			Payload:      []byte(`{"vehicles_count":1}`),
			CreatedAt:    time.Now().UTC(),
		}}}
		router := newTestRouter(useCase)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/records/detection?limit=10", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response dto.ListRecordsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		require.Len(t, response.Records, 1)
		assert.Equal(t, "cam-01", response.Records[0].CameraID)
	})

	t.Run("rejects invalid pagination", func(t *testing.T) {
		router := newTestRouter(&fakeUseCase{})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/records/detection?limit=9999", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
