// Package http provides HTTP handlers for the ingestion API. The same batch
// semantics back the websocket session handler; this is the plain-HTTP
// fallback path and the operator query surface.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	"github.com/popwandee/lprserver-v3-sub001/internal/httputil"
	"github.com/popwandee/lprserver-v3-sub001/internal/ingest/http/dto"
	ingestUseCase "github.com/popwandee/lprserver-v3-sub001/internal/ingest/usecase"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// IngestHandler handles HTTP requests for batch ingestion and camera
// registration.
type IngestHandler struct {
	useCase ingestUseCase.UseCase
	logger  *slog.Logger
}

// NewIngestHandler creates a new ingestion handler.
func NewIngestHandler(useCase ingestUseCase.UseCase, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{useCase: useCase, logger: logger}
}

// BatchHandler ingests one batch of messages.
// POST /v1/ingest/:kind
//
// Returns 200 with per-record acknowledgments whenever the batch could be
// parsed, even if every record was rejected. 400 is reserved for a body that
// cannot be decoded at all; the sender treats it as a whole-batch rejection.
func (h *IngestHandler) BatchHandler(c *gin.Context) {
	kind := wire.Kind(c.Param("kind"))
	if !kind.Valid() {
		httputil.HandleBadRequestGin(c, apperrors.New("unknown record kind"), h.logger)
		return
	}

	var batch wire.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}
	if err := batch.Validate(); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	acks := h.useCase.ProcessBatch(c.Request.Context(), kind, &batch)
	c.JSON(http.StatusOK, dto.BatchResponse{Acks: acks})
}

// RegisterHandler registers a camera or verifies a returning one.
// POST /v1/register
func (h *IngestHandler) RegisterHandler(c *gin.Context) {
	var request wire.RegisterRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	camera, err := h.useCase.Register(c.Request.Context(), &request)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.NewRegisterResponse(camera))
}

// PingHandler answers transport probes.
// GET /v1/ping
func (h *IngestHandler) PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListRecordsHandler lists committed records for operator queries.
// GET /v1/records/:kind?camera_id=&offset=&limit=
func (h *IngestHandler) ListRecordsHandler(c *gin.Context) {
	kind := wire.Kind(c.Param("kind"))
	if !kind.Valid() {
		httputil.HandleBadRequestGin(c, apperrors.New("unknown record kind"), h.logger)
		return
	}

	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	records, err := h.useCase.ListRecords(
		c.Request.Context(), kind, c.Query("camera_id"), offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	response := dto.ListRecordsResponse{
		Records: make([]dto.RecordResponse, 0, len(records)),
		Offset:  offset,
		Limit:   limit,
	}
	for _, record := range records {
		response.Records = append(response.Records, dto.NewRecordResponse(record))
	}
	c.JSON(http.StatusOK, response)
}

// RegisterRoutes mounts the ingestion API onto a router. The register
// endpoint carries its own per-IP rate limit; a misbehaving camera must not
// be able to grind Argon2id verification.
func (h *IngestHandler) RegisterRoutes(router *gin.Engine, registerRPS float64, registerBurst int) {
	v1 := router.Group("/v1")
	v1.GET("/ping", h.PingHandler)
	v1.POST("/ingest/:kind", h.BatchHandler)
	v1.POST("/register", RegisterRateLimitMiddleware(registerRPS, registerBurst, h.logger), h.RegisterHandler)
	v1.GET("/records/:kind", h.ListRecordsHandler)
}
