package usecase

import (
	"context"

	ingestDomain "github.com/popwandee/lprserver-v3-sub001/internal/ingest/domain"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// UseCase defines the ingestion operations exposed to the HTTP and websocket
// handlers.
type UseCase interface {
	// ProcessBatch commits each message of a batch independently and returns
	// one acknowledgment per decided message.
	ProcessBatch(ctx context.Context, kind wire.Kind, batch *wire.Batch) []wire.Ack

	// Register registers a camera on first contact or verifies its key.
	Register(ctx context.Context, request *wire.RegisterRequest) (*ingestDomain.Camera, error)

	// ListRecords retrieves committed records for operator queries.
	ListRecords(ctx context.Context, kind wire.Kind, cameraID string, offset, limit int) ([]*ingestDomain.CanonicalRecord, error)
}

var _ UseCase = (*IngestUsecase)(nil)
