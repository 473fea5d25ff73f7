// Package dto defines request and response shapes for the ingestion HTTP API.
package dto

import (
	"encoding/json"
	"time"

	ingestDomain "github.com/popwandee/lprserver-v3-sub001/internal/ingest/domain"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// BatchResponse carries the per-record acknowledgments for one ingested batch.
type BatchResponse struct {
	Acks []wire.Ack `json:"acks"`
}

// RegisterResponse confirms a camera registration.
type RegisterResponse struct {
	CameraID     string `json:"camera_id"`
	CheckpointID string `json:"checkpoint_id"`
	RegisteredAt string `json:"registered_at"`
}

// NewRegisterResponse maps a registered camera to its response shape.
func NewRegisterResponse(camera *ingestDomain.Camera) RegisterResponse {
	return RegisterResponse{
		CameraID:     camera.CameraID,
		CheckpointID: camera.CheckpointID,
		RegisteredAt: camera.CreatedAt.Format(time.RFC3339),
	}
}

// RecordResponse is one committed record in a listing.
type RecordResponse struct {
	ID           string          `json:"id"`
	MessageID    string          `json:"message_id"`
	Kind         string          `json:"kind"`
	CameraID     string          `json:"camera_id"`
	CheckpointID string          `json:"checkpoint_id"`
	RecordedAt   time.Time       `json:"recorded_at"`
	Payload      json.RawMessage `json:"payload"`
	ImageKeys    []string        `json:"image_keys,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ListRecordsResponse is a paginated record listing.
type ListRecordsResponse struct {
	Records []RecordResponse `json:"records"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
}

// NewRecordResponse maps a canonical record to its response shape.
func NewRecordResponse(record *ingestDomain.CanonicalRecord) RecordResponse {
	return RecordResponse{
		ID:           record.ID.String(),
		MessageID:    record.MessageID.String(),
		Kind:         record.Kind,
		CameraID:     record.CameraID,
		CheckpointID: record.CheckpointID,
		RecordedAt:   record.RecordedAt,
		Payload:      json.RawMessage(record.Payload),
		ImageKeys:    record.ImageKeys,
		CreatedAt:    record.CreatedAt,
	}
}
