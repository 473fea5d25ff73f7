// Package domain defines the canonical record entity stored by the ingestion
// service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// CanonicalRecord is one committed telemetry record. MessageID carries the
// edge-assigned identity and is unique across the store; redelivered messages
// collapse onto the same row.
type CanonicalRecord struct {
	ID           uuid.UUID
	MessageID    uuid.UUID
	Kind         string
	CameraID     string
	CheckpointID string
	RecordedAt   time.Time
	Payload      []byte
	ImageKeys    []string
	CreatedAt    time.Time
}

// Camera is a registered edge device allowed to push records.
type Camera struct {
	ID           uuid.UUID
	CameraID     string
	CheckpointID string
	KeyHash      string
	CreatedAt    time.Time
	LastSeenAt   *time.Time
}
