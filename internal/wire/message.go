// Package wire defines the versioned messages exchanged between edge cameras
// and the ingestion server. Both the websocket and HTTP transports carry the
// same JSON shapes; the broker transport wraps a Batch unchanged.
package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"
)

// SchemaVersion is the current wire schema version. Fields may be added in a
// backward-compatible way without bumping it; removals or type changes bump it.
const SchemaVersion = 1

// Kind discriminates the payload carried by a Message.
type Kind string

const (
	KindDetection Kind = "detection"
	KindHealth    Kind = "health"
)

// Valid reports whether the kind is a known payload discriminator.
func (k Kind) Valid() bool {
	return k == KindDetection || k == KindHealth
}

// Message is the wire envelope for one telemetry record. MessageID is assigned
// once at enqueue time and never regenerated on retry; it is the idempotency
// key for the whole pipeline.
type Message struct {
	SchemaVersion int             `json:"schema_version,omitempty"`
	MessageID     string          `json:"message_id"`
	Kind          Kind            `json:"kind"`
	CameraID      string          `json:"camera_id"`
	CheckpointID  string          `json:"checkpoint_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Validate checks the envelope fields. Payload contents are validated by the
// kind-specific payload types.
func (m *Message) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.MessageID, validation.Required, validation.By(validUUID)),
		validation.Field(&m.Kind, validation.Required, validation.By(validKind)),
		validation.Field(&m.CameraID, validation.Required, validation.Length(1, 128)),
		validation.Field(&m.CheckpointID, validation.Required, validation.Length(1, 128)),
		validation.Field(&m.Timestamp, validation.Required),
		validation.Field(&m.Payload, validation.Required),
	)
}

// DecodeDetection parses and validates the detection payload.
func (m *Message) DecodeDetection() (*DetectionPayload, error) {
	var payload DetectionPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &payload, nil
}

// DecodeHealth parses and validates the health payload.
func (m *Message) DecodeHealth() (*HealthPayload, error) {
	var payload HealthPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &payload, nil
}

// validUUID validates that a string field is a well-formed UUID.
func validUUID(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_uuid", "must be a string")
	}
	if _, err := uuid.Parse(s); err != nil {
		return validation.NewError("validation_uuid", "must be a valid UUID")
	}
	return nil
}

// validKind validates the payload kind discriminator.
func validKind(value interface{}) error {
	k, ok := value.(Kind)
	if !ok || !k.Valid() {
		return validation.NewError("validation_kind", "must be detection or health")
	}
	return nil
}
