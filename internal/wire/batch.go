package wire

import (
	validation "github.com/jellydator/validation"
)

// Batch is an ordered, bounded list of messages of one kind, assembled by the
// sender agent for a single transport attempt. Batches are transient and never
// persisted; the outbox rows they were built from stay pending until acked.
type Batch struct {
	CameraID     string    `json:"camera_id"`
	CheckpointID string    `json:"checkpoint_id"`
	Messages     []Message `json:"messages"`
}

// Validate checks the batch envelope and every contained message.
func (b *Batch) Validate() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.CameraID, validation.Required),
		validation.Field(&b.CheckpointID, validation.Required),
		validation.Field(&b.Messages, validation.Required, validation.Length(1, 0)),
	)
}

// Outcome is the per-record result reported by the ingestion service.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Ack is the per-record acknowledgment. Rejections are terminal and must not
// be retried by the sender; a missing ack means the record stays pending.
type Ack struct {
	MessageID      string  `json:"message_id"`
	Outcome        Outcome `json:"outcome"`
	Reason         string  `json:"reason,omitempty"`
	ServerRecordID string  `json:"server_record_id,omitempty"`
}

// Accepted reports whether the record was durably committed (or already was).
func (a Ack) Accepted() bool {
	return a.Outcome == OutcomeAccepted
}

// RegisterRequest announces a camera's identity to the ingestion server.
type RegisterRequest struct {
	CameraID     string `json:"camera_id"`
	CheckpointID string `json:"checkpoint_id"`
	CameraKey    string `json:"camera_key"`
}

// Validate checks the register request fields.
func (r *RegisterRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CameraID, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.CheckpointID, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.CameraKey, validation.Required),
	)
}
