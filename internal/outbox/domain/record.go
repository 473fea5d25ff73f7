// Package domain defines the durable outbox entities shared by the producer
// pipeline, the sender agent and the retention manager.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecordStatus represents the delivery status of an outbox record.
type RecordStatus string

const (
	RecordStatusPending RecordStatus = "pending"
	RecordStatusSent    RecordStatus = "sent"
)

// RecordKind discriminates the two outbox tables.
type RecordKind string

const (
	RecordKindDetection RecordKind = "detection"
	RecordKindHealth    RecordKind = "health"
)

// Valid reports whether the kind maps to a known outbox table.
func (k RecordKind) Valid() bool {
	return k == RecordKindDetection || k == RecordKindHealth
}

// Record is one row in the durable outbox. The ID is assigned exactly once at
// enqueue time and is the message_id on the wire; retries reuse it, which is
// what makes redelivery idempotent on the server. Only the sender agent flips
// Status and only the retention manager deletes rows (sent rows only).
type Record struct {
	ID            uuid.UUID
	Kind          RecordKind
	Payload       []byte
	Status        RecordStatus
	AttemptCount  int
	LastAttemptAt *time.Time
	CreatedAt     time.Time
}

// RetentionPolicy is pure configuration for one record kind. MaxAge bounds how
// long sent rows are kept; MaxUnsentAgeWarning is the pending-row age beyond
// which the queue is considered stuck and a health warning is raised.
type RetentionPolicy struct {
	Kind                RecordKind
	MaxAge              time.Duration
	MaxUnsentAgeWarning time.Duration
}
