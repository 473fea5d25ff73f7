// Package usecase implements the ingestion business logic: batch commits with
// message-id deduplication, camera registration and canonical store retention.
package usecase

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/popwandee/lprserver-v3-sub001/internal/blob"
	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	ingestDomain "github.com/popwandee/lprserver-v3-sub001/internal/ingest/domain"
	"github.com/popwandee/lprserver-v3-sub001/internal/metrics"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// RecordRepository defines canonical record persistence operations.
type RecordRepository interface {
	Create(ctx context.Context, record *ingestDomain.CanonicalRecord) error
	GetByMessageID(ctx context.Context, messageID uuid.UUID) (*ingestDomain.CanonicalRecord, error)
	DeleteOlderThan(ctx context.Context, kind string, cutoff time.Time) (int64, []string, error)
	CountByKind(ctx context.Context, kind string) (int64, error)
	List(ctx context.Context, kind, cameraID string, offset, limit int) ([]*ingestDomain.CanonicalRecord, error)
}

// CameraRepository defines registered camera persistence operations.
type CameraRepository interface {
	Create(ctx context.Context, camera *ingestDomain.Camera) error
	GetByCameraID(ctx context.Context, cameraID string) (*ingestDomain.Camera, error)
	TouchLastSeen(ctx context.Context, cameraID string) error
}

// ImageStore persists detection image payloads outside the database.
type ImageStore interface {
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// KeyHasher verifies camera keys against stored hashes.
type KeyHasher interface {
	HashKey(plainKey string) (string, error)
	CompareKey(plainKey, hashedKey string) bool
}

// IngestUsecase commits incoming batches into the canonical store.
type IngestUsecase struct {
	recordRepo RecordRepository
	cameraRepo CameraRepository
	images     ImageStore
	hasher     KeyHasher
	metrics    metrics.SyncMetrics
	logger     *slog.Logger
}

// NewIngestUsecase creates the ingestion usecase.
func NewIngestUsecase(
	recordRepo RecordRepository,
	cameraRepo CameraRepository,
	images ImageStore,
	hasher KeyHasher,
	syncMetrics metrics.SyncMetrics,
	logger *slog.Logger,
) *IngestUsecase {
	return &IngestUsecase{
		recordRepo: recordRepo,
		cameraRepo: cameraRepo,
		images:     images,
		hasher:     hasher,
		metrics:    syncMetrics,
		logger:     logger,
	}
}

// ProcessBatch commits each message of a batch independently and returns one
// acknowledgment per decided message. Messages that hit a storage fault get no
// acknowledgment at all, which leaves them pending on the edge for redelivery.
//
// A duplicate message id is acknowledged as accepted with the previously
// committed record id: redelivery after a lost ack must converge, not error.
func (i *IngestUsecase) ProcessBatch(ctx context.Context, kind wire.Kind, batch *wire.Batch) []wire.Ack {
	start := time.Now()
	acks := make([]wire.Ack, 0, len(batch.Messages))

	for idx := range batch.Messages {
		message := &batch.Messages[idx]
		ack, ok := i.processMessage(ctx, kind, message)
		if !ok {
			continue
		}
		acks = append(acks, ack)
	}

	i.metrics.RecordBatchDuration(ctx, string(kind), "ingest", time.Since(start))

	if batch.CameraID != "" {
		if err := i.cameraRepo.TouchLastSeen(ctx, batch.CameraID); err != nil {
			i.logger.Warn("failed to touch camera", slog.Any("error", err))
		}
	}

	return acks
}

// processMessage decides one message. The bool is false when no verdict can be
// given (storage fault), true when the ack is final.
func (i *IngestUsecase) processMessage(ctx context.Context, kind wire.Kind, message *wire.Message) (wire.Ack, bool) {
	reject := func(reason string) (wire.Ack, bool) {
		i.metrics.RecordDelivery(ctx, string(kind), "rejected")
		i.logger.Warn("message rejected",
			slog.String("message_id", message.MessageID),
			slog.String("camera_id", message.CameraID),
			slog.String("reason", reason),
		)
		return wire.Ack{MessageID: message.MessageID, Outcome: wire.OutcomeRejected, Reason: reason}, true
	}

	if message.Kind != kind {
		return reject("message kind does not match endpoint")
	}
	if err := message.Validate(); err != nil {
		return reject(err.Error())
	}

	messageID, err := uuid.Parse(message.MessageID)
	if err != nil {
		return reject("message_id is not a valid UUID")
	}

	var imageKeys []string
	switch kind {
	case wire.KindDetection:
		payload, err := message.DecodeDetection()
		if err != nil {
			return reject(err.Error())
		}
		imageKeys, err = i.storeImages(ctx, message.MessageID, payload)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrInvalidInput) {
				return reject("image is not valid base64")
			}
			// No verdict: the edge must redeliver once storage recovers.
			i.logger.Error("failed to store images",
				slog.String("message_id", message.MessageID),
				slog.Any("error", err),
			)
			return wire.Ack{}, false
		}
	case wire.KindHealth:
		if _, err := message.DecodeHealth(); err != nil {
			return reject(err.Error())
		}
	default:
		return reject("unknown message kind")
	}

	record := &ingestDomain.CanonicalRecord{
		ID:           uuid.Must(uuid.NewV7()),
		MessageID:    messageID,
		Kind:         string(message.Kind),
		CameraID:     message.CameraID,
		CheckpointID: message.CheckpointID,
		RecordedAt:   message.Timestamp.UTC(),
		Payload:      message.Payload,
		ImageKeys:    imageKeys,
		CreatedAt:    time.Now().UTC(),
	}

	err = i.recordRepo.Create(ctx, record)
	switch {
	case err == nil:
		i.metrics.RecordDelivery(ctx, string(kind), "committed")
		return wire.Ack{
			MessageID:      message.MessageID,
			Outcome:        wire.OutcomeAccepted,
			ServerRecordID: record.ID.String(),
		}, true
	case apperrors.Is(err, apperrors.ErrDuplicate):
		return i.reacknowledge(ctx, kind, messageID)
	default:
		i.logger.Error("failed to commit record",
			slog.String("message_id", message.MessageID),
			slog.Any("error", err),
		)
		return wire.Ack{}, false
	}
}

// reacknowledge handles a redelivered message: the first commit won, so the
// edge gets the original record id again. Image keys are deterministic per
// message id, so this delivery overwrote the same objects and there is nothing
// to clean up.
func (i *IngestUsecase) reacknowledge(
	ctx context.Context,
	kind wire.Kind,
	messageID uuid.UUID,
) (wire.Ack, bool) {
	existing, err := i.recordRepo.GetByMessageID(ctx, messageID)
	if err != nil {
		i.logger.Error("failed to load duplicate record",
			slog.String("message_id", messageID.String()),
			slog.Any("error", err),
		)
		return wire.Ack{}, false
	}

	i.metrics.RecordDelivery(ctx, string(kind), "duplicate")
	return wire.Ack{
		MessageID:      messageID.String(),
		Outcome:        wire.OutcomeAccepted,
		ServerRecordID: existing.ID.String(),
	}, true
}

// storeImages decodes and writes every image of a detection before the row is
// committed. Keys are derived from the message id, so a redelivery overwrites
// the same objects instead of leaking new ones.
func (i *IngestUsecase) storeImages(
	ctx context.Context,
	messageID string,
	payload *wire.DetectionPayload,
) ([]string, error) {
	var keys []string
	index := 0

	write := func(encoded string) error {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalidInput, "image is not valid base64")
		}
		key := blob.ImageKey(string(wire.KindDetection), messageID, index)
		if err := i.images.Write(ctx, key, data); err != nil {
			return apperrors.Wrap(err, "failed to write image")
		}
		keys = append(keys, key)
		index++
		return nil
	}

	if payload.Image != "" {
		if err := write(payload.Image); err != nil {
			return nil, err
		}
	}
	for _, cropped := range payload.CroppedPlateImages {
		if err := write(cropped); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// Register authenticates a camera for a push session. An unknown camera id is
// registered on first contact with its key hashed; a known camera must present
// the original key.
func (i *IngestUsecase) Register(ctx context.Context, request *wire.RegisterRequest) (*ingestDomain.Camera, error) {
	if err := request.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
	}

	camera, err := i.cameraRepo.GetByCameraID(ctx, request.CameraID)
	switch {
	case err == nil:
		if !i.hasher.CompareKey(request.CameraKey, camera.KeyHash) {
			return nil, apperrors.ErrUnauthorized
		}
		return camera, nil
	case apperrors.Is(err, apperrors.ErrNotFound):
		// First contact: trust-on-first-use registration.
	default:
		return nil, apperrors.Wrap(err, "failed to load camera")
	}

	keyHash, err := i.hasher.HashKey(request.CameraKey)
	if err != nil {
		return nil, err
	}

	camera = &ingestDomain.Camera{
		ID:           uuid.Must(uuid.NewV7()),
		CameraID:     request.CameraID,
		CheckpointID: request.CheckpointID,
		KeyHash:      keyHash,
		CreatedAt:    time.Now().UTC(),
	}

	err = i.cameraRepo.Create(ctx, camera)
	if apperrors.Is(err, apperrors.ErrConflict) {
		// Lost a registration race: verify against the winner.
		winner, getErr := i.cameraRepo.GetByCameraID(ctx, request.CameraID)
		if getErr != nil {
			return nil, apperrors.Wrap(getErr, "failed to load camera")
		}
		if !i.hasher.CompareKey(request.CameraKey, winner.KeyHash) {
			return nil, apperrors.ErrUnauthorized
		}
		return winner, nil
	}
	if err != nil {
		return nil, err
	}

	i.logger.Info("camera registered",
		slog.String("camera_id", camera.CameraID),
		slog.String("checkpoint_id", camera.CheckpointID),
	)
	return camera, nil
}

// ListRecords retrieves committed records for operator queries.
func (i *IngestUsecase) ListRecords(
	ctx context.Context,
	kind wire.Kind,
	cameraID string,
	offset, limit int,
) ([]*ingestDomain.CanonicalRecord, error) {
	if !kind.Valid() {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "unknown record kind")
	}
	return i.recordRepo.List(ctx, string(kind), cameraID, offset, limit)
}
