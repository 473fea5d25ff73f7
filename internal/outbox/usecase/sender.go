// Package usecase implements the outbox business logic: the producer-facing
// enqueue API, the sender agent delivery loop and the retention manager.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	apperrors "github.com/popwandee/lprserver-v3-sub001/internal/errors"
	"github.com/popwandee/lprserver-v3-sub001/internal/metrics"
	"github.com/popwandee/lprserver-v3-sub001/internal/outbox/domain"
	"github.com/popwandee/lprserver-v3-sub001/internal/wire"
)

// RecordRepository defines outbox record persistence operations.
type RecordRepository interface {
	Enqueue(ctx context.Context, record *domain.Record) error
	FetchPending(ctx context.Context, kind domain.RecordKind, limit int) ([]*domain.Record, error)
	MarkSent(ctx context.Context, kind domain.RecordKind, id uuid.UUID) error
	MarkAttempt(ctx context.Context, kind domain.RecordKind, ids []uuid.UUID) error
	DeleteSentOlderThan(ctx context.Context, kind domain.RecordKind, cutoff time.Time) (int64, error)
	OldestPendingAge(ctx context.Context, kind domain.RecordKind) (time.Duration, error)
	CountByStatus(ctx context.Context, kind domain.RecordKind, status domain.RecordStatus) (int64, error)
	Vacuum(ctx context.Context) error
}

// Deliverer is the transport negotiator as seen by the sender agent.
type Deliverer interface {
	Deliver(ctx context.Context, batch *wire.Batch) ([]wire.Ack, error)
}

// Outbox is the producer-facing enqueue API. The detection pipeline and the
// health monitor only ever see this: a single durable insert that either
// succeeds or fails loudly, independent of network state.
type Outbox struct {
	repo   RecordRepository
	logger *slog.Logger
}

// NewOutbox creates the producer-facing outbox API.
func NewOutbox(repo RecordRepository, logger *slog.Logger) *Outbox {
	return &Outbox{repo: repo, logger: logger}
}

// Enqueue serializes the payload and inserts a pending record. The returned
// message id is assigned here, exactly once; retries reuse it.
func (o *Outbox) Enqueue(ctx context.Context, kind domain.RecordKind, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, apperrors.Wrap(err, "failed to encode payload")
	}

	record := &domain.Record{
		ID:        uuid.Must(uuid.NewV7()),
		Kind:      kind,
		Payload:   data,
		Status:    domain.RecordStatusPending,
		CreatedAt: time.Now().UTC(),
	}

	if err := o.repo.Enqueue(ctx, record); err != nil {
		o.logger.Error("outbox enqueue failed",
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		return uuid.Nil, apperrors.Wrap(err, "failed to enqueue record")
	}

	return record.ID, nil
}

// SenderConfig holds sender agent configuration for one record kind.
type SenderConfig struct {
	Kind           domain.RecordKind
	CameraID       string
	CheckpointID   string
	PollInterval   time.Duration
	BatchSize      int
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// Sender is the background delivery loop for one record kind. Two senders
// (detection, health) run independently and share nothing but the outbox,
// which serializes access per table.
type Sender struct {
	config  SenderConfig
	repo    RecordRepository
	deliver Deliverer
	metrics metrics.SyncMetrics
	logger  *slog.Logger

	retry         *backoff.ExponentialBackOff
	nextAttemptAt time.Time
}

// NewSender creates a sender agent for one record kind.
func NewSender(
	config SenderConfig,
	repo RecordRepository,
	deliver Deliverer,
	syncMetrics metrics.SyncMetrics,
	logger *slog.Logger,
) *Sender {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = 30 * time.Second
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 5 * time.Second
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = 5 * time.Minute
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = config.BackoffBase
	retry.MaxInterval = config.BackoffMax
	retry.MaxElapsedTime = 0 // the sender retries forever; durability is the point
	retry.Reset()

	return &Sender{
		config:  config,
		repo:    repo,
		deliver: deliver,
		metrics: syncMetrics,
		logger:  logger,
		retry:   retry,
	}
}

// Start runs the poll loop until the context is cancelled.
func (s *Sender) Start(ctx context.Context) error {
	s.logger.Info("starting sender agent",
		slog.String("kind", string(s.config.Kind)),
		slog.Duration("poll_interval", s.config.PollInterval),
		slog.Int("batch_size", s.config.BatchSize),
	)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping sender agent", slog.String("kind", string(s.config.Kind)))
			return ctx.Err()
		case <-ticker.C:
			if err := s.Cycle(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sender cycle failed",
					slog.String("kind", string(s.config.Kind)),
					slog.Any("error", err),
				)
			}
		}
	}
}

// Cycle runs one poll cycle: fetch pending records, deliver one batch, apply
// each record's fate from the acknowledgments. Transport failures leave every
// record pending and arm the backoff window; cycles inside the window skip the
// network entirely so a dead link costs nothing per poll.
func (s *Sender) Cycle(ctx context.Context) error {
	records, err := s.repo.FetchPending(ctx, s.config.Kind, s.config.BatchSize)
	if err != nil {
		return apperrors.Wrap(err, "failed to fetch pending records")
	}

	s.reportDepth(ctx)

	if len(records) == 0 {
		// The heartbeat log entry is deliberate observable state: a silent
		// sender and an idle sender look identical without it.
		s.logger.Info("sender poll",
			slog.String("kind", string(s.config.Kind)),
			slog.String("outcome", "no_data"),
		)
		return nil
	}

	if wait := time.Until(s.nextAttemptAt); wait > 0 {
		s.logger.Info("sender poll",
			slog.String("kind", string(s.config.Kind)),
			slog.String("outcome", "backoff"),
			slog.Duration("remaining", wait),
		)
		return nil
	}

	batch := s.buildBatch(records)

	attemptCtx, cancel := context.WithTimeout(ctx, s.config.AttemptTimeout)
	defer cancel()

	start := time.Now()
	acks, err := s.deliver.Deliver(attemptCtx, batch)
	s.metrics.RecordBatchDuration(ctx, string(s.config.Kind), "negotiated", time.Since(start))

	if err != nil {
		if apperrors.Is(err, apperrors.ErrRejected) {
			// The server received the batch and refused it outright. The
			// verdict is terminal; resending could only loop forever.
			s.retry.Reset()
			s.nextAttemptAt = time.Time{}
			return s.finalizeRejectedBatch(ctx, records, err)
		}

		ids := make([]uuid.UUID, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		if markErr := s.repo.MarkAttempt(ctx, s.config.Kind, ids); markErr != nil {
			s.logger.Error("failed to record attempt", slog.Any("error", markErr))
		}
		for range records {
			s.metrics.RecordDelivery(ctx, string(s.config.Kind), "retried")
		}

		wait := s.retry.NextBackOff()
		s.nextAttemptAt = time.Now().Add(wait)
		s.logger.Warn("batch delivery failed",
			slog.String("kind", string(s.config.Kind)),
			slog.Int("batch_size", len(records)),
			slog.Duration("retry_in", wait),
			slog.Any("error", err),
		)
		return nil
	}

	s.retry.Reset()
	s.nextAttemptAt = time.Time{}

	return s.applyAcks(ctx, records, acks)
}

// buildBatch assembles the wire batch from outbox rows. Message ids come from
// the rows, never regenerated, which is what makes redelivery idempotent.
func (s *Sender) buildBatch(records []*domain.Record) *wire.Batch {
	messages := make([]wire.Message, 0, len(records))
	for _, r := range records {
		messages = append(messages, wire.Message{
			SchemaVersion: wire.SchemaVersion,
			MessageID:     r.ID.String(),
			Kind:          wire.Kind(r.Kind),
			CameraID:      s.config.CameraID,
			CheckpointID:  s.config.CheckpointID,
			Timestamp:     r.CreatedAt,
			Payload:       json.RawMessage(r.Payload),
		})
	}
	return &wire.Batch{
		CameraID:     s.config.CameraID,
		CheckpointID: s.config.CheckpointID,
		Messages:     messages,
	}
}

// finalizeRejectedBatch finalizes every record of a whole-batch rejection the
// same way a per-record rejected ack is handled: marked so it is never
// refetched, and logged loudly as a producer bug.
func (s *Sender) finalizeRejectedBatch(ctx context.Context, records []*domain.Record, cause error) error {
	for _, record := range records {
		if err := s.repo.MarkSent(ctx, s.config.Kind, record.ID); err != nil {
			return apperrors.Wrap(err, "failed to mark record sent")
		}
		s.metrics.RecordDelivery(ctx, string(s.config.Kind), "rejected")
	}

	s.logger.Error("batch rejected by server",
		slog.String("kind", string(s.config.Kind)),
		slog.Int("batch_size", len(records)),
		slog.Any("error", cause),
	)
	return nil
}

// applyAcks applies each record's fate individually: accepted and rejected
// records are both finalized (a rejection is terminal and must never be
// resent), unacknowledged records stay pending for the next cycle.
func (s *Sender) applyAcks(ctx context.Context, records []*domain.Record, acks []wire.Ack) error {
	byID := make(map[string]wire.Ack, len(acks))
	for _, ack := range acks {
		byID[ack.MessageID] = ack
	}

	var unacked []uuid.UUID
	for _, record := range records {
		ack, ok := byID[record.ID.String()]
		if !ok {
			unacked = append(unacked, record.ID)
			continue
		}

		if err := s.repo.MarkSent(ctx, s.config.Kind, record.ID); err != nil {
			return apperrors.Wrap(err, "failed to mark record sent")
		}

		if ack.Accepted() {
			s.metrics.RecordDelivery(ctx, string(s.config.Kind), "sent")
			continue
		}

		// A rejection means the producer wrote a malformed record. It is
		// finalized so it can never loop, and logged loudly as a bug.
		s.metrics.RecordDelivery(ctx, string(s.config.Kind), "rejected")
		s.logger.Error("record rejected by server",
			slog.String("kind", string(s.config.Kind)),
			slog.String("message_id", record.ID.String()),
			slog.String("reason", ack.Reason),
		)
	}

	if len(unacked) > 0 {
		if err := s.repo.MarkAttempt(ctx, s.config.Kind, unacked); err != nil {
			return apperrors.Wrap(err, "failed to record attempt")
		}
		s.logger.Warn("batch partially acknowledged",
			slog.String("kind", string(s.config.Kind)),
			slog.Int("unacked", len(unacked)),
		)
	}

	return nil
}

// reportDepth publishes the pending-row gauge, best effort.
func (s *Sender) reportDepth(ctx context.Context) {
	depth, err := s.repo.CountByStatus(ctx, s.config.Kind, domain.RecordStatusPending)
	if err != nil {
		return
	}
	s.metrics.RecordOutboxDepth(ctx, string(s.config.Kind), depth)
}

// String describes the sender for diagnostics.
func (s *Sender) String() string {
	return fmt.Sprintf("sender(%s)", s.config.Kind)
}
