package service

import (
	"context"
	"strconv"

	"skytrack/internal/model"
	"skytrack/internal/observability"
	"skytrack/internal/pubsub"
	"skytrack/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// deliveryCountAttr is set by Pub/Sub on messages forwarded to a dead-letter topic.
const deliveryCountAttr = "CloudPubSubDeadLetterSourceDeliveryCount"

const deadLetterReason = "OCR gave up after repeated failures"

// DeadLetterService records OCR jobs that exhausted their deliveries.
type DeadLetterService interface {
	// Record stores the message and marks its document failed. Malformed
	// payloads are stored without a document.
	Record(ctx context.Context, env *pubsub.PushEnvelope) error
}

type deadLetterService struct {
	repo   repository.DeadLetterRepository
	docs   repository.DocumentRepository
	logger zerolog.Logger
}

func NewDeadLetterService(repo repository.DeadLetterRepository, docs repository.DocumentRepository, logger zerolog.Logger) DeadLetterService {
	return &deadLetterService{
		repo:   repo,
		docs:   docs,
		logger: logger.With().Str("service", "DeadLetterService").Logger(),
	}
}

func (s *deadLetterService) Record(ctx context.Context, env *pubsub.PushEnvelope) error {
	log := s.logger.With().Str("message_id", env.Message.MessageID).Logger()
	job := &model.DeadLetterJob{
		SubscriptionName: env.Subscription,
		MessageID:        env.Message.MessageID,
		Payload:          env.Message.Data,
		Attributes:       env.Message.Attributes,
	}
	if n, err := strconv.Atoi(env.Message.Attributes[deliveryCountAttr]); err == nil {
		job.DeliveryAttempts = n
	}

	var doc *model.Document
	if parsed, err := env.DocumentJob(); err != nil {
		log.Warn().Err(err).Msg("Dead-lettered message carries no document job")
	} else if _, err := uuid.Parse(parsed.DocumentID); err == nil {
		doc, err = s.docs.GetByID(ctx, parsed.DocumentID)
		if err != nil {
			return err
		}
		if doc != nil {
			job.DocumentID = &doc.ID
		}
	}

	created, err := s.repo.Create(ctx, job)
	if err != nil {
		observability.CaptureErr(err)
		log.Error().Err(err).Str("subscription", job.SubscriptionName).Msg("Failed to save dead-lettered job")
		return err
	}
	if !created {
		log.Info().Msg("Dead-lettered job already recorded")
	}

	if doc == nil || doc.Status == model.DocumentComplete || doc.Status == model.DocumentFailed {
		return nil
	}
	if err := s.docs.Fail(ctx, doc.ID, deadLetterReason); err != nil {
		return err
	}
	log.Warn().Str("document_id", doc.ID).Int("delivery_attempts", job.DeliveryAttempts).Msg("Document failed after dead-lettering")
	return nil
}
