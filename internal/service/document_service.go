package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"skytrack/internal/metrics"
	"skytrack/internal/model"
	"skytrack/internal/observability"
	"skytrack/internal/pubsub"
	"skytrack/internal/repository"
	"skytrack/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type DocumentService interface {
	// RequestUpload creates a pending document and returns a presigned PUT URL.
	RequestUpload(ctx context.Context, userID, fileName string) (*model.Document, string, error)
	// CompleteUpload checks the object landed and queues it for OCR.
	CompleteUpload(ctx context.Context, userID, documentID string) (*model.Document, error)
	Get(ctx context.Context, userID, documentID string) (*model.Document, error)
	// Process runs OCR for a queued document. A nil error means the job is
	// settled, including permanent failures recorded on the row.
	Process(ctx context.Context, documentID string) error
	// Requeue publishes OCR jobs again for documents stuck in uploaded or
	// processing for longer than staleAfter. It returns how many were queued.
	Requeue(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}

type documentService struct {
	docs      repository.DocumentRepository
	store     storage.ObjectStore
	ocr       OCRClient
	publisher pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

func NewDocumentService(
	docs repository.DocumentRepository,
	store storage.ObjectStore,
	ocr OCRClient,
	publisher pubsub.Publisher,
	topic string,
	logger zerolog.Logger,
) DocumentService {
	return &documentService{
		docs:      docs,
		store:     store,
		ocr:       ocr,
		publisher: publisher,
		topic:     topic,
		logger:    logger.With().Str("service", "DocumentService").Logger(),
	}
}

func cleanFileName(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" || len(name) > 255 {
		return "", ErrInvalidFileName
	}
	return name, nil
}

func (s *documentService) RequestUpload(ctx context.Context, userID, fileName string) (*model.Document, string, error) {
	name, err := cleanFileName(fileName)
	if err != nil {
		return nil, "", err
	}
	doc, err := s.docs.Create(ctx, userID, name)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create document")
		return nil, "", err
	}
	key := fmt.Sprintf("documents/%s/%s/%s", userID, doc.ID, name)
	url, err := s.store.PresignPut(ctx, key)
	if err != nil {
		s.logger.Error().Err(err).Str("document_id", doc.ID).Msg("Failed to presign upload")
		_ = s.docs.Fail(ctx, doc.ID, "could not create upload URL")
		return nil, "", err
	}
	if err := s.docs.SetStoragePath(ctx, doc.ID, key); err != nil {
		return nil, "", err
	}
	doc.StoragePath = key
	return doc, url, nil
}

func (s *documentService) owned(ctx context.Context, userID, documentID string) (*model.Document, error) {
	if _, err := uuid.Parse(documentID); err != nil {
		return nil, ErrDocumentNotFound
	}
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	// Another user's document reads as missing.
	if doc == nil || doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *documentService) Get(ctx context.Context, userID, documentID string) (*model.Document, error) {
	return s.owned(ctx, userID, documentID)
}

func (s *documentService) CompleteUpload(ctx context.Context, userID, documentID string) (*model.Document, error) {
	doc, err := s.owned(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != model.DocumentPendingUpload {
		return doc, nil
	}
	ok, err := s.store.Exists(ctx, doc.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Str("storage_path", doc.StoragePath).Msg("Failed to check uploaded object")
		return nil, err
	}
	if !ok {
		return nil, ErrNotUploaded
	}
	if err := s.docs.UpdateStatus(ctx, doc.ID, model.DocumentUploaded); err != nil {
		return nil, err
	}
	doc.Status = model.DocumentUploaded

	// A publish failure leaves the row uploaded for the sweeper to pick up.
	s.queue(ctx, doc.ID)
	return doc, nil
}

func (s *documentService) queue(ctx context.Context, documentID string) bool {
	if s.publisher == nil {
		s.logger.Warn().Str("document_id", documentID).Msg("No publisher configured; document not queued for OCR")
		return false
	}
	msgID, err := pubsub.PublishDocumentJob(ctx, s.publisher, s.topic, pubsub.DocumentJob{DocumentID: documentID})
	if err != nil {
		observability.CaptureErr(err)
		s.logger.Error().Err(err).Str("document_id", documentID).Msg("Failed to publish OCR job")
		return false
	}
	s.logger.Info().Str("document_id", documentID).Str("message_id", msgID).Msg("Queued document for OCR")
	return true
}

func (s *documentService) Process(ctx context.Context, documentID string) error {
	if _, err := uuid.Parse(documentID); err != nil {
		return fmt.Errorf("%w: document id %q", ErrInvalidPayload, documentID)
	}
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	log := s.logger.With().Str("document_id", doc.ID).Logger()
	if doc.Status == model.DocumentComplete {
		log.Info().Msg("Document already processed")
		return nil
	}
	if s.ocr == nil {
		return ErrOCRNotConfigured
	}
	if err := s.docs.UpdateStatus(ctx, doc.ID, model.DocumentProcessing); err != nil {
		return err
	}
	url, err := s.store.PresignGet(ctx, doc.StoragePath)
	if err != nil {
		return err
	}
	res, err := s.ocr.Extract(ctx, url)
	if err != nil {
		if failErr := s.docs.Fail(ctx, doc.ID, err.Error()); failErr != nil {
			log.Error().Err(failErr).Msg("Failed to record OCR failure")
		}
		var statusErr *OCRStatusError
		if errors.As(err, &statusErr) && statusErr.Permanent() {
			log.Warn().Err(err).Msg("OCR rejected document")
			return nil
		}
		observability.CaptureErr(err)
		log.Error().Err(err).Msg("OCR failed; job will be retried")
		return err
	}
	if err := s.docs.Complete(ctx, doc.ID, res.Text, res.Pages); err != nil {
		return err
	}
	log.Info().Int("pages", res.Pages).Msg("Document processed")
	return nil
}

func (s *documentService) Requeue(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	if s.publisher == nil {
		return 0, ErrPublisherNotConfigured
	}
	cutoff := time.Now().Add(-staleAfter)
	queued, picked := 0, 0
	// limit covers both statuses together.
	for _, status := range []model.DocumentStatus{model.DocumentUploaded, model.DocumentProcessing} {
		if picked >= limit {
			break
		}
		docs, err := s.docs.ListStale(ctx, status, cutoff, limit-picked)
		if err != nil {
			return queued, err
		}
		picked += len(docs)
		for _, doc := range docs {
			// Resetting the status also bumps updated_at, so the next sweep
			// skips this row until it goes stale again.
			if err := s.docs.UpdateStatus(ctx, doc.ID, model.DocumentUploaded); err != nil {
				return queued, err
			}
			if s.queue(ctx, doc.ID) {
				queued++
				metrics.DocumentsRequeued.WithLabelValues(string(status)).Inc()
			}
		}
	}
	return queued, nil
}
