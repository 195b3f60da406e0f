package handler

import (
	"context"
	"errors"

	"skytrack/internal/api/v1/dto"
	"skytrack/internal/api/v1/operation"
	"skytrack/internal/model"
	"skytrack/internal/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type DocumentHandler struct {
	docs      service.DocumentService
	analytics service.Analytics
	validate  *validator.Validate
	logger    zerolog.Logger
}

func NewDocumentHandler(docs service.DocumentService, analytics service.Analytics, validate *validator.Validate, logger zerolog.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, analytics: analytics, validate: validate, logger: logger}
}

func toDocumentDTO(d *model.Document) dto.DocumentResponseDTO {
	out := dto.DocumentResponseDTO{
		ID:        d.ID,
		FileName:  d.FileName,
		Status:    string(d.Status),
		PageCount: d.PageCount,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.ExtractedText != nil {
		out.ExtractedText = *d.ExtractedText
	}
	if d.Error != nil {
		out.Error = *d.Error
	}
	return out
}

func documentError(msg string, err error) error {
	switch {
	case errors.Is(err, service.ErrDocumentNotFound):
		return huma.Error404NotFound("Document not found")
	case errors.Is(err, service.ErrInvalidFileName):
		return huma.Error400BadRequest("Invalid file name")
	case errors.Is(err, service.ErrNotUploaded):
		return huma.Error409Conflict("File has not been uploaded yet")
	}
	return huma.Error500InternalServerError(msg, err)
}

// UploadURL creates a document and returns where to PUT the file
func (h *DocumentHandler) UploadURL(ctx context.Context, input *operation.DocumentUploadURLInput) (*operation.DocumentUploadURLOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.validate.Struct(input.Body); err != nil {
		return nil, huma.Error400BadRequest("Invalid request", err)
	}
	doc, url, err := h.docs.RequestUpload(ctx, user.ID, input.Body.FileName)
	if err != nil {
		return nil, documentError("Failed to create upload URL", err)
	}
	return &operation.DocumentUploadURLOutput{Body: dto.DocumentUploadURLResponse{DocumentID: doc.ID, UploadURL: url}}, nil
}

// UploadComplete queues an uploaded document for OCR
func (h *DocumentHandler) UploadComplete(ctx context.Context, input *operation.DocumentIDInput) (*operation.DocumentOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := h.docs.CompleteUpload(ctx, user.ID, input.DocumentID)
	if err != nil {
		return nil, documentError("Failed to complete upload", err)
	}
	h.analytics.Capture(user.ID, "document_uploaded", map[string]interface{}{"document_id": doc.ID})
	return &operation.DocumentOutput{Body: toDocumentDTO(doc)}, nil
}

// GetDocument returns one of the caller's documents
func (h *DocumentHandler) GetDocument(ctx context.Context, input *operation.DocumentIDInput) (*operation.DocumentOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := h.docs.Get(ctx, user.ID, input.DocumentID)
	if err != nil {
		return nil, documentError("Failed to get document", err)
	}
	return &operation.DocumentOutput{Body: toDocumentDTO(doc)}, nil
}

// ProcessDocument handles a Pub/Sub push. Non-2xx makes Pub/Sub redeliver,
// so only transient failures return an error.
func (h *DocumentHandler) ProcessDocument(ctx context.Context, input *operation.ProcessDocumentInput) (*operation.ProcessDocumentOutput, error) {
	log := h.logger.With().Str("message_id", input.Body.Message.MessageID).Logger()
	job, err := input.Body.DocumentJob()
	if err != nil {
		log.Warn().Err(err).Msg("Dropping malformed OCR job")
		return &operation.ProcessDocumentOutput{}, nil
	}
	err = h.docs.Process(ctx, job.DocumentID)
	switch {
	case err == nil:
		return &operation.ProcessDocumentOutput{}, nil
	case errors.Is(err, service.ErrInvalidPayload), errors.Is(err, service.ErrDocumentNotFound):
		log.Warn().Err(err).Str("document_id", job.DocumentID).Msg("Dropping OCR job")
		return &operation.ProcessDocumentOutput{}, nil
	}
	log.Error().Err(err).Str("document_id", job.DocumentID).Msg("OCR job failed")
	return nil, huma.Error500InternalServerError("Failed to process document", err)
}
