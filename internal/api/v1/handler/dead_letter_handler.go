package handler

import (
	"context"

	"skytrack/internal/api/v1/operation"
	"skytrack/internal/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

type DeadLetterHandler struct {
	service service.DeadLetterService
	logger  zerolog.Logger
}

func NewDeadLetterHandler(s service.DeadLetterService, l zerolog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{service: s, logger: l}
}

// RecordDeadLetter stores an OCR job Pub/Sub stopped retrying. Store errors
// return 500 so the dead-letter subscription delivers it again.
func (h *DeadLetterHandler) RecordDeadLetter(ctx context.Context, input *operation.RecordDeadLetterInput) (*operation.RecordDeadLetterOutput, error) {
	if input.Body.Message.MessageID == "" {
		return nil, huma.Error400BadRequest("Invalid Pub/Sub message format: missing message ID")
	}

	h.logger.Info().
		Str("messageId", input.Body.Message.MessageID).
		Str("subscription", input.Body.Subscription).
		Msg("Processing dead-lettered OCR job")

	if err := h.service.Record(ctx, &input.Body); err != nil {
		return nil, huma.Error500InternalServerError("Failed to record dead-lettered job", err)
	}
	return &operation.RecordDeadLetterOutput{}, nil
}
