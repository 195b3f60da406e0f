package operation

import (
	"skytrack/internal/api/v1/dto"
	"skytrack/internal/pubsub"
)

type DocumentUploadURLInput struct {
	Body dto.DocumentUploadURLRequest `json:"body"`
}

type DocumentUploadURLOutput struct {
	Body dto.DocumentUploadURLResponse `json:"body"`
}

type DocumentIDInput struct {
	DocumentID string `path:"documentId" format:"uuid" doc:"Document ID"`
}

type DocumentOutput struct {
	Body dto.DocumentResponseDTO `json:"body"`
}

// ProcessDocumentInput is a Pub/Sub push delivery.
type ProcessDocumentInput struct {
	Body pubsub.PushEnvelope `json:"body"`
}

type ProcessDocumentOutput struct {
	// 200 OK with empty body
}

// RecordDeadLetterInput is a push delivery from the OCR dead-letter subscription.
type RecordDeadLetterInput struct {
	Body pubsub.PushEnvelope `json:"body"`
}

type RecordDeadLetterOutput struct {
	// 200 OK with empty body
}
