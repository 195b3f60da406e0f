package model

import "time"

// DeadLetterJob is an OCR job Pub/Sub gave up on, kept for inspection.
type DeadLetterJob struct {
	ID               string            `db:"id"`
	SubscriptionName string            `db:"subscription_name"`
	MessageID        string            `db:"message_id"`
	DocumentID       *string           `db:"document_id"`
	Payload          []byte            `db:"payload"`
	Attributes       map[string]string `db:"attributes"`
	DeliveryAttempts int               `db:"delivery_attempts"`
	CreatedAt        time.Time         `db:"created_at"`
}
