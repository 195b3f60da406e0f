package model

import "time"

type DocumentStatus string

const (
	DocumentPendingUpload DocumentStatus = "pending_upload"
	DocumentUploaded      DocumentStatus = "uploaded"
	DocumentProcessing    DocumentStatus = "processing"
	DocumentComplete      DocumentStatus = "complete"
	DocumentFailed        DocumentStatus = "failed"
)

// Document is an uploaded training record (logbook page, endorsement,
// medical) whose text is extracted by the OCR backend.
type Document struct {
	ID            string         `db:"id" json:"id"`
	UserID        string         `db:"user_id" json:"user_id"`
	FileName      string         `db:"file_name" json:"file_name"`
	StoragePath   string         `db:"storage_path" json:"storage_path"`
	Status        DocumentStatus `db:"status" json:"status"`
	ExtractedText *string        `db:"extracted_text" json:"extracted_text,omitempty"`
	PageCount     int            `db:"page_count" json:"page_count"`
	Error         *string        `db:"error" json:"error,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
	DeletedAt     *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
}
