package dto

import "time"

type DocumentUploadURLRequest struct {
	FileName string `json:"file_name" validate:"required,max=255" minLength:"1" maxLength:"255" doc:"Original file name"`
}

type DocumentUploadURLResponse struct {
	DocumentID string `json:"document_id"`
	UploadURL  string `json:"upload_url"`
}

type DocumentResponseDTO struct {
	ID            string    `json:"id"`
	FileName      string    `json:"file_name"`
	Status        string    `json:"status" enum:"pending_upload,uploaded,processing,complete,failed"`
	ExtractedText string    `json:"extracted_text,omitempty"`
	PageCount     int       `json:"page_count"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type FlagResponseDTO struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}
