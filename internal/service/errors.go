package service

import "errors"

var (
	ErrProfileNotFound        = errors.New("profile not found")
	ErrSchoolNotFound         = errors.New("school not found")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrDocumentNotFound       = errors.New("document not found")
	ErrNotUploaded            = errors.New("document has not been uploaded")
	ErrInvalidFileName        = errors.New("invalid file name")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidRole            = errors.New("invalid role")
	ErrRoleLocked             = errors.New("role can no longer be changed")
	ErrInvalidPlan            = errors.New("invalid plan")
	ErrNoCustomer             = errors.New("no stripe customer")
	ErrUnknownOwner           = errors.New("cannot determine subscription owner")
	ErrInvalidPayload         = errors.New("invalid event payload")
	ErrStripeNotConfigured    = errors.New("STRIPE_SECRET_KEY is not set")
	ErrOCRNotConfigured       = errors.New("OCR_API_KEY is not set")
	ErrPublisherNotConfigured = errors.New("GCP_PROJECT_ID is not set")
)
