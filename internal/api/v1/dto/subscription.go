package dto

import "time"

type SubscriptionResponseDTO struct {
	Active            bool       `json:"active"`
	Status            string     `json:"status,omitempty"`
	PriceID           string     `json:"price_id,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	Scope             string     `json:"scope,omitempty" enum:"user,school"`
}

type SubscriptionCheckoutRequest struct {
	Plan string `json:"plan" validate:"required,oneof=student_monthly cfi_monthly school_monthly" enum:"student_monthly,cfi_monthly,school_monthly" doc:"Plan to purchase"`
}

type RedirectURLResponse struct {
	URL string `json:"url"`
}

type SubscriptionCreateResponse struct {
	SubscriptionID string `json:"subscription_id"`
	InvoiceID      string `json:"invoice_id,omitempty"`
	Status         string `json:"status"`
}
