package operation

import "skytrack/internal/api/v1/dto"

type GetSubscriptionInput struct{}

type GetSubscriptionOutput struct {
	Body dto.SubscriptionResponseDTO `json:"body"`
}

type CheckoutInput struct {
	Body dto.SubscriptionCheckoutRequest `json:"body"`
}

type RedirectURLOutput struct {
	Body dto.RedirectURLResponse `json:"body"`
}

type PortalInput struct{}

type CreateSubscriptionInput struct {
	Body dto.SubscriptionCheckoutRequest `json:"body"`
}

type CreateSubscriptionOutput struct {
	Body dto.SubscriptionCreateResponse `json:"body"`
}

type CancelSubscriptionInput struct{}
