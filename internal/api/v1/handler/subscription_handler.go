package handler

import (
	"context"
	"errors"
	"time"

	"skytrack/internal/api/v1/dto"
	"skytrack/internal/api/v1/operation"
	"skytrack/internal/model"
	"skytrack/internal/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// SubscriptionHandler serves billing endpoints. stripe is nil when Stripe is
// not configured; reads still work from the local mirror.
type SubscriptionHandler struct {
	stripe   *service.StripeService
	subs     service.SubscriptionService
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewSubscriptionHandler(stripe *service.StripeService, subs service.SubscriptionService, validate *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{stripe: stripe, subs: subs, validate: validate, logger: logger}
}

func billingError(msg string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidPlan):
		return huma.Error400BadRequest("Invalid plan")
	case errors.Is(err, service.ErrForbidden):
		return huma.Error403Forbidden("Plan not available for your role")
	case errors.Is(err, service.ErrProfileNotFound), errors.Is(err, service.ErrSchoolNotFound):
		return huma.Error404NotFound("Billing account not found")
	case errors.Is(err, service.ErrSubscriptionNotFound):
		return huma.Error404NotFound("No subscription")
	case errors.Is(err, service.ErrNoCustomer):
		return huma.Error409Conflict("No billing account yet; start a checkout first")
	}
	return huma.Error500InternalServerError(msg, err)
}

// toSubscriptionDTO maps the mirror row; nil means no subscription.
func toSubscriptionDTO(sub *model.Subscription) dto.SubscriptionResponseDTO {
	if sub == nil {
		return dto.SubscriptionResponseDTO{}
	}
	out := dto.SubscriptionResponseDTO{
		Active:            sub.IsEntitled(time.Now()),
		Status:            string(sub.Status),
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Scope:             "user",
	}
	if sub.SchoolID != nil {
		out.Scope = "school"
	}
	if sub.StripePriceID != nil {
		out.PriceID = *sub.StripePriceID
	}
	return out
}

func (h *SubscriptionHandler) requireStripe() error {
	if h.stripe == nil {
		return huma.Error503ServiceUnavailable("Billing is not configured")
	}
	return nil
}

// GetSubscription returns the subscription that applies to the caller
func (h *SubscriptionHandler) GetSubscription(ctx context.Context, input *operation.GetSubscriptionInput) (*operation.GetSubscriptionOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := h.subs.GetCurrent(ctx, user.ID)
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			return nil, huma.Error404NotFound("Profile not found")
		}
		return nil, huma.Error500InternalServerError("Failed to get subscription", err)
	}
	return &operation.GetSubscriptionOutput{Body: toSubscriptionDTO(sub)}, nil
}

// Checkout starts a hosted Checkout session
func (h *SubscriptionHandler) Checkout(ctx context.Context, input *operation.CheckoutInput) (*operation.RedirectURLOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.requireStripe(); err != nil {
		return nil, err
	}
	if err := h.validate.Struct(input.Body); err != nil {
		return nil, huma.Error400BadRequest("Invalid plan", err)
	}
	url, err := h.stripe.CreateCheckoutSession(ctx, user.ID, input.Body.Plan)
	if err != nil {
		return nil, billingError("Failed to create checkout session", err)
	}
	return &operation.RedirectURLOutput{Body: dto.RedirectURLResponse{URL: url}}, nil
}

// Portal opens the customer portal
func (h *SubscriptionHandler) Portal(ctx context.Context, input *operation.PortalInput) (*operation.RedirectURLOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.requireStripe(); err != nil {
		return nil, err
	}
	url, err := h.stripe.CreatePortalSession(ctx, user.ID)
	if err != nil {
		return nil, billingError("Failed to create portal session", err)
	}
	return &operation.RedirectURLOutput{Body: dto.RedirectURLResponse{URL: url}}, nil
}

// CreateSubscription creates an incomplete subscription for in-app payment
func (h *SubscriptionHandler) CreateSubscription(ctx context.Context, input *operation.CreateSubscriptionInput) (*operation.CreateSubscriptionOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.requireStripe(); err != nil {
		return nil, err
	}
	if err := h.validate.Struct(input.Body); err != nil {
		return nil, huma.Error400BadRequest("Invalid plan", err)
	}
	intent, err := h.stripe.CreateSubscription(ctx, user.ID, input.Body.Plan)
	if err != nil {
		return nil, billingError("Failed to create subscription", err)
	}
	return &operation.CreateSubscriptionOutput{Body: dto.SubscriptionCreateResponse{
		SubscriptionID: intent.SubscriptionID,
		InvoiceID:      intent.InvoiceID,
		Status:         string(intent.Status),
	}}, nil
}

// CancelSubscription schedules cancellation at period end
func (h *SubscriptionHandler) CancelSubscription(ctx context.Context, input *operation.CancelSubscriptionInput) (*operation.GetSubscriptionOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.requireStripe(); err != nil {
		return nil, err
	}
	sub, err := h.stripe.CancelSubscription(ctx, user.ID)
	if err != nil {
		return nil, billingError("Failed to cancel subscription", err)
	}
	return &operation.GetSubscriptionOutput{Body: toSubscriptionDTO(sub)}, nil
}
