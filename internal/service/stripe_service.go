package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"skytrack/internal/config"
	"skytrack/internal/metrics"
	"skytrack/internal/model"
	"skytrack/internal/observability"
	"skytrack/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	PlanStudentMonthly = "student_monthly"
	PlanCFIMonthly     = "cfi_monthly"
	PlanSchoolMonthly  = "school_monthly"
)

// SubscriptionIntent is returned by a direct subscription create. The client
// finishes payment against the subscription's latest invoice.
type SubscriptionIntent struct {
	SubscriptionID string
	InvoiceID      string
	Status         model.SubscriptionStatus
}

// StripeService manages checkout, the customer portal and webhook sync.
type StripeService struct {
	cfg      *config.Config
	gateway  StripeGateway
	profiles repository.ProfileRepository
	schools  repository.SchoolRepository
	subs     repository.SubscriptionRepository
	subSvc   SubscriptionService
	dedupe   EventDeduper
	logger   zerolog.Logger
}

func NewStripeService(
	cfg *config.Config,
	gateway StripeGateway,
	profiles repository.ProfileRepository,
	schools repository.SchoolRepository,
	subs repository.SubscriptionRepository,
	subSvc SubscriptionService,
	dedupe EventDeduper,
	logger zerolog.Logger,
) *StripeService {
	if dedupe == nil {
		dedupe = NoopDeduper{}
	}
	return &StripeService{
		cfg:      cfg,
		gateway:  gateway,
		profiles: profiles,
		schools:  schools,
		subs:     subs,
		subSvc:   subSvc,
		dedupe:   dedupe,
		logger:   logger.With().Str("service", "StripeService").Logger(),
	}
}

// billingOwner is the row a Stripe customer is attached to: the school for a
// school plan, the profile otherwise.
type billingOwner struct {
	profile *model.Profile
	school  *model.School
}

func (o billingOwner) customerID() string {
	if o.school != nil {
		if o.school.StripeCustomerID != nil {
			return *o.school.StripeCustomerID
		}
		return ""
	}
	if o.profile.StripeCustomerID != nil {
		return *o.profile.StripeCustomerID
	}
	return ""
}

func (o billingOwner) metadata() map[string]string {
	if o.school != nil {
		return map[string]string{"school_id": o.school.ID, "user_id": o.profile.ID}
	}
	return map[string]string{"user_id": o.profile.ID}
}

// mirrorOwner returns the owner columns for a subscription row. A school
// subscription carries only school_id.
func (o billingOwner) mirrorOwner() (userID, schoolID *string) {
	if o.school != nil {
		id := o.school.ID
		return nil, &id
	}
	id := o.profile.ID
	return &id, nil
}

func (s *StripeService) priceFor(plan string) (string, error) {
	var price string
	switch plan {
	case PlanStudentMonthly:
		price = s.cfg.StripePriceStudent
	case PlanCFIMonthly:
		price = s.cfg.StripePriceCFI
	case PlanSchoolMonthly:
		price = s.cfg.StripePriceSchool
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidPlan, plan)
	}
	if price == "" {
		return "", fmt.Errorf("%w: no price configured for %s", ErrInvalidPlan, plan)
	}
	return price, nil
}

// resolveOwner finds who pays. plan is empty for portal and cancel requests.
func (s *StripeService) resolveOwner(ctx context.Context, userID, plan string) (billingOwner, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return billingOwner{}, fmt.Errorf("fetch profile: %w", err)
	}
	if p == nil || p.DeletedAt != nil {
		return billingOwner{}, ErrProfileNotFound
	}
	owner := billingOwner{profile: p}
	if p.Role != model.RoleSchoolAdmin {
		if plan == PlanSchoolMonthly {
			return billingOwner{}, ErrForbidden
		}
		return owner, nil
	}
	school, err := s.schools.GetByAdmin(ctx, userID)
	if err != nil {
		return billingOwner{}, fmt.Errorf("fetch school: %w", err)
	}
	if school == nil {
		if plan == PlanSchoolMonthly {
			return billingOwner{}, ErrSchoolNotFound
		}
		return owner, nil
	}
	if plan == "" || plan == PlanSchoolMonthly {
		owner.school = school
	}
	return owner, nil
}

// GetOrCreateCustomer returns the owner's Stripe customer id, creating the
// customer and storing its id on the owner row the first time.
func (s *StripeService) GetOrCreateCustomer(ctx context.Context, owner billingOwner) (string, error) {
	if id := owner.customerID(); id != "" {
		return id, nil
	}
	email, name := owner.profile.Email, owner.profile.Name()
	if owner.school != nil {
		name = owner.school.Name
		if owner.school.Email != nil {
			email = *owner.school.Email
		}
	}
	id, err := s.gateway.CreateCustomer(ctx, email, name, owner.metadata())
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", owner.profile.ID).Msg("Failed to create Stripe customer")
		return "", err
	}
	if owner.school != nil {
		err = s.schools.UpdateStripeCustomerID(ctx, owner.school.ID, id)
	} else {
		err = s.profiles.UpdateStripeCustomerID(ctx, owner.profile.ID, id)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", owner.profile.ID).Msg("Failed to store Stripe customer id")
		return "", fmt.Errorf("store stripe customer id: %w", err)
	}
	return id, nil
}

// CreateCheckoutSession creates a hosted Checkout session and returns its URL.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, userID, plan string) (string, error) {
	price, err := s.priceFor(plan)
	if err != nil {
		return "", err
	}
	owner, err := s.resolveOwner(ctx, userID, plan)
	if err != nil {
		return "", err
	}
	customerID, err := s.GetOrCreateCustomer(ctx, owner)
	if err != nil {
		return "", err
	}
	meta := owner.metadata()
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(userID),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(price), Quantity: stripe.Int64(1)}},
		Mode:              stripe.String(stripe.CheckoutSessionModeSubscription),
		SuccessURL:        stripe.String(s.cfg.StripePortalReturnURL + "?status=success"),
		CancelURL:         stripe.String(s.cfg.StripePortalReturnURL + "?status=cancel"),
		Metadata:          meta,
		SubscriptionData:  &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta},
	}
	url, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		s.logger.Error().Err(err).Str("plan", plan).Str("user_id", userID).Msg("Failed to create checkout session")
		return "", err
	}
	return url, nil
}

// CreatePortalSession returns a customer portal URL for the caller's billing owner.
func (s *StripeService) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	owner, err := s.resolveOwner(ctx, userID, "")
	if err != nil {
		return "", err
	}
	customerID := owner.customerID()
	if customerID == "" {
		return "", ErrNoCustomer
	}
	url, err := s.gateway.CreatePortalSession(ctx, customerID, s.cfg.StripePortalReturnURL)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create billing portal session")
		return "", err
	}
	return url, nil
}

// CreateSubscription starts a subscription in default_incomplete mode and
// mirrors it right away; later webhooks refresh the row.
func (s *StripeService) CreateSubscription(ctx context.Context, userID, plan string) (*SubscriptionIntent, error) {
	price, err := s.priceFor(plan)
	if err != nil {
		return nil, err
	}
	owner, err := s.resolveOwner(ctx, userID, plan)
	if err != nil {
		return nil, err
	}
	customerID, err := s.GetOrCreateCustomer(ctx, owner)
	if err != nil {
		return nil, err
	}
	ss, err := s.gateway.CreateSubscription(ctx, customerID, price, owner.metadata())
	if err != nil {
		s.logger.Error().Err(err).Str("plan", plan).Str("user_id", userID).Msg("Failed to create subscription")
		return nil, err
	}
	userCol, schoolCol := owner.mirrorOwner()
	mirror := toMirror(ss, userCol, schoolCol)
	if _, err := s.subSvc.Apply(ctx, mirror); err != nil {
		return nil, err
	}
	intent := &SubscriptionIntent{SubscriptionID: ss.ID, Status: mirror.Status}
	if ss.LatestInvoice != nil {
		intent.InvoiceID = ss.LatestInvoice.ID
	}
	return intent, nil
}

// CancelSubscription schedules the caller's current subscription to end at
// the close of the billing period.
func (s *StripeService) CancelSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	current, err := s.subSvc.GetCurrent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrSubscriptionNotFound
	}
	ss, err := s.gateway.CancelSubscription(ctx, current.StripeSubscriptionID, true)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to cancel subscription")
		return nil, err
	}
	return s.subSvc.Apply(ctx, toMirror(ss, current.UserID, current.SchoolID))
}

// ConstructEvent verifies a webhook payload against the signing secret.
func (s *StripeService) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, s.cfg.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

// HandleEvent applies a verified webhook event to the subscription mirror.
// ErrInvalidPayload marks events that will never succeed; any other error is
// worth a provider retry.
func (s *StripeService) HandleEvent(ctx context.Context, event stripe.Event) error {
	eventType := string(event.Type)
	log := s.logger.With().Str("event_id", event.ID).Str("event_type", eventType).Logger()

	claimed, err := s.dedupe.Claim(ctx, event.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Event dedupe unavailable; processing anyway")
		claimed = true
	}
	if !claimed {
		metrics.WebhookEvents.WithLabelValues(eventType, "duplicate").Inc()
		log.Info().Msg("Duplicate Stripe event skipped")
		return nil
	}

	outcome, err := s.dispatch(ctx, event, log)
	if err != nil {
		if relErr := s.dedupe.Release(ctx, event.ID); relErr != nil {
			log.Warn().Err(relErr).Msg("Failed to release event claim")
		}
		if errors.Is(err, ErrInvalidPayload) {
			metrics.WebhookEvents.WithLabelValues(eventType, "invalid").Inc()
			log.Warn().Err(err).Msg("Rejected Stripe event")
			return err
		}
		metrics.WebhookEvents.WithLabelValues(eventType, "error").Inc()
		observability.CaptureErr(err)
		log.Error().Err(err).Msg("Failed to handle Stripe event")
		return err
	}
	metrics.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
	return nil
}

func (s *StripeService) dispatch(ctx context.Context, event stripe.Event, log zerolog.Logger) (string, error) {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		ss, err := decodeSubscription(event.Data.Raw)
		if err != nil {
			return "", err
		}
		if _, err := s.syncSubscription(ctx, ss); err != nil {
			return "", err
		}
		log.Info().Str("stripe_subscription_id", ss.ID).Str("status", string(ss.Status)).Msg("Subscription synced")
		return "processed", nil

	case "customer.subscription.deleted":
		ss, err := decodeSubscription(event.Data.Raw)
		if err != nil {
			return "", err
		}
		if err := s.subSvc.Cancel(ctx, ss.ID); err != nil {
			return "", err
		}
		log.Info().Str("stripe_subscription_id", ss.ID).Msg("Subscription canceled")
		return "processed", nil

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		// stripe-go accepts a bare string as an expandable ID.
		if inv.ID == "" || inv.Object != "invoice" {
			return "", fmt.Errorf("%w: not an invoice object", ErrInvalidPayload)
		}
		subID := invoiceSubscriptionID(&inv)
		if subID == "" {
			log.Info().Str("invoice_id", inv.ID).Msg("Invoice has no subscription, skipping")
			return "skipped", nil
		}
		status := model.SubscriptionActive
		if event.Type == "invoice.payment_failed" {
			status = model.SubscriptionPastDue
		}
		existing, err := s.subs.GetByStripeID(ctx, subID)
		if err != nil {
			return "", err
		}
		if existing == nil {
			ss, err := s.gateway.GetSubscription(ctx, subID)
			if err != nil {
				return "", err
			}
			if _, err := s.syncSubscription(ctx, ss); err != nil {
				return "", err
			}
		}
		if err := s.subSvc.SetStatus(ctx, subID, status); err != nil {
			return "", err
		}
		log.Info().Str("stripe_subscription_id", subID).Str("status", string(status)).Msg("Subscription status updated from invoice")
		return "processed", nil
	}

	log.Debug().Msg("Unhandled Stripe event type")
	return "ignored", nil
}

// decodeSubscription parses a subscription event payload. stripe-go accepts a
// bare string as an expandable ID, so the object type is checked as well.
func decodeSubscription(raw json.RawMessage) (*stripe.Subscription, error) {
	var ss stripe.Subscription
	if err := json.Unmarshal(raw, &ss); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ss.ID == "" || ss.Object != "subscription" {
		return nil, fmt.Errorf("%w: not a subscription object", ErrInvalidPayload)
	}
	return &ss, nil
}

// syncSubscription upserts the mirror row for ss after resolving its owner.
func (s *StripeService) syncSubscription(ctx context.Context, ss *stripe.Subscription) (*model.Subscription, error) {
	userID, schoolID, err := s.ownerOf(ctx, ss)
	if err != nil {
		return nil, err
	}
	return s.subSvc.Apply(ctx, toMirror(ss, userID, schoolID))
}

// ownerOf resolves the owner from metadata, then the existing mirror row,
// then whichever row holds the customer id.
func (s *StripeService) ownerOf(ctx context.Context, ss *stripe.Subscription) (userID, schoolID *string, err error) {
	if id := ss.Metadata["school_id"]; id != "" {
		return nil, &id, nil
	}
	if id := ss.Metadata["user_id"]; id != "" {
		return &id, nil, nil
	}
	existing, err := s.subs.GetByStripeID(ctx, ss.ID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return existing.UserID, existing.SchoolID, nil
	}
	if ss.Customer == nil || ss.Customer.ID == "" {
		return nil, nil, fmt.Errorf("%w: subscription %s", ErrUnknownOwner, ss.ID)
	}
	customerID := ss.Customer.ID
	s.logger.Warn().Str("stripe_customer_id", customerID).Msg("Missing owner metadata; looking up by customer id")
	p, err := s.profiles.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	if p != nil {
		return &p.ID, nil, nil
	}
	school, err := s.schools.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	if school != nil {
		return nil, &school.ID, nil
	}
	return nil, nil, fmt.Errorf("%w: customer %s", ErrUnknownOwner, customerID)
}

func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		if id := inv.Parent.SubscriptionDetails.Subscription.ID; id != "" {
			return id
		}
	}
	if inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line.Subscription != nil && line.Subscription.ID != "" {
				return line.Subscription.ID
			}
		}
	}
	return ""
}

// toMirror maps a provider subscription onto a mirror row. Period and price
// come from the first item.
func toMirror(ss *stripe.Subscription, userID, schoolID *string) *model.Subscription {
	m := &model.Subscription{
		UserID:               userID,
		SchoolID:             schoolID,
		StripeSubscriptionID: ss.ID,
		Status:               model.ParseSubscriptionStatus(string(ss.Status)),
		CancelAtPeriodEnd:    ss.CancelAtPeriodEnd,
	}
	if ss.Customer != nil {
		m.StripeCustomerID = ss.Customer.ID
	}
	if ss.Items != nil && len(ss.Items.Data) > 0 {
		item := ss.Items.Data[0]
		if item.Price != nil && item.Price.ID != "" {
			price := item.Price.ID
			m.StripePriceID = &price
		}
		if item.CurrentPeriodStart > 0 {
			start := time.Unix(item.CurrentPeriodStart, 0).UTC()
			m.CurrentPeriodStart = &start
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			m.CurrentPeriodEnd = &end
		}
	}
	return m
}
