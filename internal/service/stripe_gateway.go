package service

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	billingsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
)

// StripeGateway is the slice of the Stripe API the billing code calls.
type StripeGateway interface {
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*stripe.Subscription, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

type stripeGateway struct{}

// NewStripeGateway sets the global Stripe key. An empty key is a startup error.
func NewStripeGateway(secretKey string) (StripeGateway, error) {
	if secretKey == "" {
		return nil, ErrStripeNotConfigured
	}
	stripe.Key = secretKey
	return stripeGateway{}, nil
}

func (stripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{
		Params:   stripe.Params{Context: ctx},
		Email:    stripe.String(email),
		Metadata: metadata,
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	cust, err := customerpkg.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

func (stripeGateway) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	sub, err := subscriptionpkg.Get(id, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, fmt.Errorf("fetch stripe subscription %s: %w", id, err)
	}
	return sub, nil
}

func (stripeGateway) CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params:          stripe.Params{Context: ctx},
		Customer:        stripe.String(customerID),
		Items:           []*stripe.SubscriptionItemsParams{{Price: stripe.String(priceID)}},
		Metadata:        metadata,
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	sub, err := subscriptionpkg.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe subscription: %w", err)
	}
	return sub, nil
}

func (stripeGateway) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (*stripe.Subscription, error) {
	if atPeriodEnd {
		sub, err := subscriptionpkg.Update(id, &stripe.SubscriptionParams{
			Params:            stripe.Params{Context: ctx},
			CancelAtPeriodEnd: stripe.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("schedule cancel for stripe subscription %s: %w", id, err)
		}
		return sub, nil
	}
	sub, err := subscriptionpkg.Cancel(id, &stripe.SubscriptionCancelParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, fmt.Errorf("cancel stripe subscription %s: %w", id, err)
	}
	return sub, nil
}

func (stripeGateway) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (string, error) {
	params.Context = ctx
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (stripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	sess, err := billingsession.New(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}
