package model

import "time"

// SubscriptionStatus mirrors the payments provider's subscription status.
type SubscriptionStatus string

const (
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionCanceled          SubscriptionStatus = "canceled"
	SubscriptionIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionTrialing          SubscriptionStatus = "trialing"
	SubscriptionUnpaid            SubscriptionStatus = "unpaid"
)

// ParseSubscriptionStatus maps a provider status onto the stored enumeration.
// Statuses the table does not model (e.g. "paused") map to unpaid.
func ParseSubscriptionStatus(s string) SubscriptionStatus {
	switch st := SubscriptionStatus(s); st {
	case SubscriptionActive, SubscriptionCanceled, SubscriptionIncomplete, SubscriptionIncompleteExpired,
		SubscriptionPastDue, SubscriptionTrialing, SubscriptionUnpaid:
		return st
	}
	return SubscriptionUnpaid
}

// Subscription is attached to a user or a school, never both.
type Subscription struct {
	ID                   string             `db:"id" json:"id"`
	UserID               *string            `db:"user_id" json:"user_id,omitempty"`
	SchoolID             *string            `db:"school_id" json:"school_id,omitempty"`
	StripeCustomerID     string             `db:"stripe_customer_id" json:"stripe_customer_id"`
	StripeSubscriptionID string             `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	StripePriceID        *string            `db:"stripe_price_id" json:"stripe_price_id,omitempty"`
	Status               SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodStart   *time.Time         `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool               `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updated_at"`
	DeletedAt            *time.Time         `db:"deleted_at" json:"deleted_at,omitempty"`
}

// IsEntitled reports whether the subscription grants paid features now.
func (s *Subscription) IsEntitled(now time.Time) bool {
	if s == nil || s.DeletedAt != nil {
		return false
	}
	switch s.Status {
	case SubscriptionActive, SubscriptionTrialing:
	default:
		return false
	}
	return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now)
}
