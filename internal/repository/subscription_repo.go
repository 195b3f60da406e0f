package repository

import (
	"context"
	"errors"
	"fmt"

	"skytrack/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository stores the local mirror of provider subscriptions.
// Rows are never hard-deleted.
type SubscriptionRepository interface {
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*model.Subscription, error)
	GetCurrentForUser(ctx context.Context, userID string) (*model.Subscription, error)
	GetCurrentForSchool(ctx context.Context, schoolID string) (*model.Subscription, error)
	// Upsert inserts or refreshes the mirror row keyed by stripe_subscription_id.
	// Ownership is fixed by the first insert.
	Upsert(ctx context.Context, s *model.Subscription) (*model.Subscription, error)
	UpdateStatus(ctx context.Context, stripeSubscriptionID string, status model.SubscriptionStatus) error
	SoftDelete(ctx context.Context, stripeSubscriptionID string, status model.SubscriptionStatus) error
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, school_id, stripe_customer_id, stripe_subscription_id, stripe_price_id,
    status, current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at, deleted_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.SchoolID,
		&s.StripeCustomerID,
		&s.StripeSubscriptionID,
		&s.StripePriceID,
		&s.Status,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DeletedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *subscriptionRepo) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`
	s, err := scanSubscription(r.pool.QueryRow(ctx, q, stripeSubscriptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch subscription %s: %w", stripeSubscriptionID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) currentFor(ctx context.Context, column, ownerID string) (*model.Subscription, error) {
	q := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE ` + column + ` = $1 AND deleted_at IS NULL
        ORDER BY (status IN ('active', 'trialing')) DESC, updated_at DESC
        LIMIT 1`
	s, err := scanSubscription(r.pool.QueryRow(ctx, q, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *subscriptionRepo) GetCurrentForUser(ctx context.Context, userID string) (*model.Subscription, error) {
	s, err := r.currentFor(ctx, "user_id", userID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription for user %s: %w", userID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) GetCurrentForSchool(ctx context.Context, schoolID string) (*model.Subscription, error) {
	s, err := r.currentFor(ctx, "school_id", schoolID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription for school %s: %w", schoolID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) Upsert(ctx context.Context, s *model.Subscription) (*model.Subscription, error) {
	q := `
        INSERT INTO subscriptions (
            user_id, school_id, stripe_customer_id, stripe_subscription_id, stripe_price_id,
            status, current_period_start, current_period_end, cancel_at_period_end
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (stripe_subscription_id) DO UPDATE
        SET stripe_customer_id   = EXCLUDED.stripe_customer_id,
            stripe_price_id      = COALESCE(EXCLUDED.stripe_price_id, subscriptions.stripe_price_id),
            status               = EXCLUDED.status,
            current_period_start = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
            current_period_end   = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
            cancel_at_period_end = EXCLUDED.cancel_at_period_end,
            updated_at           = NOW()
        RETURNING ` + subscriptionColumns
	out, err := scanSubscription(r.pool.QueryRow(ctx, q,
		s.UserID,
		s.SchoolID,
		s.StripeCustomerID,
		s.StripeSubscriptionID,
		s.StripePriceID,
		s.Status,
		s.CurrentPeriodStart,
		s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert subscription %s: %w", s.StripeSubscriptionID, err)
	}
	return out, nil
}

func (r *subscriptionRepo) UpdateStatus(ctx context.Context, stripeSubscriptionID string, status model.SubscriptionStatus) error {
	const q = `UPDATE subscriptions SET status = $2, updated_at = NOW() WHERE stripe_subscription_id = $1`
	if _, err := r.pool.Exec(ctx, q, stripeSubscriptionID, status); err != nil {
		return fmt.Errorf("update status for subscription %s: %w", stripeSubscriptionID, err)
	}
	return nil
}

func (r *subscriptionRepo) SoftDelete(ctx context.Context, stripeSubscriptionID string, status model.SubscriptionStatus) error {
	const q = `
        UPDATE subscriptions
        SET status = $2, deleted_at = COALESCE(deleted_at, NOW()), updated_at = NOW()
        WHERE stripe_subscription_id = $1`
	if _, err := r.pool.Exec(ctx, q, stripeSubscriptionID, status); err != nil {
		return fmt.Errorf("soft delete subscription %s: %w", stripeSubscriptionID, err)
	}
	return nil
}
