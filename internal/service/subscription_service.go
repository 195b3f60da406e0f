package service

import (
	"context"

	"skytrack/internal/model"
	"skytrack/internal/repository"

	"github.com/rs/zerolog"
)

// SubscriptionService reads the local subscription mirror.
type SubscriptionService interface {
	// GetCurrent returns the subscription that applies to the user: the
	// school's for a school admin, the user's own otherwise. Nil when none.
	GetCurrent(ctx context.Context, userID string) (*model.Subscription, error)
	// Apply writes a provider subscription into the mirror.
	Apply(ctx context.Context, sub *model.Subscription) (*model.Subscription, error)
	Cancel(ctx context.Context, stripeSubscriptionID string) error
	SetStatus(ctx context.Context, stripeSubscriptionID string, status model.SubscriptionStatus) error
}

type subscriptionService struct {
	subs     repository.SubscriptionRepository
	profiles repository.ProfileRepository
	schools  repository.SchoolRepository
	logger   zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionService with a scoped logger.
func NewSubscriptionService(subs repository.SubscriptionRepository, profiles repository.ProfileRepository, schools repository.SchoolRepository, logger zerolog.Logger) SubscriptionService {
	return &subscriptionService{
		subs:     subs,
		profiles: profiles,
		schools:  schools,
		logger:   logger.With().Str("service", "SubscriptionService").Logger(),
	}
}

func (s *subscriptionService) GetCurrent(ctx context.Context, userID string) (*model.Subscription, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch profile for subscription")
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	if p.Role == model.RoleSchoolAdmin {
		school, err := s.schools.GetByAdmin(ctx, userID)
		if err != nil {
			return nil, err
		}
		if school != nil {
			return s.subs.GetCurrentForSchool(ctx, school.ID)
		}
	}
	sub, err := s.subs.GetCurrentForUser(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch subscription")
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionService) Apply(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	out, err := s.subs.Upsert(ctx, sub)
	if err != nil {
		s.logger.Error().Err(err).Str("stripe_subscription_id", sub.StripeSubscriptionID).Str("status", string(sub.Status)).Msg("Failed to upsert subscription")
		return nil, err
	}
	return out, nil
}

func (s *subscriptionService) Cancel(ctx context.Context, stripeSubscriptionID string) error {
	if err := s.subs.SoftDelete(ctx, stripeSubscriptionID, model.SubscriptionCanceled); err != nil {
		s.logger.Error().Err(err).Str("stripe_subscription_id", stripeSubscriptionID).Msg("Failed to cancel subscription")
		return err
	}
	return nil
}

func (s *subscriptionService) SetStatus(ctx context.Context, stripeSubscriptionID string, status model.SubscriptionStatus) error {
	if err := s.subs.UpdateStatus(ctx, stripeSubscriptionID, status); err != nil {
		s.logger.Error().Err(err).Str("stripe_subscription_id", stripeSubscriptionID).Msg("Failed to update subscription status")
		return err
	}
	return nil
}
