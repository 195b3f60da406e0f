package service

import (
	"context"
	"fmt"

	"skytrack/internal/metrics"
	"skytrack/internal/model"
	"skytrack/internal/observability"
	"skytrack/internal/repository"
	"skytrack/internal/supabase"

	"github.com/rs/zerolog"
)

// ProvisioningService lazily creates the rows a dashboard needs on first visit.
//
// Conflict rule: a row that already exists is never modified. Concurrent
// first visits race on the table's unique key; the loser gets the winner's
// row back from the same statement, so no application lock is taken.
type ProvisioningService interface {
	// EnsureProfile returns the user's profile, inserting a default one with
	// role expected when none exists.
	EnsureProfile(ctx context.Context, user *supabase.User, expected model.Role) (*model.Profile, error)
	// EnsureSchool returns the school owned by admin, inserting one named
	// from sign-up metadata when none exists.
	EnsureSchool(ctx context.Context, user *supabase.User, admin *model.Profile) (*model.School, error)
}

type provisioningService struct {
	profiles repository.ProfileRepository
	schools  repository.SchoolRepository
	logger   zerolog.Logger
}

func NewProvisioningService(profiles repository.ProfileRepository, schools repository.SchoolRepository, logger zerolog.Logger) ProvisioningService {
	return &provisioningService{
		profiles: profiles,
		schools:  schools,
		logger:   logger.With().Str("service", "ProvisioningService").Logger(),
	}
}

// DefaultProfile builds the profile inserted for a user seen for the first time.
func DefaultProfile(user *supabase.User, role model.Role) *model.Profile {
	p := &model.Profile{
		ID:          user.ID,
		Email:       user.Email,
		Role:        role,
		Preferences: []byte(`{}`),
	}
	if name := user.Metadata("full_name", "name", "display_name"); name != "" {
		p.DisplayName = &name
	}
	if pt := model.ProgramType(user.Metadata("program_type")); pt.Valid() {
		p.ProgramType = &pt
	}
	return p
}

// DefaultSchool builds the school inserted for a school admin seen for the first time.
func DefaultSchool(user *supabase.User, admin *model.Profile) *model.School {
	s := &model.School{
		AdminUserID: admin.ID,
		Name:        model.DefaultSchoolName,
		ProgramType: model.ProgramPart61,
	}
	if name := user.Metadata("school_name"); name != "" {
		s.Name = name
	}
	if pt := model.ProgramType(user.Metadata("program_type")); pt.Valid() {
		s.ProgramType = pt
	}
	if user.Email != "" {
		email := user.Email
		s.Email = &email
	}
	return s
}

func (s *provisioningService) EnsureProfile(ctx context.Context, user *supabase.User, expected model.Role) (*model.Profile, error) {
	existing, err := s.profiles.GetByID(ctx, user.ID)
	if err != nil {
		return nil, s.fail(user.ID, fmt.Errorf("read profile: %w", err))
	}
	if existing != nil {
		metrics.ProfileProvisions.WithLabelValues("existing").Inc()
		return existing, nil
	}

	p, err := s.profiles.Ensure(ctx, DefaultProfile(user, expected))
	if err != nil {
		return nil, s.fail(user.ID, err)
	}
	if p.DeletedAt != nil {
		// The id belongs to a soft-deleted profile; it is not revived here.
		metrics.ProfileProvisions.WithLabelValues("deleted").Inc()
		return nil, ErrProfileNotFound
	}
	metrics.ProfileProvisions.WithLabelValues("created").Inc()
	s.logger.Info().Str("user_id", user.ID).Str("role", string(p.Role)).Msg("Provisioned profile")
	return p, nil
}

func (s *provisioningService) EnsureSchool(ctx context.Context, user *supabase.User, admin *model.Profile) (*model.School, error) {
	existing, err := s.schools.GetByAdmin(ctx, admin.ID)
	if err != nil {
		return nil, s.fail(admin.ID, fmt.Errorf("read school: %w", err))
	}
	if existing != nil {
		return existing, nil
	}
	school, err := s.schools.EnsureForAdmin(ctx, DefaultSchool(user, admin))
	if err != nil {
		return nil, s.fail(admin.ID, err)
	}
	if school.DeletedAt != nil {
		return nil, ErrSchoolNotFound
	}
	s.logger.Info().Str("user_id", admin.ID).Str("school_id", school.ID).Msg("Provisioned school")
	return school, nil
}

func (s *provisioningService) fail(userID string, err error) error {
	metrics.ProfileProvisions.WithLabelValues("error").Inc()
	observability.CaptureErr(err)
	s.logger.Error().Err(err).Str("user_id", userID).Msg("Provisioning failed")
	return err
}
