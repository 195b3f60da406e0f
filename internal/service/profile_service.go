package service

import (
	"context"
	"encoding/json"
	"fmt"

	"skytrack/internal/model"
	"skytrack/internal/repository"

	"github.com/rs/zerolog"
)

type ProfileService interface {
	Get(ctx context.Context, userID string) (*model.Profile, error)
	Update(ctx context.Context, userID string, u repository.ProfileUpdate) (*model.Profile, error)
	// SelectRole changes the caller's role. School admins that already own a
	// school are locked to SCHOOL_ADMIN.
	SelectRole(ctx context.Context, userID string, role model.Role) (*model.Profile, error)
}

type profileService struct {
	profiles repository.ProfileRepository
	schools  repository.SchoolRepository
	logger   zerolog.Logger
}

func NewProfileService(profiles repository.ProfileRepository, schools repository.SchoolRepository, logger zerolog.Logger) ProfileService {
	return &profileService{
		profiles: profiles,
		schools:  schools,
		logger:   logger.With().Str("service", "ProfileService").Logger(),
	}
}

func (s *profileService) Get(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func (s *profileService) Update(ctx context.Context, userID string, u repository.ProfileUpdate) (*model.Profile, error) {
	if u.ProgramType != nil && !u.ProgramType.Valid() {
		return nil, fmt.Errorf("invalid program type %q", *u.ProgramType)
	}
	if u.Preferences != nil && !json.Valid(u.Preferences) {
		return nil, fmt.Errorf("preferences must be valid JSON")
	}
	p, err := s.profiles.Update(ctx, userID, u)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func (s *profileService) SelectRole(ctx context.Context, userID string, role model.Role) (*model.Profile, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.Role == role {
		return current, nil
	}
	if current.Role == model.RoleSchoolAdmin {
		school, err := s.schools.GetByAdmin(ctx, userID)
		if err != nil {
			return nil, err
		}
		if school != nil {
			return nil, ErrRoleLocked
		}
	}
	p, err := s.profiles.UpdateRole(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	s.logger.Info().Str("user_id", userID).Str("role", string(role)).Msg("Role changed")
	return p, nil
}
