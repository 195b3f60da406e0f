package handler

import (
	"context"
	"encoding/json"
	"errors"

	"skytrack/internal/api/v1/dto"
	"skytrack/internal/api/v1/operation"
	"skytrack/internal/model"
	"skytrack/internal/repository"
	"skytrack/internal/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type ProfileHandler struct {
	profiles  service.ProfileService
	flags     service.FlagService
	analytics service.Analytics
	validate  *validator.Validate
	logger    zerolog.Logger
}

func NewProfileHandler(profiles service.ProfileService, flags service.FlagService, analytics service.Analytics, validate *validator.Validate, logger zerolog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, flags: flags, analytics: analytics, validate: validate, logger: logger}
}

func toProfileDTO(p *model.Profile) dto.ProfileResponseDTO {
	out := dto.ProfileResponseDTO{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.Name(),
		Role:        string(p.Role),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.ProgramType != nil {
		out.ProgramType = string(*p.ProgramType)
	}
	if len(p.Preferences) > 0 {
		_ = json.Unmarshal(p.Preferences, &out.Preferences)
	}
	return out
}

// GetProfile returns the caller's profile
func (h *ProfileHandler) GetProfile(ctx context.Context, input *operation.GetProfileInput) (*operation.GetProfileOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	p, err := h.profiles.Get(ctx, user.ID)
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			return nil, huma.Error404NotFound("Profile not found")
		}
		return nil, huma.Error500InternalServerError("Failed to get profile", err)
	}
	return &operation.GetProfileOutput{Body: toProfileDTO(p)}, nil
}

// UpdateProfile changes display name, program type or preferences
func (h *ProfileHandler) UpdateProfile(ctx context.Context, input *operation.UpdateProfileInput) (*operation.UpdateProfileOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.validate.Struct(input.Body); err != nil {
		return nil, huma.Error400BadRequest("Invalid profile update", err)
	}

	update := repository.ProfileUpdate{DisplayName: input.Body.DisplayName}
	if input.Body.ProgramType != nil {
		pt := model.ProgramType(*input.Body.ProgramType)
		update.ProgramType = &pt
	}
	if input.Body.Preferences != nil {
		raw, err := json.Marshal(input.Body.Preferences)
		if err != nil {
			return nil, huma.Error400BadRequest("Invalid preferences", err)
		}
		update.Preferences = raw
	}

	p, err := h.profiles.Update(ctx, user.ID, update)
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			return nil, huma.Error404NotFound("Profile not found")
		}
		h.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to update profile")
		return nil, huma.Error500InternalServerError("Failed to update profile", err)
	}
	return &operation.UpdateProfileOutput{Body: toProfileDTO(p)}, nil
}

// SelectRole switches the caller's role
func (h *ProfileHandler) SelectRole(ctx context.Context, input *operation.SelectRoleInput) (*operation.SelectRoleOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.validate.Struct(input.Body); err != nil {
		return nil, huma.Error400BadRequest("Invalid role", err)
	}
	p, err := h.profiles.SelectRole(ctx, user.ID, model.Role(input.Body.Role))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidRole):
		return nil, huma.Error400BadRequest("Invalid role")
	case errors.Is(err, service.ErrRoleLocked):
		return nil, huma.Error409Conflict("Role can no longer be changed")
	case errors.Is(err, service.ErrProfileNotFound):
		return nil, huma.Error404NotFound("Profile not found")
	default:
		return nil, huma.Error500InternalServerError("Failed to change role", err)
	}
	h.analytics.Capture(user.ID, "role_selected", map[string]interface{}{"role": input.Body.Role})
	return &operation.SelectRoleOutput{Body: toProfileDTO(p)}, nil
}

// GetFlag evaluates a feature flag for the caller
func (h *ProfileHandler) GetFlag(ctx context.Context, input *operation.GetFlagInput) (*operation.GetFlagOutput, error) {
	user, err := getUserFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return &operation.GetFlagOutput{Body: dto.FlagResponseDTO{
		Key:     input.Key,
		Enabled: h.flags.IsEnabled(ctx, input.Key, user.ID),
	}}, nil
}
