package operation

import "skytrack/internal/api/v1/dto"

type GetProfileInput struct {
	// No input needed - user comes from the session
}

type GetProfileOutput struct {
	Body dto.ProfileResponseDTO `json:"body"`
}

type UpdateProfileInput struct {
	Body dto.ProfileUpdateDTO `json:"body"`
}

type UpdateProfileOutput struct {
	Body dto.ProfileResponseDTO `json:"body"`
}

type SelectRoleInput struct {
	Body dto.RoleSelectDTO `json:"body"`
}

type SelectRoleOutput struct {
	Body dto.ProfileResponseDTO `json:"body"`
}

type GetFlagInput struct {
	Key string `path:"key" maxLength:"100" doc:"Feature flag key"`
}

type GetFlagOutput struct {
	Body dto.FlagResponseDTO `json:"body"`
}
