package dto

import "time"

type ProfileResponseDTO struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name"`
	Role        string         `json:"role" enum:"STUDENT,CFI,SCHOOL_ADMIN"`
	ProgramType string         `json:"program_type,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type ProfileUpdateDTO struct {
	DisplayName *string        `json:"display_name,omitempty" validate:"omitempty,min=1,max=100" maxLength:"100" doc:"Name shown on the dashboard"`
	ProgramType *string        `json:"program_type,omitempty" validate:"omitempty,oneof=PART_61 PART_141" enum:"PART_61,PART_141" doc:"FAA training program"`
	Preferences map[string]any `json:"preferences,omitempty" doc:"Free-form UI preferences"`
}

type RoleSelectDTO struct {
	Role string `json:"role" validate:"required,oneof=STUDENT CFI SCHOOL_ADMIN" enum:"STUDENT,CFI,SCHOOL_ADMIN" doc:"Role to switch to"`
}
