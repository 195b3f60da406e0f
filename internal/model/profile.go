package model

import (
	"encoding/json"
	"time"
)

// Role gates which dashboard a user lands on.
type Role string

const (
	RoleStudent     Role = "STUDENT"
	RoleCFI         Role = "CFI"
	RoleSchoolAdmin Role = "SCHOOL_ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleCFI, RoleSchoolAdmin:
		return true
	}
	return false
}

// ProgramType is the FAA training program a student or school follows.
type ProgramType string

const (
	ProgramPart61  ProgramType = "PART_61"
	ProgramPart141 ProgramType = "PART_141"
)

func (p ProgramType) Valid() bool {
	return p == ProgramPart61 || p == ProgramPart141
}

// Profile is the first-party record for an authenticated user, keyed by the
// auth backend's user id.
type Profile struct {
	ID               string          `db:"id" json:"id"`
	DisplayName      *string         `db:"display_name" json:"display_name,omitempty"`
	Email            string          `db:"email" json:"email"`
	Role             Role            `db:"role" json:"role"`
	ProgramType      *ProgramType    `db:"program_type" json:"program_type,omitempty"`
	Preferences      json.RawMessage `db:"preferences" json:"preferences"`
	StripeCustomerID *string         `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Name returns the display name or the email when no name is set.
func (p *Profile) Name() string {
	if p.DisplayName != nil && *p.DisplayName != "" {
		return *p.DisplayName
	}
	return p.Email
}
