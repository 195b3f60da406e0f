package model

import "time"

// DefaultSchoolName is used when sign-up metadata carries no school name.
const DefaultSchoolName = "Your Flight School"

// School is a flight school owned by exactly one SCHOOL_ADMIN profile.
type School struct {
	ID               string      `db:"id" json:"id"`
	AdminUserID      string      `db:"admin_user_id" json:"admin_user_id"`
	Name             string      `db:"name" json:"name"`
	ProgramType      ProgramType `db:"program_type" json:"program_type"`
	Description      *string     `db:"description" json:"description,omitempty"`
	Phone            *string     `db:"phone" json:"phone,omitempty"`
	Email            *string     `db:"email" json:"email,omitempty"`
	Website          *string     `db:"website" json:"website,omitempty"`
	AddressLine1     *string     `db:"address_line1" json:"address_line1,omitempty"`
	AddressLine2     *string     `db:"address_line2" json:"address_line2,omitempty"`
	City             *string     `db:"city" json:"city,omitempty"`
	State            *string     `db:"state" json:"state,omitempty"`
	PostalCode       *string     `db:"postal_code" json:"postal_code,omitempty"`
	Country          *string     `db:"country" json:"country,omitempty"`
	StripeCustomerID *string     `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time  `db:"deleted_at" json:"deleted_at,omitempty"`
}
