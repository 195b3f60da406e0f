package repository

import (
	"context"
	"errors"
	"fmt"

	"skytrack/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SchoolRepository interface {
	GetByID(ctx context.Context, id string) (*model.School, error)
	GetByAdmin(ctx context.Context, adminUserID string) (*model.School, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*model.School, error)
	// EnsureForAdmin inserts s unless the admin already owns a school, in
	// which case the stored school is returned untouched.
	EnsureForAdmin(ctx context.Context, s *model.School) (*model.School, error)
	UpdateStripeCustomerID(ctx context.Context, id, customerID string) error
}

type schoolRepo struct {
	pool *pgxpool.Pool
}

func NewSchoolRepo(pool *pgxpool.Pool) SchoolRepository {
	return &schoolRepo{pool: pool}
}

const schoolColumns = `id, admin_user_id, name, program_type, description, phone, email, website,
    address_line1, address_line2, city, state, postal_code, country, stripe_customer_id,
    created_at, updated_at, deleted_at`

func scanSchool(row pgx.Row) (*model.School, error) {
	var s model.School
	if err := row.Scan(
		&s.ID, &s.AdminUserID, &s.Name, &s.ProgramType, &s.Description, &s.Phone, &s.Email, &s.Website,
		&s.AddressLine1, &s.AddressLine2, &s.City, &s.State, &s.PostalCode, &s.Country, &s.StripeCustomerID,
		&s.CreatedAt, &s.UpdatedAt, &s.DeletedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *schoolRepo) getOne(ctx context.Context, where string, arg any) (*model.School, error) {
	q := `SELECT ` + schoolColumns + ` FROM schools WHERE ` + where + ` AND deleted_at IS NULL`
	s, err := scanSchool(r.pool.QueryRow(ctx, q, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *schoolRepo) GetByID(ctx context.Context, id string) (*model.School, error) {
	s, err := r.getOne(ctx, "id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("fetch school %s: %w", id, err)
	}
	return s, nil
}

func (r *schoolRepo) GetByAdmin(ctx context.Context, adminUserID string) (*model.School, error) {
	s, err := r.getOne(ctx, "admin_user_id = $1", adminUserID)
	if err != nil {
		return nil, fmt.Errorf("fetch school for admin %s: %w", adminUserID, err)
	}
	return s, nil
}

func (r *schoolRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*model.School, error) {
	s, err := r.getOne(ctx, "stripe_customer_id = $1", customerID)
	if err != nil {
		return nil, fmt.Errorf("fetch school by stripe customer %s: %w", customerID, err)
	}
	return s, nil
}

func (r *schoolRepo) EnsureForAdmin(ctx context.Context, s *model.School) (*model.School, error) {
	q := `
        INSERT INTO schools (admin_user_id, name, program_type, email)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (admin_user_id) DO UPDATE SET admin_user_id = schools.admin_user_id
        RETURNING ` + schoolColumns
	out, err := scanSchool(r.pool.QueryRow(ctx, q, s.AdminUserID, s.Name, s.ProgramType, s.Email))
	if err != nil {
		return nil, fmt.Errorf("ensure school for admin %s: %w", s.AdminUserID, err)
	}
	return out, nil
}

func (r *schoolRepo) UpdateStripeCustomerID(ctx context.Context, id, customerID string) error {
	const q = `UPDATE schools SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, customerID); err != nil {
		return fmt.Errorf("store stripe customer id for school %s: %w", id, err)
	}
	return nil
}
