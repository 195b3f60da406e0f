package repository

import (
	"context"
	"errors"
	"fmt"

	"skytrack/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileUpdate carries the user-editable profile fields. Nil fields are left as stored.
type ProfileUpdate struct {
	DisplayName *string
	ProgramType *model.ProgramType
	Preferences []byte
}

type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*model.Profile, error)
	// Ensure inserts p unless a row with the same id exists; an existing row
	// is returned untouched.
	Ensure(ctx context.Context, p *model.Profile) (*model.Profile, error)
	Update(ctx context.Context, id string, u ProfileUpdate) (*model.Profile, error)
	UpdateRole(ctx context.Context, id string, role model.Role) (*model.Profile, error)
	UpdateStripeCustomerID(ctx context.Context, id, customerID string) error
}

type profileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepo{pool: pool}
}

const profileColumns = `id, display_name, email, role, program_type, preferences, stripe_customer_id, created_at, updated_at, deleted_at`

func scanProfile(row pgx.Row) (*model.Profile, error) {
	var p model.Profile
	if err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.Email,
		&p.Role,
		&p.ProgramType,
		&p.Preferences,
		&p.StripeCustomerID,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *profileRepo) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1 AND deleted_at IS NULL`
	p, err := scanProfile(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch profile %s: %w", id, err)
	}
	return p, nil
}

func (r *profileRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*model.Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE stripe_customer_id = $1 AND deleted_at IS NULL`
	p, err := scanProfile(r.pool.QueryRow(ctx, q, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch profile by stripe customer %s: %w", customerID, err)
	}
	return p, nil
}

func (r *profileRepo) Ensure(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	prefs := p.Preferences
	if len(prefs) == 0 {
		prefs = []byte(`{}`)
	}
	// The no-op DO UPDATE makes RETURNING yield the stored row on conflict.
	q := `
        INSERT INTO profiles (id, display_name, email, role, program_type, preferences)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET id = profiles.id
        RETURNING ` + profileColumns
	out, err := scanProfile(r.pool.QueryRow(ctx, q, p.ID, p.DisplayName, p.Email, p.Role, p.ProgramType, prefs))
	if err != nil {
		return nil, fmt.Errorf("ensure profile %s: %w", p.ID, err)
	}
	return out, nil
}

func (r *profileRepo) Update(ctx context.Context, id string, u ProfileUpdate) (*model.Profile, error) {
	q := `
        UPDATE profiles
        SET display_name = COALESCE($2, display_name),
            program_type = COALESCE($3, program_type),
            preferences  = COALESCE($4::jsonb, preferences),
            updated_at   = NOW()
        WHERE id = $1 AND deleted_at IS NULL
        RETURNING ` + profileColumns
	var prefs any
	if u.Preferences != nil {
		prefs = string(u.Preferences)
	}
	p, err := scanProfile(r.pool.QueryRow(ctx, q, id, u.DisplayName, u.ProgramType, prefs))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update profile %s: %w", id, err)
	}
	return p, nil
}

func (r *profileRepo) UpdateRole(ctx context.Context, id string, role model.Role) (*model.Profile, error) {
	q := `UPDATE profiles SET role = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL RETURNING ` + profileColumns
	p, err := scanProfile(r.pool.QueryRow(ctx, q, id, role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update role for profile %s: %w", id, err)
	}
	return p, nil
}

func (r *profileRepo) UpdateStripeCustomerID(ctx context.Context, id, customerID string) error {
	const q = `UPDATE profiles SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, customerID); err != nil {
		return fmt.Errorf("store stripe customer id for profile %s: %w", id, err)
	}
	return nil
}
