package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cardfolio/cardfolio/internal/model"
)

// Common errors for profile repository operations.
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrSlugExists      = errors.New("slug already exists")
)

// CreateProfile inserts a new profile.
func (r *Repository) CreateProfile(ctx context.Context, profile *model.Profile) error {
	query := `
		INSERT INTO profiles (id, owner_user_id, slug, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		profile.ID,
		profile.OwnerUserID,
		profile.Slug,
		nullableString(profile.DisplayName),
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}

	return nil
}

// GetProfileByID retrieves a profile by its ID.
func (r *Repository) GetProfileByID(ctx context.Context, id string) (*model.Profile, error) {
	query := `
		SELECT id, owner_user_id, slug, COALESCE(display_name, ''), created_at, updated_at
		FROM profiles
		WHERE id = $1
	`

	var p model.Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.OwnerUserID,
		&p.Slug,
		&p.DisplayName,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &p, nil
}

// ListProfileIDsByOwner returns the IDs of every profile owned by the user,
// oldest first. A user without profiles yields an empty slice.
func (r *Repository) ListProfileIDsByOwner(ctx context.Context, ownerUserID string) ([]string, error) {
	query := `
		SELECT id
		FROM profiles
		WHERE owner_user_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("query profiles by owner: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect profile ids: %w", err)
	}

	return ids, nil
}

// nullableString returns nil for empty strings.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
