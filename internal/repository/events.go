package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cardfolio/cardfolio/internal/model"
)

// EventRepository provides database access for view and social-click events.
type EventRepository struct {
	repo *Repository
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(repo *Repository) *EventRepository {
	return &EventRepository{repo: repo}
}

// BulkInsertViews inserts view events with idempotency via ON CONFLICT DO NOTHING.
func (r *EventRepository) BulkInsertViews(ctx context.Context, events []*model.ViewEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO profile_views (
			id, event_id, profile_id, viewer_address, user_agent, referrer, source,
			country, city, latitude, longitude, viewed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, event := range events {
		batch.Queue(query,
			event.ID,
			event.EventID,
			event.ProfileID,
			nullableString(event.ViewerAddress),
			nullableString(event.UserAgent),
			nullableString(event.Referrer),
			nullableString(event.Source),
			event.Country,
			event.City,
			event.Latitude,
			event.Longitude,
			event.ViewedAt,
		)
	}

	return r.sendBatch(ctx, batch, len(events))
}

// BulkInsertSocialClicks inserts social-click events with idempotency via
// ON CONFLICT DO NOTHING.
func (r *EventRepository) BulkInsertSocialClicks(ctx context.Context, events []*model.SocialClickEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO social_clicks (id, event_id, profile_id, platform, clicked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, event := range events {
		batch.Queue(query,
			event.ID,
			event.EventID,
			event.ProfileID,
			event.Platform,
			event.ClickedAt,
		)
	}

	return r.sendBatch(ctx, batch, len(events))
}

func (r *EventRepository) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < n; i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert event %d: %w", i, err)
		}
	}

	return nil
}

// The projections below all share the same scope: rows of the given
// profiles whose timestamp lies in [start, end].

// CountViews returns the number of view rows in scope.
func (r *EventRepository) CountViews(ctx context.Context, profileIDs []string, start, end time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM profile_views
		WHERE profile_id = ANY($1) AND viewed_at BETWEEN $2 AND $3
	`

	var count int64
	if err := r.repo.pool.QueryRow(ctx, query, profileIDs, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("count views: %w", err)
	}
	return count, nil
}

// ListViewerAddresses returns the viewer address of every view row in scope.
func (r *EventRepository) ListViewerAddresses(ctx context.Context, profileIDs []string, start, end time.Time) ([]string, error) {
	query := `
		SELECT COALESCE(viewer_address, '')
		FROM profile_views
		WHERE profile_id = ANY($1) AND viewed_at BETWEEN $2 AND $3
	`
	return r.collectStrings(ctx, "viewer addresses", query, profileIDs, start, end)
}

// ListUserAgents returns the user agent of every view row in scope.
func (r *EventRepository) ListUserAgents(ctx context.Context, profileIDs []string, start, end time.Time) ([]string, error) {
	query := `
		SELECT COALESCE(user_agent, '')
		FROM profile_views
		WHERE profile_id = ANY($1) AND viewed_at BETWEEN $2 AND $3
	`
	return r.collectStrings(ctx, "user agents", query, profileIDs, start, end)
}

// ListReferrerSources returns the referrer and source of every view row in scope.
func (r *EventRepository) ListReferrerSources(ctx context.Context, profileIDs []string, start, end time.Time) ([]model.ReferrerSource, error) {
	query := `
		SELECT referrer, source
		FROM profile_views
		WHERE profile_id = ANY($1) AND viewed_at BETWEEN $2 AND $3
	`

	rows, err := r.repo.pool.Query(ctx, query, profileIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("query referrers: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ReferrerSource, error) {
		var rs model.ReferrerSource
		err := row.Scan(&rs.Referrer, &rs.Source)
		return rs, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect referrers: %w", err)
	}
	return out, nil
}

// ListGeoRows returns the geo columns of every view row in scope.
func (r *EventRepository) ListGeoRows(ctx context.Context, profileIDs []string, start, end time.Time) ([]model.GeoRow, error) {
	query := `
		SELECT country, city, latitude, longitude
		FROM profile_views
		WHERE profile_id = ANY($1) AND viewed_at BETWEEN $2 AND $3
	`

	rows, err := r.repo.pool.Query(ctx, query, profileIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("query geo rows: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.GeoRow, error) {
		var g model.GeoRow
		err := row.Scan(&g.Country, &g.City, &g.Latitude, &g.Longitude)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect geo rows: %w", err)
	}
	return out, nil
}

// ListViewTimestamps returns the timestamp of every view row in scope.
func (r *EventRepository) ListViewTimestamps(ctx context.Context, profileIDs []string, start, end time.Time) ([]time.Time, error) {
	query := `
		SELECT viewed_at
		FROM profile_views
		WHERE profile_id = ANY($1) AND viewed_at BETWEEN $2 AND $3
	`

	rows, err := r.repo.pool.Query(ctx, query, profileIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("query view timestamps: %w", err)
	}

	out, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, fmt.Errorf("collect view timestamps: %w", err)
	}
	return out, nil
}

// ListSocialPlatforms returns the platform of every social-click row in scope.
func (r *EventRepository) ListSocialPlatforms(ctx context.Context, profileIDs []string, start, end time.Time) ([]string, error) {
	query := `
		SELECT COALESCE(platform, '')
		FROM social_clicks
		WHERE profile_id = ANY($1) AND clicked_at BETWEEN $2 AND $3
	`
	return r.collectStrings(ctx, "social platforms", query, profileIDs, start, end)
}

func (r *EventRepository) collectStrings(ctx context.Context, what, query string, profileIDs []string, start, end time.Time) ([]string, error) {
	rows, err := r.repo.pool.Query(ctx, query, profileIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}

	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", what, err)
	}
	return out, nil
}
