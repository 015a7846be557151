package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cardfolio/cardfolio/internal/metrics"
	"github.com/cardfolio/cardfolio/internal/model"
	"github.com/cardfolio/cardfolio/internal/repository"
)

// Service errors.
var (
	ErrUserIDRequired = errors.New("user id is required")
	ErrNoProfiles     = errors.New("no profiles found")
)

// ProfileStore resolves caller identifiers to profiles.
type ProfileStore interface {
	ListProfileIDsByOwner(ctx context.Context, ownerUserID string) ([]string, error)
	// GetProfileByID returns repository.ErrProfileNotFound when the
	// profile does not exist.
	GetProfileByID(ctx context.Context, id string) (*model.Profile, error)
}

// EventStore provides the independent column projections the report is
// built from. Every method filters on profile_id IN profileIDs and the
// event timestamp within [start, end].
type EventStore interface {
	CountViews(ctx context.Context, profileIDs []string, start, end time.Time) (int64, error)
	ListViewerAddresses(ctx context.Context, profileIDs []string, start, end time.Time) ([]string, error)
	ListUserAgents(ctx context.Context, profileIDs []string, start, end time.Time) ([]string, error)
	ListReferrerSources(ctx context.Context, profileIDs []string, start, end time.Time) ([]model.ReferrerSource, error)
	ListGeoRows(ctx context.Context, profileIDs []string, start, end time.Time) ([]model.GeoRow, error)
	ListViewTimestamps(ctx context.Context, profileIDs []string, start, end time.Time) ([]time.Time, error)
	ListSocialPlatforms(ctx context.Context, profileIDs []string, start, end time.Time) ([]string, error)
}

// Fetch names used in logs and metrics.
const (
	fetchTotalViews      = "total_views"
	fetchViewerAddresses = "viewer_addresses"
	fetchUserAgents      = "user_agents"
	fetchReferrers       = "referrers"
	fetchGeo             = "geo"
	fetchTimestamps      = "timestamps"
	fetchSocialClicks    = "social_clicks"
)

// Query is the input of an aggregation run.
type Query struct {
	UserID string
	Period string
}

// Service builds profile analytics reports.
type Service struct {
	profiles ProfileStore
	events   EventStore
	logger   *slog.Logger
	metrics  metrics.Recorder
	now      func() time.Time
}

// NewService creates a new analytics Service.
func NewService(profiles ProfileStore, events EventStore, logger *slog.Logger, recorder metrics.Recorder) *Service {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Service{
		profiles: profiles,
		events:   events,
		logger:   logger.With("component", "analytics.service"),
		metrics:  recorder,
		now:      time.Now,
	}
}

// ResolveProfiles maps a user id or a profile id to the profile ids in
// scope. All profiles owned by the user are returned; when there are
// none the identifier is tried as a profile id. Only a failure of that
// second lookup other than "not found" is returned as an error.
func (s *Service) ResolveProfiles(ctx context.Context, id string) ([]string, error) {
	if id == "" {
		return nil, ErrUserIDRequired
	}

	// A failed ownership lookup falls through to the profile id path.
	owned, err := s.profiles.ListProfileIDsByOwner(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "owner profile lookup failed", "user_id", id, "error", err)
	}
	if len(owned) > 0 {
		return owned, nil
	}

	profile, err := s.profiles.GetProfileByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, ErrNoProfiles
		}
		return nil, fmt.Errorf("get profile by id: %w", err)
	}
	if profile == nil {
		return nil, ErrNoProfiles
	}

	return []string{profile.ID}, nil
}

// Aggregate builds the analytics report for the query.
//
// The seven fetches run concurrently and independently: a fetch that fails
// is logged and degrades its part of the report to zero or empty, it never
// fails the request. Only validation, identity resolution and unexpected
// errors are returned.
func (s *Service) Aggregate(ctx context.Context, q Query) (*model.AnalyticsResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveAnalyticsDuration(time.Since(start))
	}()

	profileIDs, err := s.ResolveProfiles(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	window := ResolveWindow(q.Period, s.now().UTC())

	var (
		totalViews int64
		addresses  []string
		userAgents []string
		referrers  []model.ReferrerSource
		geoRows    []model.GeoRow
		timestamps []time.Time
		platforms  []string
	)

	// Fetch errors are absorbed by bestEffort, so the group only fails
	// when a fetch panics; siblings are never cancelled by a degraded fetch.
	var g errgroup.Group
	g.Go(s.guard(fetchTotalViews, func() {
		totalViews = bestEffort(ctx, s, fetchTotalViews, func() (int64, error) {
			return s.events.CountViews(ctx, profileIDs, window.Start, window.End)
		})
	}))
	g.Go(s.guard(fetchViewerAddresses, func() {
		addresses = bestEffort(ctx, s, fetchViewerAddresses, func() ([]string, error) {
			return s.events.ListViewerAddresses(ctx, profileIDs, window.Start, window.End)
		})
	}))
	g.Go(s.guard(fetchUserAgents, func() {
		userAgents = bestEffort(ctx, s, fetchUserAgents, func() ([]string, error) {
			return s.events.ListUserAgents(ctx, profileIDs, window.Start, window.End)
		})
	}))
	g.Go(s.guard(fetchReferrers, func() {
		referrers = bestEffort(ctx, s, fetchReferrers, func() ([]model.ReferrerSource, error) {
			return s.events.ListReferrerSources(ctx, profileIDs, window.Start, window.End)
		})
	}))
	g.Go(s.guard(fetchGeo, func() {
		geoRows = bestEffort(ctx, s, fetchGeo, func() ([]model.GeoRow, error) {
			return s.events.ListGeoRows(ctx, profileIDs, window.Start, window.End)
		})
	}))
	g.Go(s.guard(fetchTimestamps, func() {
		timestamps = bestEffort(ctx, s, fetchTimestamps, func() ([]time.Time, error) {
			return s.events.ListViewTimestamps(ctx, profileIDs, window.Start, window.End)
		})
	}))
	g.Go(s.guard(fetchSocialClicks, func() {
		platforms = bestEffort(ctx, s, fetchSocialClicks, func() ([]string, error) {
			return s.events.ListSocialPlatforms(ctx, profileIDs, window.Start, window.End)
		})
	}))
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch analytics data: %w", err)
	}

	geo := AggregateGeo(geoRows)
	totalSocialClicks := int64(len(platforms))

	result := &model.AnalyticsResult{
		TotalViews:           totalViews,
		UniqueVisitors:       CountUnique(addresses),
		DeviceBreakdown:      DeviceBreakdown(userAgents),
		ReferrerBreakdown:    ReferrerBreakdown(referrers),
		SocialBreakdown:      SocialBreakdown(platforms),
		TotalSocialClicks:    totalSocialClicks,
		SocialConversionRate: ConversionRate(totalSocialClicks, totalViews),
		DailyViews:           BucketDaily(timestamps),
		CountryBreakdown:     geo.Countries,
		CityBreakdown:        geo.Cities,
		GeographicPoints:     geo.Points,
		Period:               echoPeriod(q.Period),
	}

	s.logger.Debug("analytics aggregated",
		"user_id", q.UserID,
		"profiles", len(profileIDs),
		"period", window.Period,
		"total_views", result.TotalViews,
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)

	return result, nil
}

// guard turns a panic inside a fetch goroutine into an error so it
// surfaces from Aggregate instead of crashing the process.
func (s *Service) guard(name string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if rvr := recover(); rvr != nil {
				err = fmt.Errorf("%s fetch panicked: %v", name, rvr)
			}
		}()
		fn()
		return nil
	}
}

// bestEffort runs a single fetch and degrades any error to the zero value.
func bestEffort[T any](ctx context.Context, s *Service, name string, fetch func() (T, error)) T {
	value, err := fetch()
	if err != nil {
		var zero T
		s.logger.WarnContext(ctx, "analytics fetch failed, degrading to empty",
			"fetch", name,
			"error", err,
		)
		s.metrics.IncAnalyticsFetchError(name)
		return zero
	}
	return value
}

// echoPeriod returns the caller's period token, defaulting to 7d when
// it was omitted.
func echoPeriod(period string) string {
	if period == "" {
		return DefaultPeriod
	}
	return period
}
