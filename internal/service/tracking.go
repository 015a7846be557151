// Package service provides the event tracking use cases behind the public
// profile pages.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cardfolio/cardfolio/internal/cache"
	"github.com/cardfolio/cardfolio/internal/geo"
	"github.com/cardfolio/cardfolio/internal/ingest"
	"github.com/cardfolio/cardfolio/internal/model"
	"github.com/cardfolio/cardfolio/internal/repository"
)

// Service errors.
var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrRecordFailed    = errors.New("failed to record event")
)

// ProfileLookup loads a profile by id.
type ProfileLookup interface {
	// GetProfileByID returns repository.ErrProfileNotFound when the
	// profile does not exist.
	GetProfileByID(ctx context.Context, id string) (*model.Profile, error)
}

// ExistenceCache remembers which profile ids exist.
type ExistenceCache interface {
	GetProfileExists(ctx context.Context, profileID string) (bool, error)
	SetProfileExists(ctx context.Context, profileID string, exists bool) error
}

// Locator resolves a client address to a location.
type Locator interface {
	Lookup(ip string) geo.Location
}

// EventPublisher enqueues events for the ingest worker.
type EventPublisher interface {
	Publish(ctx context.Context, event ingest.EventPayload) (string, error)
}

// TrackViewInput describes one render of a public profile.
type TrackViewInput struct {
	ProfileID     string
	Referrer      string
	Source        string
	ViewerAddress string
	UserAgent     string
	CountryHint   string // CF-IPCountry, used when the GeoIP lookup has no country
}

// TrackSocialClickInput describes one click on a social button.
type TrackSocialClickInput struct {
	ProfileID string
	Platform  string
}

// TrackingService records profile views and social clicks.
type TrackingService struct {
	profiles  ProfileLookup
	cache     ExistenceCache
	locator   Locator
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewTrackingService creates a new TrackingService. cache and locator may be nil.
func NewTrackingService(profiles ProfileLookup, existence ExistenceCache, locator Locator, publisher EventPublisher, logger *slog.Logger) *TrackingService {
	return &TrackingService{
		profiles:  profiles,
		cache:     existence,
		locator:   locator,
		publisher: publisher,
		logger:    logger.With("component", "service.tracking"),
		now:       time.Now,
	}
}

// TrackView enqueues a view event after checking that the profile exists.
func (s *TrackingService) TrackView(ctx context.Context, in TrackViewInput) error {
	if err := s.ensureProfile(ctx, in.ProfileID); err != nil {
		return err
	}

	payload := ingest.EventPayload{
		Kind:          ingest.KindView,
		ProfileID:     in.ProfileID,
		ViewerAddress: in.ViewerAddress,
		UserAgent:     ingest.TruncateUserAgent(in.UserAgent),
		Referrer:      ingest.SanitizeReferrer(in.Referrer),
		Source:        strings.TrimSpace(in.Source),
		OccurredAt:    s.now().UnixMilli(),
	}
	s.applyLocation(&payload, in.CountryHint)

	return s.publish(ctx, payload)
}

// TrackSocialClick enqueues a social-click event after checking that the
// profile exists.
func (s *TrackingService) TrackSocialClick(ctx context.Context, in TrackSocialClickInput) error {
	if err := s.ensureProfile(ctx, in.ProfileID); err != nil {
		return err
	}

	return s.publish(ctx, ingest.EventPayload{
		Kind:       ingest.KindSocialClick,
		ProfileID:  in.ProfileID,
		Platform:   strings.ToLower(strings.TrimSpace(in.Platform)),
		OccurredAt: s.now().UnixMilli(),
	})
}

// ensureProfile checks the existence cache first, then the database,
// and backfills the cache with the answer. Cache errors fall through to
// the database.
func (s *TrackingService) ensureProfile(ctx context.Context, profileID string) error {
	if s.cache != nil {
		exists, err := s.cache.GetProfileExists(ctx, profileID)
		switch {
		case err == nil && exists:
			return nil
		case err == nil:
			return ErrProfileNotFound
		case !errors.Is(err, cache.ErrCacheMiss):
			s.logger.WarnContext(ctx, "profile cache read failed", "profile_id", profileID, "error", err)
		}
	}

	_, err := s.profiles.GetProfileByID(ctx, profileID)
	if err != nil && !errors.Is(err, repository.ErrProfileNotFound) {
		return fmt.Errorf("get profile: %w", err)
	}
	exists := err == nil

	if s.cache != nil {
		if cerr := s.cache.SetProfileExists(ctx, profileID, exists); cerr != nil {
			s.logger.WarnContext(ctx, "profile cache write failed", "profile_id", profileID, "error", cerr)
		}
	}

	if !exists {
		return ErrProfileNotFound
	}
	return nil
}

func (s *TrackingService) applyLocation(p *ingest.EventPayload, countryHint string) {
	var loc geo.Location
	if s.locator != nil && p.ViewerAddress != "" {
		loc = s.locator.Lookup(p.ViewerAddress)
	}

	if loc.Country != nil {
		p.Country = *loc.Country
	} else {
		p.Country = ingest.ExtractCountryCode(countryHint)
	}
	if loc.City != nil {
		p.City = *loc.City
	}
	if loc.Latitude != nil && loc.Longitude != nil {
		p.Latitude = loc.Latitude
		p.Longitude = loc.Longitude
	}
}

func (s *TrackingService) publish(ctx context.Context, payload ingest.EventPayload) error {
	if err := ingest.ValidatePayload(payload); err != nil {
		return err
	}
	if _, err := s.publisher.Publish(ctx, payload); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue event",
			"kind", payload.Kind,
			"profile_id", payload.ProfileID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrRecordFailed, err)
	}
	return nil
}
