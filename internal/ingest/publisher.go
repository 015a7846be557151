// Package ingest captures profile view and social-click events on a
// Redis stream and persists them to PostgreSQL in batches.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/cardfolio/cardfolio/internal/metrics"
)

const (
	// StreamKey is the Redis stream for profile events.
	StreamKey = "stream:profile_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:profile_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 500 * time.Millisecond

	maxMetaLength = 500
)

// Event kinds carried on the stream.
const (
	KindView        = "view"
	KindSocialClick = "social_click"
)

// EventPayload is the compact event format for the Redis stream.
// Geo fields are resolved before publishing so the worker only copies them.
type EventPayload struct {
	Kind          string   `json:"k" validate:"required,oneof=view social_click"`
	ProfileID     string   `json:"pid" validate:"required,max=64"`
	ViewerAddress string   `json:"va,omitempty" validate:"omitempty,ip"`
	UserAgent     string   `json:"ua,omitempty" validate:"max=500"`
	Referrer      string   `json:"r,omitempty" validate:"max=500"`
	Source        string   `json:"s,omitempty" validate:"max=64"`
	Country       string   `json:"co,omitempty" validate:"omitempty,len=2"`
	City          string   `json:"ci,omitempty" validate:"max=128"`
	Latitude      *float64 `json:"lat,omitempty" validate:"omitempty,latitude"`
	Longitude     *float64 `json:"lng,omitempty" validate:"omitempty,longitude"`
	Platform      string   `json:"pl,omitempty" validate:"required_if=Kind social_click,max=64"`
	OccurredAt    int64    `json:"t" validate:"gt=0"` // Unix milliseconds
}

// Publisher enqueues profile events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "ingest.publisher"),
		metrics: recorder,
	}
}

// Publish adds an event to the stream and returns its stream ID, which
// later becomes the row's idempotency key.
func (p *Publisher) Publish(ctx context.Context, event EventPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		p.metrics.IncEventPublished(event.Kind, "failed")
		return "", fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	streamID, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",
		Values: map[string]any{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		p.logger.WarnContext(ctx, "failed to publish profile event",
			"kind", event.Kind,
			"profile_id", event.ProfileID,
			"error", err,
		)
		p.metrics.IncEventPublished(event.Kind, "failed")
		return "", fmt.Errorf("xadd: %w", err)
	}

	p.logger.Debug("profile event published",
		"kind", event.Kind,
		"profile_id", event.ProfileID,
		"stream_id", streamID,
	)
	p.metrics.IncEventPublished(event.Kind, "success")

	return streamID, nil
}

// SanitizeReferrer cleans and truncates the referrer URL.
// Strips query parameters and fragments for privacy.
func SanitizeReferrer(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	// Keep only scheme + host + path; strip query params and fragments
	parsed.RawQuery = ""
	parsed.ForceQuery = false
	parsed.Fragment = ""
	parsed.User = nil

	return truncate(parsed.String(), maxMetaLength)
}

// TruncateUserAgent truncates user agent to max 500 chars.
func TruncateUserAgent(ua string) string {
	return truncate(ua, maxMetaLength)
}

// ExtractCountryCode extracts country code from the Cloudflare header.
// Returns empty string if header is missing, invalid or one of
// Cloudflare's placeholder codes.
func ExtractCountryCode(cfIPCountry string) string {
	code := strings.ToUpper(strings.TrimSpace(cfIPCountry))
	if len(code) != 2 || code == "XX" || code == "T1" {
		return ""
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return ""
		}
	}
	return code
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
