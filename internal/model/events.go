// Package model defines domain entities for the application.
package model

import "time"

// ViewEvent represents a single render of a public profile page.
// Geo fields are optional and only set when the viewer could be geocoded
// at ingestion time.
type ViewEvent struct {
	ID      string `json:"id"`       // ULID (time-sortable)
	EventID string `json:"event_id"` // Idempotency key (Redis stream ID)

	ProfileID string `json:"profile_id"`

	// Request metadata
	ViewerAddress string `json:"viewer_address"`       // Client IP
	UserAgent     string `json:"user_agent,omitempty"` // UA string (truncated 500 chars)
	Referrer      string `json:"referrer,omitempty"`   // Referer (query and fragment stripped)
	Source        string `json:"source,omitempty"`     // Explicit channel tag, e.g. "qr_code"

	// Optional geo
	Country   *string  `json:"country,omitempty"`
	City      *string  `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	ViewedAt  time.Time `json:"viewed_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SocialClickEvent represents a click on a social button of a profile.
type SocialClickEvent struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	ProfileID string    `json:"profile_id"`
	Platform  string    `json:"platform"`
	ClickedAt time.Time `json:"clicked_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferrerSource is the referrer/source projection of a view row.
type ReferrerSource struct {
	Referrer *string
	Source   *string
}

// GeoRow is the geo projection of a view row.
type GeoRow struct {
	Country   *string
	City      *string
	Latitude  *float64
	Longitude *float64
}
