// Package dto provides Data Transfer Objects for API requests and responses.
package dto

// TrackViewRequest is the body of POST /api/track/view.
type TrackViewRequest struct {
	ProfileID string `json:"profileId" validate:"required,max=64"`
	Referrer  string `json:"referrer,omitempty" validate:"omitempty,max=2048"`
	Source    string `json:"source,omitempty" validate:"omitempty,max=64,printascii"`
}

// TrackSocialClickRequest is the body of POST /api/track/social-click.
type TrackSocialClickRequest struct {
	ProfileID string `json:"profileId" validate:"required,max=64"`
	Platform  string `json:"platform" validate:"required,max=64,printascii"`
}

// AcceptedResponse acknowledges a queued event.
type AcceptedResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
