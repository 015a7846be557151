// Package model defines domain entities for the application.
package model

import "time"

// Profile is a user's public card page.
// A single owner may publish several profiles.
type Profile struct {
	ID          string    `json:"id"`
	OwnerUserID string    `json:"owner_user_id"`
	Slug        string    `json:"slug"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PublicURL returns the share URL of the profile under baseURL.
func (p *Profile) PublicURL(baseURL string) string {
	return baseURL + "/" + p.Slug
}
