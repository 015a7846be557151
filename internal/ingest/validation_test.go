package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validView() EventPayload {
	return EventPayload{
		Kind:          KindView,
		ProfileID:     "profile-1",
		ViewerAddress: "203.0.113.10",
		UserAgent:     "TestAgent/1.0",
		Referrer:      "https://example.com/path",
		Source:        "qr_code",
		Country:       "US",
		OccurredAt:    time.Now().UnixMilli(),
	}
}

func TestValidatePayload_Valid(t *testing.T) {
	t.Parallel()

	if err := ValidatePayload(validView()); err != nil {
		t.Fatalf("expected valid view, got %v", err)
	}

	lat, lng := 52.52, 13.405
	geo := validView()
	geo.Latitude, geo.Longitude = &lat, &lng
	if err := ValidatePayload(geo); err != nil {
		t.Fatalf("expected valid view with coordinates, got %v", err)
	}

	click := EventPayload{Kind: KindSocialClick, ProfileID: "profile-1", Platform: "github", OccurredAt: 1}
	if err := ValidatePayload(click); err != nil {
		t.Fatalf("expected valid click, got %v", err)
	}
}

func TestValidatePayload_Invalid(t *testing.T) {
	t.Parallel()

	badLat := 123.0
	zero := 0.0

	tests := []struct {
		name   string
		mutate func(p *EventPayload)
		field  string
	}{
		{"unknown kind", func(p *EventPayload) { p.Kind = "hover" }, "k"},
		{"missing profile", func(p *EventPayload) { p.ProfileID = "" }, "pid"},
		{"bad address", func(p *EventPayload) { p.ViewerAddress = "not-an-ip" }, "va"},
		{"long country", func(p *EventPayload) { p.Country = "USA" }, "co"},
		{"missing timestamp", func(p *EventPayload) { p.OccurredAt = 0 }, "t"},
		{"latitude out of range", func(p *EventPayload) { p.Latitude, p.Longitude = &badLat, &zero }, "lat"},
		{"latitude without longitude", func(p *EventPayload) { p.Latitude = &zero }, "lat"},
		{"platform on view", func(p *EventPayload) { p.Platform = "github" }, "pl"},
		{"click without platform", func(p *EventPayload) { p.Kind = KindSocialClick }, "pl"},
		{"long source", func(p *EventPayload) { p.Source = strings.Repeat("s", 65) }, "s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := validView()
			tt.mutate(&p)

			err := ValidatePayload(p)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			found := false
			for _, f := range verr.Fields {
				if f.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %q, got %+v", tt.field, verr.Fields)
			}
		})
	}
}

func TestValidate_MessageUsesJSONName(t *testing.T) {
	t.Parallel()

	type request struct {
		ProfileID string `json:"profileId" validate:"required"`
	}

	err := Validate(request{})
	if err == nil || !strings.Contains(err.Error(), "profileId is required") {
		t.Errorf("unexpected error: %v", err)
	}
}
