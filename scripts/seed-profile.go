package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"

	"github.com/cardfolio/cardfolio/internal/model"
	"github.com/cardfolio/cardfolio/internal/repository"
)

type output struct {
	ProfileID    string `json:"profile_id"`
	OwnerUserID  string `json:"owner_user_id"`
	PublicURL    string `json:"public_url"`
	Views        int    `json:"views"`
	SocialClicks int    `json:"social_clicks"`
}

var (
	userAgents = []string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Chrome/123.0 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 17_4 like Mac OS X) AppleWebKit/605.1.15 Tablet",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/123.0 Safari/537.36",
	}
	referrers = []string{
		"", "", "https://www.linkedin.com/feed/", "https://t.co/abc", "https://www.google.com/",
		"https://github.com/cardfolio", "https://news.ycombinator.com/item",
	}
	sources   = []string{"", "", "", "qr_code", "nfc", "email_signature"}
	platforms = []string{"linkedin", "github", "x", "instagram", "website"}
	places    = []struct {
		country, city string
		lat, lng      float64
	}{
		{"US", "San Francisco", 37.7749, -122.4194},
		{"DE", "Berlin", 52.52, 13.405},
		{"JP", "Tokyo", 35.6762, 139.6503},
		{"BR", "São Paulo", -23.5505, -46.6333},
	}
)

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		ownerUserID = flag.String("owner", "demo-user", "Owner user id of the profile")
		slug        = flag.String("slug", "", "Profile slug (default: generated)")
		baseURL     = flag.String("base-url", "http://localhost:3000", "Public base URL of profile pages")
		views       = flag.Int("views", 200, "Number of view events to generate")
		clicks      = flag.Int("clicks", 40, "Number of social-click events to generate")
		days        = flag.Int("days", 30, "Spread events over this many past days")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	if *days <= 0 {
		fmt.Fprintln(os.Stderr, "-days must be positive")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	now := time.Now().UTC()
	profile := &model.Profile{
		ID:          ulid.Make().String(),
		OwnerUserID: *ownerUserID,
		Slug:        *slug,
		DisplayName: "Demo Card",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if profile.Slug == "" {
		profile.Slug = "demo-" + strings.ToLower(profile.ID[len(profile.ID)-6:])
	}

	if err := repo.CreateProfile(ctx, profile); err != nil {
		fmt.Fprintln(os.Stderr, "create profile:", err)
		os.Exit(1)
	}

	events := repository.NewEventRepository(repo)
	window := time.Duration(*days) * 24 * time.Hour

	if err := events.BulkInsertViews(ctx, generateViews(profile.ID, *views, now, window)); err != nil {
		fmt.Fprintln(os.Stderr, "insert views:", err)
		os.Exit(1)
	}
	if err := events.BulkInsertSocialClicks(ctx, generateClicks(profile.ID, *clicks, now, window)); err != nil {
		fmt.Fprintln(os.Stderr, "insert social clicks:", err)
		os.Exit(1)
	}

	out := output{
		ProfileID:    profile.ID,
		OwnerUserID:  profile.OwnerUserID,
		PublicURL:    profile.PublicURL(strings.TrimSuffix(*baseURL, "/")),
		Views:        *views,
		SocialClicks: *clicks,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.ProfileID)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

func generateViews(profileID string, n int, now time.Time, window time.Duration) []*model.ViewEvent {
	out := make([]*model.ViewEvent, 0, n)
	for i := 0; i < n; i++ {
		v := &model.ViewEvent{
			ID:            ulid.Make().String(),
			EventID:       "seed-" + ulid.Make().String(),
			ProfileID:     profileID,
			ViewerAddress: fmt.Sprintf("203.0.113.%d", rand.IntN(254)+1),
			UserAgent:     userAgents[rand.IntN(len(userAgents))],
			Referrer:      referrers[rand.IntN(len(referrers))],
			Source:        sources[rand.IntN(len(sources))],
			ViewedAt:      now.Add(-time.Duration(rand.Int64N(int64(window)))),
		}
		if rand.IntN(3) > 0 {
			p := places[rand.IntN(len(places))]
			country, city, lat, lng := p.country, p.city, p.lat, p.lng
			v.Country, v.City, v.Latitude, v.Longitude = &country, &city, &lat, &lng
		}
		out = append(out, v)
	}
	return out
}

func generateClicks(profileID string, n int, now time.Time, window time.Duration) []*model.SocialClickEvent {
	out := make([]*model.SocialClickEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &model.SocialClickEvent{
			ID:        ulid.Make().String(),
			EventID:   "seed-" + ulid.Make().String(),
			ProfileID: profileID,
			Platform:  platforms[rand.IntN(len(platforms))],
			ClickedAt: now.Add(-time.Duration(rand.Int64N(int64(window)))),
		})
	}
	return out
}
