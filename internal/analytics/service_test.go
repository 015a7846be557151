package analytics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cardfolio/cardfolio/internal/metrics"
	"github.com/cardfolio/cardfolio/internal/model"
	"github.com/cardfolio/cardfolio/internal/repository"
)

var fixedNow = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

type fakeProfiles struct {
	byOwner  map[string][]string
	byID     map[string]*model.Profile
	ownerErr error
	idErr    error
}

func (f *fakeProfiles) ListProfileIDsByOwner(_ context.Context, owner string) ([]string, error) {
	if f.ownerErr != nil {
		return nil, f.ownerErr
	}
	return f.byOwner[owner], nil
}

func (f *fakeProfiles) GetProfileByID(_ context.Context, id string) (*model.Profile, error) {
	if f.idErr != nil {
		return nil, f.idErr
	}
	p, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	return p, nil
}

// fakeEvents serves in-memory rows and records the arguments of every call.
type fakeEvents struct {
	mu sync.Mutex

	views  []model.ViewEvent
	clicks []model.SocialClickEvent

	failing  map[string]error
	panicOn  string
	gotIDs   [][]string
	gotStart time.Time
	gotEnd   time.Time
}

func (f *fakeEvents) record(name string, ids []string, start, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotIDs = append(f.gotIDs, ids)
	f.gotStart, f.gotEnd = start, end
	if name == f.panicOn {
		panic("boom")
	}
	return f.failing[name]
}

func (f *fakeEvents) matchView(v model.ViewEvent, ids []string, start, end time.Time) bool {
	if v.ViewedAt.Before(start) || v.ViewedAt.After(end) {
		return false
	}
	for _, id := range ids {
		if v.ProfileID == id {
			return true
		}
	}
	return false
}

func (f *fakeEvents) filterViews(ids []string, start, end time.Time) []model.ViewEvent {
	var out []model.ViewEvent
	for _, v := range f.views {
		if f.matchView(v, ids, start, end) {
			out = append(out, v)
		}
	}
	return out
}

func (f *fakeEvents) CountViews(_ context.Context, ids []string, start, end time.Time) (int64, error) {
	if err := f.record(fetchTotalViews, ids, start, end); err != nil {
		return 0, err
	}
	return int64(len(f.filterViews(ids, start, end))), nil
}

func (f *fakeEvents) ListViewerAddresses(_ context.Context, ids []string, start, end time.Time) ([]string, error) {
	if err := f.record(fetchViewerAddresses, ids, start, end); err != nil {
		return nil, err
	}
	var out []string
	for _, v := range f.filterViews(ids, start, end) {
		out = append(out, v.ViewerAddress)
	}
	return out, nil
}

func (f *fakeEvents) ListUserAgents(_ context.Context, ids []string, start, end time.Time) ([]string, error) {
	if err := f.record(fetchUserAgents, ids, start, end); err != nil {
		return nil, err
	}
	var out []string
	for _, v := range f.filterViews(ids, start, end) {
		out = append(out, v.UserAgent)
	}
	return out, nil
}

func (f *fakeEvents) ListReferrerSources(_ context.Context, ids []string, start, end time.Time) ([]model.ReferrerSource, error) {
	if err := f.record(fetchReferrers, ids, start, end); err != nil {
		return nil, err
	}
	var out []model.ReferrerSource
	for _, v := range f.filterViews(ids, start, end) {
		out = append(out, model.ReferrerSource{Referrer: optional(v.Referrer), Source: optional(v.Source)})
	}
	return out, nil
}

func (f *fakeEvents) ListGeoRows(_ context.Context, ids []string, start, end time.Time) ([]model.GeoRow, error) {
	if err := f.record(fetchGeo, ids, start, end); err != nil {
		return nil, err
	}
	var out []model.GeoRow
	for _, v := range f.filterViews(ids, start, end) {
		out = append(out, model.GeoRow{Country: v.Country, City: v.City, Latitude: v.Latitude, Longitude: v.Longitude})
	}
	return out, nil
}

func (f *fakeEvents) ListViewTimestamps(_ context.Context, ids []string, start, end time.Time) ([]time.Time, error) {
	if err := f.record(fetchTimestamps, ids, start, end); err != nil {
		return nil, err
	}
	var out []time.Time
	for _, v := range f.filterViews(ids, start, end) {
		out = append(out, v.ViewedAt)
	}
	return out, nil
}

func (f *fakeEvents) ListSocialPlatforms(_ context.Context, ids []string, start, end time.Time) ([]string, error) {
	if err := f.record(fetchSocialClicks, ids, start, end); err != nil {
		return nil, err
	}
	var out []string
	for _, c := range f.clicks {
		if c.ClickedAt.Before(start) || c.ClickedAt.After(end) {
			continue
		}
		for _, id := range ids {
			if c.ProfileID == id {
				out = append(out, c.Platform)
			}
		}
	}
	return out, nil
}

// optional mirrors a nullable column: empty strings read back as NULL.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newTestService(profiles ProfileStore, events EventStore, recorder metrics.Recorder) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(profiles, events, logger, recorder)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func singleProfile() *fakeProfiles {
	return &fakeProfiles{
		byOwner: map[string][]string{"user-1": {"p1"}},
		byID:    map[string]*model.Profile{"p1": {ID: "p1", OwnerUserID: "user-1"}},
	}
}

func view(profileID string, ago time.Duration) model.ViewEvent {
	return model.ViewEvent{ProfileID: profileID, ViewedAt: fixedNow.Add(-ago)}
}

func TestAggregate_UserIDRequired(t *testing.T) {
	t.Parallel()

	svc := newTestService(singleProfile(), &fakeEvents{}, nil)

	_, err := svc.Aggregate(context.Background(), Query{})
	if !errors.Is(err, ErrUserIDRequired) {
		t.Fatalf("expected ErrUserIDRequired, got %v", err)
	}
}

func TestAggregate_NoProfiles(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{}
	svc := newTestService(singleProfile(), events, nil)

	_, err := svc.Aggregate(context.Background(), Query{UserID: "stranger"})
	if !errors.Is(err, ErrNoProfiles) {
		t.Fatalf("expected ErrNoProfiles, got %v", err)
	}
	if len(events.gotIDs) != 0 {
		t.Errorf("no fetch should run without profiles, got %d", len(events.gotIDs))
	}
}

func TestAggregate_DeviceBreakdown(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{}
	for i := 0; i < 6; i++ {
		v := view("p1", time.Hour)
		v.UserAgent = "Mozilla/5.0 (iPhone) Mobile/15E148"
		events.views = append(events.views, v)
	}
	for i := 0; i < 4; i++ {
		v := view("p1", time.Hour)
		v.UserAgent = "Mozilla/5.0 (X11; Linux x86_64)"
		events.views = append(events.views, v)
	}

	svc := newTestService(singleProfile(), events, nil)
	got, err := svc.Aggregate(context.Background(), Query{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	want := map[string]int64{"mobile": 6, "desktop": 4}
	if !reflect.DeepEqual(got.DeviceBreakdown, want) {
		t.Errorf("device breakdown = %v, want %v", got.DeviceBreakdown, want)
	}
	if got.TotalViews != 10 {
		t.Errorf("total views = %d, want 10", got.TotalViews)
	}
}

func TestAggregate_ExplicitSourceWins(t *testing.T) {
	t.Parallel()

	v := view("p1", time.Hour)
	v.Source = "qr_code"
	v.Referrer = "https://instagram.com/someone"
	events := &fakeEvents{views: []model.ViewEvent{v}}

	svc := newTestService(singleProfile(), events, nil)
	got, err := svc.Aggregate(context.Background(), Query{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	want := map[string]int64{"qr_code": 1}
	if !reflect.DeepEqual(got.ReferrerBreakdown, want) {
		t.Errorf("referrer breakdown = %v, want %v", got.ReferrerBreakdown, want)
	}
}

func TestAggregate_GeoWithoutCoordinates(t *testing.T) {
	t.Parallel()

	v := view("p1", time.Hour)
	v.Country = strp("NL")
	v.City = strp("Amsterdam")
	events := &fakeEvents{views: []model.ViewEvent{v}}

	svc := newTestService(singleProfile(), events, nil)
	got, err := svc.Aggregate(context.Background(), Query{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if got.CountryBreakdown["NL"] != 1 {
		t.Errorf("country breakdown = %v", got.CountryBreakdown)
	}
	if got.CityBreakdown["Amsterdam"] != 1 {
		t.Errorf("city breakdown = %v", got.CityBreakdown)
	}
	if len(got.GeographicPoints) != 0 {
		t.Errorf("expected no geographic points, got %v", got.GeographicPoints)
	}
}

func TestAggregate_EmptyProfile(t *testing.T) {
	t.Parallel()

	svc := newTestService(singleProfile(), &fakeEvents{}, nil)
	got, err := svc.Aggregate(context.Background(), Query{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if got.TotalViews != 0 || got.UniqueVisitors != 0 || got.SocialConversionRate != 0 || got.TotalSocialClicks != 0 {
		t.Errorf("expected zero counters, got %+v", got)
	}
	if got.DailyViews == nil || len(got.DailyViews) != 0 {
		t.Errorf("daily views = %#v, want empty slice", got.DailyViews)
	}
	if got.GeographicPoints == nil {
		t.Error("geographic points must be an empty slice, not nil")
	}
	for name, m := range map[string]map[string]int64{
		"device":   got.DeviceBreakdown,
		"referrer": got.ReferrerBreakdown,
		"social":   got.SocialBreakdown,
		"country":  got.CountryBreakdown,
		"city":     got.CityBreakdown,
	} {
		if m == nil || len(m) != 0 {
			t.Errorf("%s breakdown = %#v, want empty map", name, m)
		}
	}
	if got.Period != "7d" {
		t.Errorf("period = %q, want 7d", got.Period)
	}
}

func TestAggregate_FullReport(t *testing.T) {
	t.Parallel()

	a := view("p1", 2*time.Hour)
	a.ViewerAddress = "10.0.0.1"
	a.UserAgent = "Mobile"
	a.Referrer = "https://github.com/me"

	b := view("p1", 26*time.Hour)
	b.ViewerAddress = "10.0.0.1"
	b.UserAgent = "Tablet"

	c := view("p1", 26*time.Hour)
	c.ViewerAddress = "10.0.0.2"
	c.Country = strp("US")
	c.City = strp("Austin")
	c.Latitude = floatp(30.27)
	c.Longitude = floatp(-97.74)

	old := view("p1", 10*24*time.Hour)
	other := view("p2", time.Hour)

	events := &fakeEvents{
		views: []model.ViewEvent{a, b, c, old, other},
		clicks: []model.SocialClickEvent{
			{ProfileID: "p1", Platform: "linkedin", ClickedAt: fixedNow.Add(-time.Hour)},
			{ProfileID: "p1", Platform: "linkedin", ClickedAt: fixedNow.Add(-time.Hour)},
			{ProfileID: "p1", Platform: "linkedin", ClickedAt: fixedNow.Add(-30 * 24 * time.Hour)},
			{ProfileID: "p2", Platform: "github", ClickedAt: fixedNow.Add(-time.Hour)},
		},
	}

	svc := newTestService(singleProfile(), events, nil)
	got, err := svc.Aggregate(context.Background(), Query{UserID: "user-1", Period: "7d"})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if got.TotalViews != 3 {
		t.Errorf("total views = %d, want 3", got.TotalViews)
	}
	if got.UniqueVisitors != 2 {
		t.Errorf("unique visitors = %d, want 2", got.UniqueVisitors)
	}
	if got.TotalSocialClicks != 2 {
		t.Errorf("social clicks = %d, want 2", got.TotalSocialClicks)
	}
	if got.SocialConversionRate != 67 {
		t.Errorf("conversion rate = %d, want 67", got.SocialConversionRate)
	}
	wantDaily := []model.DailyViews{
		{Date: "2026-03-30", Views: 2},
		{Date: "2026-03-31", Views: 1},
	}
	if !reflect.DeepEqual(got.DailyViews, wantDaily) {
		t.Errorf("daily views = %v, want %v", got.DailyViews, wantDaily)
	}
	wantReferrers := map[string]int64{"github": 1, "direct": 2}
	if !reflect.DeepEqual(got.ReferrerBreakdown, wantReferrers) {
		t.Errorf("referrers = %v, want %v", got.ReferrerBreakdown, wantReferrers)
	}
	if len(got.GeographicPoints) != 1 || got.GeographicPoints[0].City != "Austin" {
		t.Errorf("geographic points = %v", got.GeographicPoints)
	}

	// Breakdowns partition the rows they were built from.
	if sum(got.DeviceBreakdown) != got.TotalViews {
		t.Errorf("device breakdown sums to %d, want %d", sum(got.DeviceBreakdown), got.TotalViews)
	}
	if sum(got.ReferrerBreakdown) != got.TotalViews {
		t.Errorf("referrer breakdown sums to %d, want %d", sum(got.ReferrerBreakdown), got.TotalViews)
	}
	if sum(got.SocialBreakdown) != got.TotalSocialClicks {
		t.Errorf("social breakdown sums to %d, want %d", sum(got.SocialBreakdown), got.TotalSocialClicks)
	}
	var daily int64
	for _, d := range got.DailyViews {
		daily += d.Views
	}
	if daily != got.TotalViews {
		t.Errorf("daily views sum to %d, want %d", daily, got.TotalViews)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	t.Parallel()

	v := view("p1", time.Hour)
	v.ViewerAddress = "10.0.0.1"
	v.UserAgent = "Mobile"
	events := &fakeEvents{
		views:  []model.ViewEvent{v, view("p1", 30*time.Hour)},
		clicks: []model.SocialClickEvent{{ProfileID: "p1", Platform: "github", ClickedAt: fixedNow.Add(-time.Hour)}},
	}
	svc := newTestService(singleProfile(), events, nil)

	first, err := svc.Aggregate(context.Background(), Query{UserID: "user-1", Period: "30d"})
	if err != nil {
		t.Fatalf("first Aggregate() error = %v", err)
	}
	second, err := svc.Aggregate(context.Background(), Query{UserID: "user-1", Period: "30d"})
	if err != nil {
		t.Fatalf("second Aggregate() error = %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated aggregation differs:\n%+v\n%+v", first, second)
	}
}

func TestAggregate_Window(t *testing.T) {
	t.Parallel()

	tests := []struct {
		period     string
		wantPeriod string
		wantDays   int
	}{
		{"7d", "7d", 7},
		{"30d", "30d", 30},
		{"90d", "90d", 90},
		{"", "7d", 7},
		{"bogus", "bogus", 7},
	}

	for _, tt := range tests {
		t.Run(tt.wantPeriod, func(t *testing.T) {
			t.Parallel()

			events := &fakeEvents{}
			svc := newTestService(singleProfile(), events, nil)

			got, err := svc.Aggregate(context.Background(), Query{UserID: "user-1", Period: tt.period})
			if err != nil {
				t.Fatalf("Aggregate() error = %v", err)
			}
			if got.Period != tt.wantPeriod {
				t.Errorf("period = %q, want %q", got.Period, tt.wantPeriod)
			}
			if !events.gotEnd.Equal(fixedNow) {
				t.Errorf("window end = %v, want %v", events.gotEnd, fixedNow)
			}
			if want := fixedNow.AddDate(0, 0, -tt.wantDays); !events.gotStart.Equal(want) {
				t.Errorf("window start = %v, want %v", events.gotStart, want)
			}
		})
	}
}

func TestAggregate_FetchFailureDegrades(t *testing.T) {
	t.Parallel()

	v := view("p1", time.Hour)
	v.UserAgent = "Mobile"
	v.ViewerAddress = "10.0.0.1"
	events := &fakeEvents{
		views: []model.ViewEvent{v},
		failing: map[string]error{
			fetchUserAgents:   errors.New("connection reset"),
			fetchSocialClicks: errors.New("timeout"),
		},
	}
	recorder := metrics.NewInMemory()
	svc := newTestService(singleProfile(), events, recorder)

	got, err := svc.Aggregate(context.Background(), Query{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	if got.TotalViews != 1 || got.UniqueVisitors != 1 {
		t.Errorf("healthy fetches should still report: %+v", got)
	}
	if got.DeviceBreakdown == nil || len(got.DeviceBreakdown) != 0 {
		t.Errorf("failed device fetch should degrade to empty map, got %v", got.DeviceBreakdown)
	}
	if got.TotalSocialClicks != 0 || got.SocialConversionRate != 0 || len(got.SocialBreakdown) != 0 {
		t.Errorf("failed social fetch should degrade to zero, got %+v", got)
	}

	snap := recorder.Snapshot()
	if snap.AnalyticsFetchErrors[fetchUserAgents] != 1 || snap.AnalyticsFetchErrors[fetchSocialClicks] != 1 {
		t.Errorf("fetch errors = %v", snap.AnalyticsFetchErrors)
	}
	if snap.AnalyticsDurationCount != 1 {
		t.Errorf("duration count = %d, want 1", snap.AnalyticsDurationCount)
	}
}

func TestAggregate_FetchPanicIsError(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{panicOn: fetchGeo}
	svc := newTestService(singleProfile(), events, nil)

	got, err := svc.Aggregate(context.Background(), Query{UserID: "user-1"})
	if err == nil {
		t.Fatalf("expected error, got result %+v", got)
	}
	if errors.Is(err, ErrNoProfiles) || errors.Is(err, ErrUserIDRequired) {
		t.Errorf("panic must surface as an unexpected error, got %v", err)
	}
}

func TestResolveProfiles(t *testing.T) {
	t.Parallel()

	lookupErr := errors.New("pool closed")

	tests := []struct {
		name     string
		profiles *fakeProfiles
		id       string
		want     []string
		wantErr  error
	}{
		{
			name: "all owned profiles",
			profiles: &fakeProfiles{
				byOwner: map[string][]string{"user-1": {"p1", "p2"}},
			},
			id:   "user-1",
			want: []string{"p1", "p2"},
		},
		{
			name: "falls back to profile id",
			profiles: &fakeProfiles{
				byID: map[string]*model.Profile{"p9": {ID: "p9"}},
			},
			id:   "p9",
			want: []string{"p9"},
		},
		{
			name: "owner lookup failure falls through",
			profiles: &fakeProfiles{
				ownerErr: lookupErr,
				byID:     map[string]*model.Profile{"p9": {ID: "p9"}},
			},
			id:   "p9",
			want: []string{"p9"},
		},
		{
			name:     "neither matches",
			profiles: &fakeProfiles{},
			id:       "nobody",
			wantErr:  ErrNoProfiles,
		},
		{
			name:     "empty id",
			profiles: &fakeProfiles{},
			id:       "",
			wantErr:  ErrUserIDRequired,
		},
		{
			name:     "profile lookup failure",
			profiles: &fakeProfiles{idErr: lookupErr},
			id:       "p9",
			wantErr:  lookupErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := newTestService(tt.profiles, &fakeEvents{}, nil)
			got, err := svc.ResolveProfiles(context.Background(), tt.id)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveProfiles() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveProfiles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregate_MultipleProfiles(t *testing.T) {
	t.Parallel()

	profiles := &fakeProfiles{
		byOwner: map[string][]string{"user-1": {"p1", "p2"}},
	}
	events := &fakeEvents{
		views: []model.ViewEvent{view("p1", time.Hour), view("p2", time.Hour), view("p3", time.Hour)},
	}
	svc := newTestService(profiles, events, nil)

	got, err := svc.Aggregate(context.Background(), Query{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if got.TotalViews != 2 {
		t.Errorf("total views = %d, want 2", got.TotalViews)
	}
	for _, ids := range events.gotIDs {
		if !reflect.DeepEqual(ids, []string{"p1", "p2"}) {
			t.Errorf("fetch scoped to %v, want [p1 p2]", ids)
		}
	}
}
