package model

// AnalyticsResult is the flat response of the profile analytics endpoint.
// It is built fresh for every request and never persisted.
type AnalyticsResult struct {
	TotalViews           int64            `json:"totalViews"`
	UniqueVisitors       int64            `json:"uniqueVisitors"`
	DeviceBreakdown      map[string]int64 `json:"deviceBreakdown"`
	ReferrerBreakdown    map[string]int64 `json:"referrerBreakdown"`
	SocialBreakdown      map[string]int64 `json:"socialBreakdown"`
	TotalSocialClicks    int64            `json:"totalSocialClicks"`
	SocialConversionRate int64            `json:"socialConversionRate"` // Integer percentage
	DailyViews           []DailyViews     `json:"dailyViews"`
	CountryBreakdown     map[string]int64 `json:"countryBreakdown"`
	CityBreakdown        map[string]int64 `json:"cityBreakdown"`
	GeographicPoints     []GeoPoint       `json:"geographicPoints"`
	Period               string           `json:"period"`
}

// DailyViews represents views for a single UTC calendar day.
type DailyViews struct {
	Date  string `json:"date"` // ISO date
	Views int64  `json:"views"`
}

// GeoPoint is a mappable sample taken from an already-geocoded view.
type GeoPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Country string  `json:"country"`
	City    string  `json:"city"`
}
