// Package analytics aggregates profile view and social-click events
// into the per-profile analytics report.
package analytics

import "time"

// Supported period tokens.
const (
	Period7Days  = "7d"
	Period30Days = "30d"
	Period90Days = "90d"

	// DefaultPeriod is used for missing or unrecognized tokens.
	DefaultPeriod = Period7Days
)

var periodDays = map[string]int{
	Period7Days:  7,
	Period30Days: 30,
	Period90Days: 90,
}

// Window is a concrete [Start, End] time range.
type Window struct {
	Period string // Normalized token
	Start  time.Time
	End    time.Time
}

// ResolveWindow maps a period token to a window ending at now.
// Unrecognized tokens fall back to the 7 day window.
func ResolveWindow(period string, now time.Time) Window {
	days, ok := periodDays[period]
	if !ok {
		period = DefaultPeriod
		days = periodDays[DefaultPeriod]
	}

	return Window{
		Period: period,
		Start:  now.AddDate(0, 0, -days),
		End:    now,
	}
}
