package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/cardfolio/cardfolio/internal/model"
)

// GeoAggregate holds the country/city counters and mappable points.
type GeoAggregate struct {
	Countries map[string]int64
	Cities    map[string]int64
	Points    []model.GeoPoint
}

// AggregateGeo counts rows that carry both country and city.
// A point is only emitted when the row already has coordinates; rows
// without them still count towards the country and city totals.
func AggregateGeo(rows []model.GeoRow) GeoAggregate {
	agg := GeoAggregate{
		Countries: make(map[string]int64),
		Cities:    make(map[string]int64),
		Points:    make([]model.GeoPoint, 0),
	}

	for _, row := range rows {
		country, city := deref(row.Country), deref(row.City)
		if country == "" || city == "" {
			continue
		}

		agg.Countries[country]++
		agg.Cities[city]++

		if row.Latitude != nil && row.Longitude != nil {
			agg.Points = append(agg.Points, model.GeoPoint{
				Lat:     *row.Latitude,
				Lng:     *row.Longitude,
				Country: country,
				City:    city,
			})
		}
	}

	return agg
}

// BucketDaily counts timestamps per UTC calendar day.
// Only days present in the input are returned, oldest first.
func BucketDaily(timestamps []time.Time) []model.DailyViews {
	counts := make(map[string]int64)
	for _, ts := range timestamps {
		counts[ts.UTC().Format(time.DateOnly)]++
	}

	daily := make([]model.DailyViews, 0, len(counts))
	for date, views := range counts {
		daily = append(daily, model.DailyViews{Date: date, Views: views})
	}

	sort.Slice(daily, func(i, j int) bool {
		return daily[i].Date < daily[j].Date
	})

	return daily
}

// CountUnique returns the number of distinct non-empty viewer addresses.
func CountUnique(addresses []string) int64 {
	seen := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		seen[addr] = struct{}{}
	}
	return int64(len(seen))
}

// SocialBreakdown counts clicks per platform. Untagged clicks are
// counted under "unknown" so the breakdown always sums to the row count.
func SocialBreakdown(platforms []string) map[string]int64 {
	breakdown := make(map[string]int64)
	for _, platform := range platforms {
		if platform == "" {
			platform = "unknown"
		}
		breakdown[platform]++
	}
	return breakdown
}

// ConversionRate returns clicks/views as a rounded integer percentage,
// or 0 when there are no views.
func ConversionRate(clicks, views int64) int64 {
	if views <= 0 {
		return 0
	}
	return int64(math.Round(float64(clicks) / float64(views) * 100))
}
