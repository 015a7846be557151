// Package geo resolves viewer IP addresses to country, city and
// coordinates using a MaxMind GeoLite2/GeoIP2 City database.
package geo

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Location is the optional geo data attached to a view at ingestion.
// Fields are nil when the database has no value for them.
type Location struct {
	Country   *string
	City      *string
	Latitude  *float64
	Longitude *float64
}

// IsZero reports whether no field was resolved.
func (l Location) IsZero() bool {
	return l.Country == nil && l.City == nil && l.Latitude == nil && l.Longitude == nil
}

// Resolver looks up locations. A Resolver without a database is valid
// and resolves every address to an empty Location.
type Resolver struct {
	reader *geoip2.Reader
	logger *slog.Logger
}

// Open loads the City database at path. An empty path, or a path that
// does not exist, yields a disabled Resolver.
func Open(path string, logger *slog.Logger) (*Resolver, error) {
	logger = logger.With("component", "geo")

	if path == "" {
		logger.Debug("GeoIP database path not configured, geo enrichment disabled")
		return &Resolver{logger: logger}, nil
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("GeoIP database not found, geo enrichment disabled",
				"path", path,
				"hint", "download GeoLite2-City from https://www.maxmind.com/en/geolite2/signup",
			)
			return &Resolver{logger: logger}, nil
		}
		return nil, fmt.Errorf("stat geoip database: %w", err)
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}

	logger.Info("GeoIP database loaded",
		"path", path,
		"db_type", reader.Metadata().DatabaseType,
	)

	return &Resolver{reader: reader, logger: logger}, nil
}

// Enabled reports whether a database is loaded.
func (r *Resolver) Enabled() bool {
	return r != nil && r.reader != nil
}

// Lookup resolves ip. Unparseable, private and unknown addresses yield
// an empty Location.
func (r *Resolver) Lookup(ip string) Location {
	if !r.Enabled() {
		return Location{}
	}

	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return Location{}
	}

	record, err := r.reader.City(parsed)
	if err != nil {
		r.logger.Debug("geoip lookup failed", "error", err)
		return Location{}
	}

	return fromRecord(record)
}

// Close releases the database.
func (r *Resolver) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.reader.Close()
}

func fromRecord(record *geoip2.City) Location {
	var loc Location

	if code := strings.ToUpper(record.Country.IsoCode); code != "" && code != "--" {
		loc.Country = &code
	}
	if name := record.City.Names["en"]; name != "" {
		loc.City = &name
	}
	// MaxMind reports 0,0 when it has no coordinates for the network.
	if lat, lng := record.Location.Latitude, record.Location.Longitude; lat != 0 || lng != 0 {
		loc.Latitude = &lat
		loc.Longitude = &lng
	}

	return loc
}
