package geocode

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-ingest/internal/config"
	"github.com/i474232898/weather-ingest/internal/weather"
)

// ErrNoAPIKey is returned when a location needs coordinates but no geocoder key is configured.
var ErrNoAPIKey = errors.New("geocode: GEOCODER_API_KEY is not set")

// Resolver looks up coordinates for city locations through the Google
// geocoding API.
type Resolver struct {
	lookup func(geocoder.Address) (geocoder.Location, error)
}

// NewResolver returns a Resolver, or nil when apiKey is empty.
func NewResolver(apiKey string) *Resolver {
	if apiKey == "" {
		return nil
	}
	geocoder.ApiKey = apiKey
	return &Resolver{lookup: geocoder.Geocoding}
}

// Resolve returns the coordinates of city, country.
func (r *Resolver) Resolve(ctx context.Context, city, country string) (lat, lon float64, err error) {
	if r == nil {
		return 0, 0, ErrNoAPIKey
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	loc, err := r.lookup(geocoder.Address{City: city, Country: country})
	if err != nil {
		return 0, 0, fmt.Errorf("geocode: %s, %s: %w", city, country, err)
	}
	return loc.Latitude, loc.Longitude, nil
}

// Complete turns location specs into registry rows, geocoding the ones that
// have no coordinates.
func (r *Resolver) Complete(ctx context.Context, specs []config.LocationSpec) ([]weather.Location, error) {
	locs := make([]weather.Location, 0, len(specs))
	for _, spec := range specs {
		loc, ok := spec.Location()
		if !ok {
			lat, lon, err := r.Resolve(ctx, spec.Name, spec.Country)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", spec.Key, err)
			}
			loc.Lat, loc.Lon = lat, lon
			log.Printf("INFO: geocode: resolved %s to %.4f,%.4f", spec.Key, lat, lon)
		}
		locs = append(locs, loc)
	}
	return locs, nil
}
