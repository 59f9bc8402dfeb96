package weather

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
	ConditionMist    Condition = "mist"
)

// ConditionFromMain maps the provider's "weather[0].main" category onto a Condition.
func ConditionFromMain(main *string) Condition {
	if main == nil {
		return ConditionUnknown
	}
	switch *main {
	case "Clear":
		return ConditionClear
	case "Clouds":
		return ConditionCloudy
	case "Rain", "Drizzle":
		return ConditionRain
	case "Snow":
		return ConditionSnow
	case "Thunderstorm", "Squall", "Tornado":
		return ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke", "Dust", "Sand", "Ash":
		return ConditionMist
	default:
		return ConditionUnknown
	}
}

const (
	cityKeyPrefix   = "city:"
	latLonKeyPrefix = "latlon:"
)

// Location is a monitored place. Key is the human-chosen natural key and is
// globally unique; ID is the surrogate assigned by the registry and never changes.
type Location struct {
	ID        int64     `json:"locationId"`
	Key       string    `json:"locationKey" validate:"required"`
	Name      string    `json:"name"`
	Country   string    `json:"country"`
	Lat       float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lon       float64   `json:"lon" validate:"gte=-180,lte=180"`
	Timezone  *string   `json:"timezone,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CityKey returns the canonical key for a city/country location, e.g. "city:Seattle,US".
func CityKey(city, country string) string {
	city = strings.TrimSpace(city)
	country = strings.TrimSpace(country)
	if country == "" {
		return cityKeyPrefix + city
	}
	return cityKeyPrefix + city + "," + country
}

// LatLonKey returns the canonical key for a coordinate location, e.g. "latlon:47.6062,-122.3321".
func LatLonKey(lat, lon float64) string {
	return latLonKeyPrefix + strconv.FormatFloat(lat, 'f', 4, 64) + "," + strconv.FormatFloat(lon, 'f', 4, 64)
}

// LocationKeyParts is the decoded form of a location key.
type LocationKeyParts struct {
	City    string
	Country string
	Lat     *float64
	Lon     *float64
}

// ParseLocationKey decodes "city:" and "latlon:" keys.
func ParseLocationKey(key string) (LocationKeyParts, error) {
	switch {
	case strings.HasPrefix(key, cityKeyPrefix):
		rest := strings.TrimPrefix(key, cityKeyPrefix)
		city, country, _ := strings.Cut(rest, ",")
		if strings.TrimSpace(city) == "" {
			return LocationKeyParts{}, fmt.Errorf("%w: %q has no city", ErrInvalidLocationKey, key)
		}
		return LocationKeyParts{City: strings.TrimSpace(city), Country: strings.TrimSpace(country)}, nil

	case strings.HasPrefix(key, latLonKeyPrefix):
		rest := strings.TrimPrefix(key, latLonKeyPrefix)
		latStr, lonStr, ok := strings.Cut(rest, ",")
		if !ok {
			return LocationKeyParts{}, fmt.Errorf("%w: %q is not lat,lon", ErrInvalidLocationKey, key)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err != nil {
			return LocationKeyParts{}, fmt.Errorf("%w: %q: %v", ErrInvalidLocationKey, key, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
		if err != nil {
			return LocationKeyParts{}, fmt.Errorf("%w: %q: %v", ErrInvalidLocationKey, key, err)
		}
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return LocationKeyParts{}, fmt.Errorf("%w: %q out of range", ErrInvalidLocationKey, key)
		}
		return LocationKeyParts{Lat: &lat, Lon: &lon}, nil
	}
	return LocationKeyParts{}, fmt.Errorf("%w: %q", ErrInvalidLocationKey, key)
}

// FetchOutcome classifies a single fetch attempt.
type FetchOutcome string

const (
	OutcomeOK             FetchOutcome = "ok"
	OutcomeTransportError FetchOutcome = "transport_error"
	OutcomeProviderError  FetchOutcome = "provider_error"
	OutcomeMalformed      FetchOutcome = "malformed"
)

// FetchResult is everything a fetch attempt produced. Failures are carried in
// Outcome and Err instead of being returned as errors.
type FetchResult struct {
	Outcome       FetchOutcome
	HTTPStatus    *int
	Body          []byte
	RequestParams map[string]string
	DataTimestamp *time.Time
	Err           error
}

// RawResponse is one archived fetch attempt. Immutable once written.
type RawResponse struct {
	IngestionID   uuid.UUID         `json:"ingestionId"`
	IngestedAt    time.Time         `json:"ingestedAt"`
	Source        string            `json:"source"`
	Endpoint      string            `json:"endpoint"`
	LocationID    int64             `json:"locationId"`
	LocationKey   string            `json:"locationKey"`
	RequestParams map[string]string `json:"requestParams"`
	HTTPStatus    *int              `json:"httpStatus"`
	DataTimestamp *time.Time        `json:"dataTimestamp"`
	Payload       json.RawMessage   `json:"payload"`
}

// Succeeded reports whether the archived attempt got a 2xx response.
func (r RawResponse) Succeeded() bool {
	return r.HTTPStatus != nil && *r.HTTPStatus >= 200 && *r.HTTPStatus < 300
}

// Metrics is the typed metric set shared by the curated and latest layers.
// Every field is independently nullable.
type Metrics struct {
	TempC              *float64 `json:"tempC"`
	FeelsLikeC         *float64 `json:"feelsLikeC"`
	HumidityPct        *float64 `json:"humidityPct"`
	PressureHpa        *float64 `json:"pressureHpa"`
	WindSpeedMps       *float64 `json:"windSpeedMps"`
	WindDeg            *float64 `json:"windDeg"`
	CloudsPct          *float64 `json:"cloudsPct"`
	VisibilityM        *float64 `json:"visibilityM"`
	Rain1hMm           *float64 `json:"rain1hMm"`
	Snow1hMm           *float64 `json:"snow1hMm"`
	WeatherMain        *string  `json:"weatherMain"`
	WeatherDescription *string  `json:"weatherDescription"`
}

// Observation is a curated fact keyed by (LocationID, ObservedAt).
type Observation struct {
	LocationID int64     `json:"locationId"`
	ObservedAt time.Time `json:"observedAt"`
	Metrics
	IngestedAt        time.Time  `json:"ingestedAt"`
	SourceIngestionID *uuid.UUID `json:"sourceIngestionId"`
}

// LatestObservation is the materialized newest Observation for a location.
type LatestObservation struct {
	LocationID int64     `json:"locationId"`
	ObservedAt time.Time `json:"observedAt"`
	Metrics
	Condition         Condition  `json:"condition"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	SourceIngestionID *uuid.UUID `json:"sourceIngestionId"`
}

// IngestResult describes one location's pipeline run.
type IngestResult struct {
	LocationID    int64        `json:"locationId"`
	LocationKey   string       `json:"locationKey"`
	IngestionID   uuid.UUID    `json:"ingestionId"`
	Outcome       FetchOutcome `json:"outcome"`
	HTTPStatus    *int         `json:"httpStatus,omitempty"`
	ObservedAt    *time.Time   `json:"observedAt,omitempty"`
	LatestUpdated bool         `json:"latestUpdated"`
	Error         string       `json:"error,omitempty"`
}

// IngestReport aggregates one IngestAll run.
type IngestReport struct {
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  time.Time      `json:"finishedAt"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	ParseErrors int            `json:"parseErrors"`
	Results     []IngestResult `json:"results"`
}
