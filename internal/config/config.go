package config

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/weather-ingest/internal/weather"
)

type AppConfig struct {
	OpenWeatherAPIKey   string
	OpenWeatherBaseURL  string        `validate:"required,url"`
	OpenWeatherEndpoint string        `validate:"required"`
	OpenWeatherUnits    string        `validate:"eq=metric"` // curated columns are metric
	RateLimitRPS        float64       `validate:"gt=0"`
	RateLimitBurst      int           `validate:"gte=1"`
	HTTPTimeout         time.Duration `validate:"gt=0"`

	// DatabaseURL is empty when no database is configured; the in-memory
	// store is used in that case.
	DatabaseURL string

	// FetchInterval controls how often all active locations are ingested.
	FetchInterval     time.Duration `validate:"gt=0"`
	IngestConcurrency int           `validate:"gte=1"`

	DQEnabled bool
	DQMaxLag  time.Duration `validate:"gt=0"`

	// Locations to seed into the registry.
	Locations      []LocationSpec `validate:"dive"`
	GeocoderAPIKey string

	Port string `validate:"required,numeric"`
}

// LocationSpec is one WEATHER_LOCATIONS entry. Lat/Lon are nil when the entry
// leaves them blank and they have to be geocoded.
type LocationSpec struct {
	Key      string `validate:"required"`
	Name     string
	Country  string
	Lat      *float64 `validate:"omitempty,gte=-90,lte=90"`
	Lon      *float64 `validate:"omitempty,gte=-180,lte=180"`
	Timezone *string
}

// Location converts the spec into a registry row. ok is false when the
// coordinates are still unknown.
func (s LocationSpec) Location() (weather.Location, bool) {
	loc := weather.Location{
		Key:      s.Key,
		Name:     s.Name,
		Country:  s.Country,
		Timezone: s.Timezone,
		IsActive: true,
	}
	if s.Lat == nil || s.Lon == nil {
		return loc, false
	}
	loc.Lat, loc.Lon = *s.Lat, *s.Lon
	return loc, true
}

var validate = validator.New()

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.OpenWeatherBaseURL = getenvDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5")
	cfg.OpenWeatherEndpoint = getenvDefault("OPENWEATHER_ENDPOINT", "weather")
	cfg.OpenWeatherUnits = getenvDefault("OPENWEATHER_UNITS", "metric")
	cfg.RateLimitBurst = getenvInt("OPENWEATHER_RATE_LIMIT_BURST", 5)

	rps, err := strconv.ParseFloat(getenvDefault("OPENWEATHER_RATE_LIMIT_RPS", "1"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OPENWEATHER_RATE_LIMIT_RPS: %w", err)
	}
	cfg.RateLimitRPS = rps

	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "15s"); err != nil {
		return nil, err
	}

	cfg.DatabaseURL = databaseURL()

	// Scheduler interval: hourly by default.
	if cfg.FetchInterval, err = getenvDuration("FETCH_INTERVAL", "1h"); err != nil {
		return nil, err
	}
	cfg.IngestConcurrency = getenvInt("INGEST_CONCURRENCY", 8)

	cfg.DQEnabled = getenvBool("DQ_ENABLED", false)
	if cfg.DQMaxLag, err = getenvDuration("DQ_MAX_LAG", "180m"); err != nil {
		return nil, err
	}

	if cfg.Locations, err = ParseLocations(os.Getenv("WEATHER_LOCATIONS")); err != nil {
		return nil, err
	}
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	cfg.Port = getenvDefault("PORT", "8080")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseLocations decodes a ';'-separated list of "key|name|country|lat|lon[|tz]"
// entries. An entry may also be a bare key; name, country and coordinates are
// then derived from the key where possible.
func ParseLocations(raw string) ([]LocationSpec, error) {
	var specs []LocationSpec
	seen := make(map[string]bool)

	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		fields := strings.Split(entry, "|")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(fields) != 1 && len(fields) != 5 && len(fields) != 6 {
			return nil, fmt.Errorf("invalid WEATHER_LOCATIONS entry %q: want key|name|country|lat|lon[|tz]", entry)
		}

		spec := LocationSpec{Key: fields[0]}
		parts, err := weather.ParseLocationKey(spec.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid WEATHER_LOCATIONS entry %q: %w", entry, err)
		}
		spec.Name, spec.Country = parts.City, parts.Country
		spec.Lat, spec.Lon = parts.Lat, parts.Lon

		if len(fields) >= 5 {
			if fields[1] != "" {
				spec.Name = fields[1]
			}
			if fields[2] != "" {
				spec.Country = fields[2]
			}
			if spec.Lat, err = optionalFloat(fields[3], spec.Lat); err != nil {
				return nil, fmt.Errorf("invalid latitude in %q: %w", entry, err)
			}
			if spec.Lon, err = optionalFloat(fields[4], spec.Lon); err != nil {
				return nil, fmt.Errorf("invalid longitude in %q: %w", entry, err)
			}
		}
		if len(fields) == 6 && fields[5] != "" {
			tz := fields[5]
			if _, err := time.LoadLocation(tz); err != nil {
				return nil, fmt.Errorf("invalid timezone in %q: %w", entry, err)
			}
			spec.Timezone = &tz
		}

		if seen[spec.Key] {
			return nil, fmt.Errorf("duplicate location key %q in WEATHER_LOCATIONS", spec.Key)
		}
		seen[spec.Key] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

func optionalFloat(s string, fallback *float64) (*float64, error) {
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// databaseURL prefers DATABASE_URL and otherwise assembles a DSN from the
// libpq PG* variables. It returns "" when neither is set.
func databaseURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	host := os.Getenv("PGHOST")
	if host == "" {
		return ""
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, getenvDefault("PGPORT", "5432")),
		Path:   "/" + getenvDefault("PGDATABASE", "weather"),
	}
	if user := os.Getenv("PGUSER"); user != "" {
		if pw, ok := os.LookupEnv("PGPASSWORD"); ok {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	q := url.Values{}
	q.Set("sslmode", getenvDefault("PGSSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
