package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/i474232898/weather-ingest/internal/config"
	"github.com/i474232898/weather-ingest/internal/geocode"
	"github.com/i474232898/weather-ingest/internal/store"
	"github.com/i474232898/weather-ingest/internal/store/postgres"
	"github.com/i474232898/weather-ingest/internal/weather"
	"github.com/i474232898/weather-ingest/internal/weather/providers"
)

var rootCmd = &cobra.Command{
	Use:   "weather-ingest",
	Short: "Idempotent weather ingestion pipeline",
	Long: `weather-ingest fetches current weather for registered locations,
archives every provider response, merges curated observations and keeps a
latest-per-location projection.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds everything a command needs.
type app struct {
	cfg       *config.AppConfig
	service   *weather.Service
	warehouse *postgres.Warehouse // nil when running on the in-memory store
}

func (a *app) Close() {
	if a.warehouse != nil {
		a.warehouse.Close()
	}
}

// newApp loads configuration and wires the store, fetcher and service.
// Without a database the in-memory store is used and seeded from
// WEATHER_LOCATIONS, since nothing else could populate it.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &app{cfg: cfg}

	var wh weather.Warehouse
	if cfg.DatabaseURL != "" {
		a.warehouse, err = postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		wh = a.warehouse
	} else {
		log.Println("INFO: no DATABASE_URL or PGHOST set; using in-memory store")
		wh = store.NewMemoryStore()
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	openWeather := providers.NewOpenWeatherFetcher(httpClient, providers.OpenWeatherConfig{
		APIKey:   cfg.OpenWeatherAPIKey,
		BaseURL:  cfg.OpenWeatherBaseURL,
		Endpoint: cfg.OpenWeatherEndpoint,
		Units:    cfg.OpenWeatherUnits,
		Timeout:  cfg.HTTPTimeout,
	})
	fetcher := providers.NewRateLimitedFetcher(openWeather, cfg.RateLimitRPS, cfg.RateLimitBurst)

	a.service = weather.NewService(wh, fetcher, cfg.IngestConcurrency)

	if a.warehouse == nil {
		if _, err := a.seed(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// seed upserts the configured locations, geocoding any without coordinates.
func (a *app) seed(ctx context.Context) ([]weather.Location, error) {
	if len(a.cfg.Locations) == 0 {
		return nil, nil
	}
	resolver := geocode.NewResolver(a.cfg.GeocoderAPIKey)
	locs, err := resolver.Complete(ctx, a.cfg.Locations)
	if err != nil {
		return nil, err
	}
	return a.service.SeedLocations(ctx, locs)
}

// migrate applies schema migrations when a database is configured.
func (a *app) migrate(ctx context.Context) error {
	if a.warehouse == nil {
		return nil
	}
	return a.warehouse.Migrate(ctx)
}

// withApp runs fn with a fully wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
