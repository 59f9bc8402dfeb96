package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/i474232898/weather-ingest/internal/weather"
)

const metricColumns = `temp_c, feels_like_c, humidity_pct, pressure_hpa,
	wind_speed_mps, wind_deg, clouds_pct, visibility_m,
	rain_1h_mm, snow_1h_mm,
	weather_main, weather_description`

// UpsertObservation merges one curated row keyed by (location_id, observed_at).
// An existing row is overwritten unconditionally: the last processed write wins.
func (w *Warehouse) UpsertObservation(ctx context.Context, obs weather.Observation) error {
	query := `
		INSERT INTO mart.weather_observation (
			location_id, observed_at,
			` + metricColumns + `,
			ingested_at, source_ingestion_id
		) VALUES (
			$1, $2,
			$3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14,
			$15, $16
		)
		ON CONFLICT (location_id, observed_at) DO UPDATE SET
			temp_c              = EXCLUDED.temp_c,
			feels_like_c        = EXCLUDED.feels_like_c,
			humidity_pct        = EXCLUDED.humidity_pct,
			pressure_hpa        = EXCLUDED.pressure_hpa,
			wind_speed_mps      = EXCLUDED.wind_speed_mps,
			wind_deg            = EXCLUDED.wind_deg,
			clouds_pct          = EXCLUDED.clouds_pct,
			visibility_m        = EXCLUDED.visibility_m,
			rain_1h_mm          = EXCLUDED.rain_1h_mm,
			snow_1h_mm          = EXCLUDED.snow_1h_mm,
			weather_main        = EXCLUDED.weather_main,
			weather_description = EXCLUDED.weather_description,
			ingested_at         = EXCLUDED.ingested_at,
			source_ingestion_id = EXCLUDED.source_ingestion_id
	`

	ingestedAt := obs.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	args := []any{obs.LocationID, obs.ObservedAt.UTC()}
	args = append(args, metricArgs(obs.Metrics)...)
	args = append(args, ingestedAt, uuidArg(obs.SourceIngestionID))

	if _, err := w.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: failed to upsert observation: %w", err)
	}
	return nil
}

// ListObservations returns observations between from and to (inclusive), newest first.
func (w *Warehouse) ListObservations(ctx context.Context, locationID int64, from, to time.Time, limit int) ([]weather.Observation, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT location_id, observed_at, ` + metricColumns + `, ingested_at, source_ingestion_id
		FROM mart.weather_observation
		WHERE location_id = $1 AND observed_at BETWEEN $2 AND $3
		ORDER BY observed_at DESC
		LIMIT $4
	`

	rows, err := w.pool.Query(ctx, query, locationID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query observations: %w", err)
	}
	defer rows.Close()

	var results []weather.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan observation row: %w", err)
		}
		results = append(results, obs)
	}
	return results, rows.Err()
}

func scanObservation(row pgx.Row) (weather.Observation, error) {
	var (
		obs      weather.Observation
		sourceID *string
	)
	dest := []any{&obs.LocationID, &obs.ObservedAt}
	dest = append(dest, metricDest(&obs.Metrics)...)
	dest = append(dest, &obs.IngestedAt, &sourceID)

	if err := row.Scan(dest...); err != nil {
		return weather.Observation{}, err
	}
	id, err := parseUUIDPtr(sourceID)
	if err != nil {
		return weather.Observation{}, err
	}
	obs.SourceIngestionID = id
	return obs, nil
}

func metricArgs(m weather.Metrics) []any {
	return []any{
		m.TempC, m.FeelsLikeC, m.HumidityPct, m.PressureHpa,
		m.WindSpeedMps, m.WindDeg, m.CloudsPct, m.VisibilityM,
		m.Rain1hMm, m.Snow1hMm,
		m.WeatherMain, m.WeatherDescription,
	}
}

func metricDest(m *weather.Metrics) []any {
	return []any{
		&m.TempC, &m.FeelsLikeC, &m.HumidityPct, &m.PressureHpa,
		&m.WindSpeedMps, &m.WindDeg, &m.CloudsPct, &m.VisibilityM,
		&m.Rain1hMm, &m.Snow1hMm,
		&m.WeatherMain, &m.WeatherDescription,
	}
}

func uuidArg(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func parseUUIDPtr(s *string) (*uuid.UUID, error) {
	if s == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
