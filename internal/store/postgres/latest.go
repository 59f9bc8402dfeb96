package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/i474232898/weather-ingest/internal/weather"
)

const latestUpdateSet = `
	observed_at         = EXCLUDED.observed_at,
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
	source_ingestion_id = EXCLUDED.source_ingestion_id,
	updated_at          = EXCLUDED.updated_at`

// ProjectLatest copies the curated row for (locationID, observedAt) into
// mart.weather_latest in a single statement. The existing row is only replaced
// when the incoming observed_at is >= the stored one, so late or retried
// deliveries never regress the projection.
func (w *Warehouse) ProjectLatest(ctx context.Context, locationID int64, observedAt time.Time) (bool, error) {
	query := `
		INSERT INTO mart.weather_latest (
			location_id, observed_at, ` + metricColumns + `, source_ingestion_id, updated_at
		)
		SELECT location_id, observed_at, ` + metricColumns + `, source_ingestion_id, NOW()
		FROM mart.weather_observation
		WHERE location_id = $1 AND observed_at = $2
		ON CONFLICT (location_id) DO UPDATE SET ` + latestUpdateSet + `
		WHERE mart.weather_latest.observed_at <= EXCLUDED.observed_at
	`

	tag, err := w.pool.Exec(ctx, query, locationID, observedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("postgres: failed to project latest: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RebuildLatest recomputes every location's latest row from the curated layer.
// This is the recovery procedure when the projection is suspected to be wrong.
func (w *Warehouse) RebuildLatest(ctx context.Context) (int, error) {
	query := `
		INSERT INTO mart.weather_latest (
			location_id, observed_at, ` + metricColumns + `, source_ingestion_id, updated_at
		)
		SELECT DISTINCT ON (location_id)
			location_id, observed_at, ` + metricColumns + `, source_ingestion_id, NOW()
		FROM mart.weather_observation
		ORDER BY location_id, observed_at DESC
		ON CONFLICT (location_id) DO UPDATE SET ` + latestUpdateSet

	tag, err := w.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to rebuild latest: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetLatest returns the latest observation for a location.
func (w *Warehouse) GetLatest(ctx context.Context, locationID int64) (weather.LatestObservation, error) {
	query := `
		SELECT location_id, observed_at, ` + metricColumns + `, source_ingestion_id, updated_at
		FROM mart.weather_latest
		WHERE location_id = $1
	`

	latest, err := scanLatest(w.pool.QueryRow(ctx, query, locationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return weather.LatestObservation{}, fmt.Errorf("%w: latest for location %d", weather.ErrNotFound, locationID)
	}
	if err != nil {
		return weather.LatestObservation{}, fmt.Errorf("postgres: failed to get latest: %w", err)
	}
	return latest, nil
}

// ListLatest returns every latest row ordered by location id.
func (w *Warehouse) ListLatest(ctx context.Context) ([]weather.LatestObservation, error) {
	query := `
		SELECT location_id, observed_at, ` + metricColumns + `, source_ingestion_id, updated_at
		FROM mart.weather_latest
		ORDER BY location_id
	`

	rows, err := w.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query latest: %w", err)
	}
	defer rows.Close()

	var results []weather.LatestObservation
	for rows.Next() {
		latest, err := scanLatest(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan latest row: %w", err)
		}
		results = append(results, latest)
	}
	return results, rows.Err()
}

// NewestObservedAt returns max(observed_at) over the curated layer, or nil when empty.
func (w *Warehouse) NewestObservedAt(ctx context.Context) (*time.Time, error) {
	var newest *time.Time
	if err := w.pool.QueryRow(ctx, `SELECT MAX(observed_at) FROM mart.weather_observation`).Scan(&newest); err != nil {
		return nil, fmt.Errorf("postgres: failed to query newest observation: %w", err)
	}
	return newest, nil
}

func scanLatest(row pgx.Row) (weather.LatestObservation, error) {
	var (
		latest   weather.LatestObservation
		sourceID *string
	)
	dest := []any{&latest.LocationID, &latest.ObservedAt}
	dest = append(dest, metricDest(&latest.Metrics)...)
	dest = append(dest, &sourceID, &latest.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return weather.LatestObservation{}, err
	}
	id, err := parseUUIDPtr(sourceID)
	if err != nil {
		return weather.LatestObservation{}, err
	}
	latest.SourceIngestionID = id
	latest.Condition = weather.ConditionFromMain(latest.WeatherMain)
	return latest, nil
}
