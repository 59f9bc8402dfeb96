package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/i474232898/weather-ingest/internal/weather"
)

const locationColumns = `location_id, location_key, name, country, lat, lon, timezone, is_active, created_at, updated_at`

// UpsertLocation inserts a location or refreshes its metadata. location_id never changes.
func (w *Warehouse) UpsertLocation(ctx context.Context, loc weather.Location) (weather.Location, error) {
	query := `
		INSERT INTO dim.location (location_key, name, country, lat, lon, timezone, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (location_key) DO UPDATE SET
			name       = EXCLUDED.name,
			country    = EXCLUDED.country,
			lat        = EXCLUDED.lat,
			lon        = EXCLUDED.lon,
			timezone   = EXCLUDED.timezone,
			is_active  = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING ` + locationColumns

	row := w.pool.QueryRow(ctx, query,
		loc.Key, loc.Name, loc.Country, loc.Lat, loc.Lon, loc.Timezone, loc.IsActive,
	)
	saved, err := scanLocation(row)
	if err != nil {
		return weather.Location{}, fmt.Errorf("postgres: failed to upsert location %s: %w", loc.Key, err)
	}
	return saved, nil
}

// GetLocationByKey returns a location by natural key.
func (w *Warehouse) GetLocationByKey(ctx context.Context, key string) (weather.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM dim.location WHERE location_key = $1`

	loc, err := scanLocation(w.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return weather.Location{}, fmt.Errorf("%w: location %s", weather.ErrNotFound, key)
	}
	if err != nil {
		return weather.Location{}, fmt.Errorf("postgres: failed to get location %s: %w", key, err)
	}
	return loc, nil
}

// ListLocations returns locations ordered by id.
func (w *Warehouse) ListLocations(ctx context.Context, activeOnly bool) ([]weather.Location, error) {
	query := `
		SELECT ` + locationColumns + `
		FROM dim.location
		WHERE is_active OR NOT $1
		ORDER BY location_id
	`

	rows, err := w.pool.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query locations: %w", err)
	}
	defer rows.Close()

	var results []weather.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan location row: %w", err)
		}
		results = append(results, loc)
	}
	return results, rows.Err()
}

// DeactivateLocation clears is_active; rows are never deleted.
func (w *Warehouse) DeactivateLocation(ctx context.Context, key string) error {
	tag, err := w.pool.Exec(ctx,
		`UPDATE dim.location SET is_active = FALSE, updated_at = NOW() WHERE location_key = $1`, key)
	if err != nil {
		return fmt.Errorf("postgres: failed to deactivate location %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: location %s", weather.ErrNotFound, key)
	}
	return nil
}

func scanLocation(row pgx.Row) (weather.Location, error) {
	var loc weather.Location
	err := row.Scan(
		&loc.ID, &loc.Key, &loc.Name, &loc.Country, &loc.Lat, &loc.Lon,
		&loc.Timezone, &loc.IsActive, &loc.CreatedAt, &loc.UpdatedAt,
	)
	return loc, err
}
