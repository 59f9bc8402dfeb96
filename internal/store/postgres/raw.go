package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/i474232898/weather-ingest/internal/weather"
)

const rawColumns = `ingestion_id, ingested_at, source, endpoint, location_id, location_key,
	request_params, http_status, data_timestamp, payload`

// ArchiveRaw appends one fetch attempt under a freshly generated ingestion id.
// There is no update path for this table.
func (w *Warehouse) ArchiveRaw(ctx context.Context, raw weather.RawResponse) (weather.RawResponse, error) {
	params := raw.RequestParams
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return weather.RawResponse{}, fmt.Errorf("postgres: failed to encode request params: %w", err)
	}

	raw.IngestionID = uuid.New()

	query := `
		INSERT INTO raw.weather_api_responses (
			ingestion_id, source, endpoint, location_id, location_key,
			request_params, http_status, data_timestamp, payload
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9::jsonb)
		RETURNING ingested_at
	`

	err = w.pool.QueryRow(ctx, query,
		raw.IngestionID.String(), raw.Source, raw.Endpoint, raw.LocationID, raw.LocationKey,
		string(paramsJSON), raw.HTTPStatus, raw.DataTimestamp, string(raw.Payload),
	).Scan(&raw.IngestedAt)
	if err != nil {
		return weather.RawResponse{}, fmt.Errorf("postgres: failed to insert raw response: %w", err)
	}
	raw.RequestParams = params
	return raw, nil
}

// GetRaw returns one archived response.
func (w *Warehouse) GetRaw(ctx context.Context, id uuid.UUID) (weather.RawResponse, error) {
	query := `SELECT ` + rawColumns + ` FROM raw.weather_api_responses WHERE ingestion_id = $1`

	raw, err := scanRaw(w.pool.QueryRow(ctx, query, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return weather.RawResponse{}, fmt.Errorf("%w: ingestion %s", weather.ErrNotFound, id)
	}
	if err != nil {
		return weather.RawResponse{}, fmt.Errorf("postgres: failed to get raw response %s: %w", id, err)
	}
	return raw, nil
}

// ListRaw returns the newest archived responses for a location first.
func (w *Warehouse) ListRaw(ctx context.Context, locationID int64, limit int) ([]weather.RawResponse, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + rawColumns + `
		FROM raw.weather_api_responses
		WHERE location_id = $1
		ORDER BY ingested_at DESC
		LIMIT $2
	`

	rows, err := w.pool.Query(ctx, query, locationID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query raw responses: %w", err)
	}
	defer rows.Close()

	var results []weather.RawResponse
	for rows.Next() {
		raw, err := scanRaw(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan raw row: %w", err)
		}
		results = append(results, raw)
	}
	return results, rows.Err()
}

func scanRaw(row pgx.Row) (weather.RawResponse, error) {
	var (
		raw        weather.RawResponse
		id         string
		paramsJSON []byte
		payload    []byte
	)
	err := row.Scan(
		&id, &raw.IngestedAt, &raw.Source, &raw.Endpoint, &raw.LocationID, &raw.LocationKey,
		&paramsJSON, &raw.HTTPStatus, &raw.DataTimestamp, &payload,
	)
	if err != nil {
		return weather.RawResponse{}, err
	}

	if raw.IngestionID, err = uuid.Parse(id); err != nil {
		return weather.RawResponse{}, err
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &raw.RequestParams); err != nil {
			return weather.RawResponse{}, fmt.Errorf("decode request_params: %w", err)
		}
	}
	raw.Payload = json.RawMessage(payload)
	return raw, nil
}
