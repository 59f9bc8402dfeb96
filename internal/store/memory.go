package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-ingest/internal/weather"
)

type observationKey struct {
	locationID int64
	observedAt int64 // unix nanoseconds, UTC
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.Warehouse.
// A single lock stands in for the statement-level atomicity the warehouse provides.
type MemoryStore struct {
	mu sync.RWMutex

	nextLocationID int64
	locations      map[string]*weather.Location // key: location key

	raw      map[uuid.UUID]weather.RawResponse
	rawOrder []uuid.UUID // insertion order

	observations map[observationKey]weather.Observation
	latest       map[int64]weather.LatestObservation

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations:    make(map[string]*weather.Location),
		raw:          make(map[uuid.UUID]weather.RawResponse),
		observations: make(map[observationKey]weather.Observation),
		latest:       make(map[int64]weather.LatestObservation),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

var _ weather.Warehouse = (*MemoryStore)(nil)

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// UpsertLocation inserts a location or updates its metadata, keeping the id.
func (s *MemoryStore) UpsertLocation(ctx context.Context, loc weather.Location) (weather.Location, error) {
	if loc.Key == "" {
		return weather.Location{}, fmt.Errorf("%w: empty key", weather.ErrInvalidLocationKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.locations[loc.Key]
	if !ok {
		s.nextLocationID++
		loc.ID = s.nextLocationID
		loc.CreatedAt = now
		loc.UpdatedAt = now
		stored := loc
		s.locations[loc.Key] = &stored
		return stored, nil
	}

	existing.Name = loc.Name
	existing.Country = loc.Country
	existing.Lat = loc.Lat
	existing.Lon = loc.Lon
	existing.Timezone = loc.Timezone
	existing.IsActive = loc.IsActive
	existing.UpdatedAt = now
	return *existing, nil
}

// GetLocationByKey returns a location by natural key.
func (s *MemoryStore) GetLocationByKey(ctx context.Context, key string) (weather.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locations[key]
	if !ok {
		return weather.Location{}, fmt.Errorf("%w: location %s", weather.ErrNotFound, key)
	}
	return *loc, nil
}

// ListLocations returns locations ordered by id.
func (s *MemoryStore) ListLocations(ctx context.Context, activeOnly bool) ([]weather.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]weather.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		if activeOnly && !loc.IsActive {
			continue
		}
		result = append(result, *loc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DeactivateLocation clears the active flag.
func (s *MemoryStore) DeactivateLocation(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[key]
	if !ok {
		return fmt.Errorf("%w: location %s", weather.ErrNotFound, key)
	}
	loc.IsActive = false
	loc.UpdatedAt = s.now()
	return nil
}

// ArchiveRaw appends a raw response under a fresh ingestion id.
func (s *MemoryStore) ArchiveRaw(ctx context.Context, raw weather.RawResponse) (weather.RawResponse, error) {
	if err := ctx.Err(); err != nil {
		return weather.RawResponse{}, err
	}
	if !json.Valid(raw.Payload) {
		return weather.RawResponse{}, fmt.Errorf("payload is not valid JSON")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLocationID(raw.LocationID) {
		return weather.RawResponse{}, fmt.Errorf("location_id %d violates foreign key", raw.LocationID)
	}

	raw.IngestionID = uuid.New()
	raw.IngestedAt = s.now()
	raw.Payload = append(json.RawMessage(nil), raw.Payload...)
	raw.RequestParams = cloneParams(raw.RequestParams)

	s.raw[raw.IngestionID] = raw
	s.rawOrder = append(s.rawOrder, raw.IngestionID)
	return raw, nil
}

// GetRaw returns one archived response.
func (s *MemoryStore) GetRaw(ctx context.Context, id uuid.UUID) (weather.RawResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.raw[id]
	if !ok {
		return weather.RawResponse{}, fmt.Errorf("%w: ingestion %s", weather.ErrNotFound, id)
	}
	return raw, nil
}

// ListRaw returns the newest archived responses for a location first.
func (s *MemoryStore) ListRaw(ctx context.Context, locationID int64, limit int) ([]weather.RawResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.RawResponse
	for i := len(s.rawOrder) - 1; i >= 0; i-- {
		raw := s.raw[s.rawOrder[i]]
		if raw.LocationID != locationID {
			continue
		}
		result = append(result, raw)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// UpsertObservation inserts or fully replaces the row for (location, observed_at).
func (s *MemoryStore) UpsertObservation(ctx context.Context, obs weather.Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasLocationID(obs.LocationID) {
		return fmt.Errorf("location_id %d violates foreign key", obs.LocationID)
	}

	obs.ObservedAt = obs.ObservedAt.UTC()
	obs.Metrics = cloneMetrics(obs.Metrics)
	s.observations[keyOf(obs.LocationID, obs.ObservedAt)] = obs
	return nil
}

// ListObservations returns observations between from and to (inclusive), newest first.
func (s *MemoryStore) ListObservations(ctx context.Context, locationID int64, from, to time.Time, limit int) ([]weather.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []weather.Observation
	for k, obs := range s.observations {
		if k.locationID != locationID {
			continue
		}
		if obs.ObservedAt.Before(from) || obs.ObservedAt.After(to) {
			continue
		}
		result = append(result, obs)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ObservedAt.After(result[j].ObservedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ProjectLatest copies the curated row for (location, observedAt) into the latest
// projection unless the projection already holds a newer observation.
func (s *MemoryStore) ProjectLatest(ctx context.Context, locationID int64, observedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obs, ok := s.observations[keyOf(locationID, observedAt)]
	if !ok {
		return false, nil
	}
	if current, ok := s.latest[locationID]; ok && current.ObservedAt.After(obs.ObservedAt) {
		return false, nil
	}
	s.latest[locationID] = s.latestFrom(obs)
	return true, nil
}

// RebuildLatest recomputes the projection from the curated layer.
func (s *MemoryStore) RebuildLatest(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newest := make(map[int64]weather.Observation)
	for _, obs := range s.observations {
		if cur, ok := newest[obs.LocationID]; !ok || obs.ObservedAt.After(cur.ObservedAt) {
			newest[obs.LocationID] = obs
		}
	}
	for locID, obs := range newest {
		s.latest[locID] = s.latestFrom(obs)
	}
	return len(newest), nil
}

// GetLatest returns the latest observation for a location.
func (s *MemoryStore) GetLatest(ctx context.Context, locationID int64) (weather.LatestObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest, ok := s.latest[locationID]
	if !ok {
		return weather.LatestObservation{}, fmt.Errorf("%w: latest for location %d", weather.ErrNotFound, locationID)
	}
	return latest, nil
}

// ListLatest returns every latest row ordered by location id.
func (s *MemoryStore) ListLatest(ctx context.Context) ([]weather.LatestObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]weather.LatestObservation, 0, len(s.latest))
	for _, l := range s.latest {
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LocationID < result[j].LocationID })
	return result, nil
}

// NewestObservedAt returns the max observed_at across all curated rows.
func (s *MemoryStore) NewestObservedAt(ctx context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *time.Time
	for _, obs := range s.observations {
		if newest == nil || obs.ObservedAt.After(*newest) {
			ts := obs.ObservedAt
			newest = &ts
		}
	}
	return newest, nil
}

// ObservationCount returns the number of curated rows for a location.
func (s *MemoryStore) ObservationCount(locationID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for k := range s.observations {
		if k.locationID == locationID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) latestFrom(obs weather.Observation) weather.LatestObservation {
	return weather.LatestObservation{
		LocationID:        obs.LocationID,
		ObservedAt:        obs.ObservedAt,
		Metrics:           cloneMetrics(obs.Metrics),
		Condition:         weather.ConditionFromMain(obs.WeatherMain),
		UpdatedAt:         s.now(),
		SourceIngestionID: obs.SourceIngestionID,
	}
}

func (s *MemoryStore) hasLocationID(id int64) bool {
	for _, loc := range s.locations {
		if loc.ID == id {
			return true
		}
	}
	return false
}

func keyOf(locationID int64, observedAt time.Time) observationKey {
	return observationKey{locationID: locationID, observedAt: observedAt.UTC().UnixNano()}
}

func cloneParams(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneMetrics(m weather.Metrics) weather.Metrics {
	return weather.Metrics{
		TempC:              cloneFloat(m.TempC),
		FeelsLikeC:         cloneFloat(m.FeelsLikeC),
		HumidityPct:        cloneFloat(m.HumidityPct),
		PressureHpa:        cloneFloat(m.PressureHpa),
		WindSpeedMps:       cloneFloat(m.WindSpeedMps),
		WindDeg:            cloneFloat(m.WindDeg),
		CloudsPct:          cloneFloat(m.CloudsPct),
		VisibilityM:        cloneFloat(m.VisibilityM),
		Rain1hMm:           cloneFloat(m.Rain1hMm),
		Snow1hMm:           cloneFloat(m.Snow1hMm),
		WeatherMain:        cloneString(m.WeatherMain),
		WeatherDescription: cloneString(m.WeatherDescription),
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
