package weather

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ping checks warehouse connectivity.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SeedLocations upserts registry rows. Existing keys keep their surrogate id.
func (s *Service) SeedLocations(ctx context.Context, locs []Location) ([]Location, error) {
	out := make([]Location, 0, len(locs))
	for _, loc := range locs {
		saved, err := s.store.UpsertLocation(ctx, loc)
		if err != nil {
			return out, err
		}
		out = append(out, saved)
	}
	return out, nil
}

// DeactivateLocation soft-deletes a location.
func (s *Service) DeactivateLocation(ctx context.Context, key string) error {
	return s.store.DeactivateLocation(ctx, key)
}

// GetLocation looks a location up by key.
func (s *Service) GetLocation(ctx context.Context, key string) (Location, error) {
	return s.store.GetLocationByKey(ctx, key)
}

// ListLocations delegates to the registry.
func (s *Service) ListLocations(ctx context.Context, activeOnly bool) ([]Location, error) {
	return s.store.ListLocations(ctx, activeOnly)
}

// GetLatest returns the latest observation for a location key.
func (s *Service) GetLatest(ctx context.Context, key string) (LatestObservation, error) {
	loc, err := s.store.GetLocationByKey(ctx, key)
	if err != nil {
		return LatestObservation{}, err
	}
	return s.store.GetLatest(ctx, loc.ID)
}

// ListLatest returns the latest observation of every location that has one.
func (s *Service) ListLatest(ctx context.Context) ([]LatestObservation, error) {
	return s.store.ListLatest(ctx)
}

// GetRange returns curated observations for a location key between from and to (inclusive).
func (s *Service) GetRange(ctx context.Context, key string, from, to time.Time, limit int) ([]Observation, error) {
	loc, err := s.store.GetLocationByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.store.ListObservations(ctx, loc.ID, from, to, limit)
}

// GetRaw returns one archived response.
func (s *Service) GetRaw(ctx context.Context, id uuid.UUID) (RawResponse, error) {
	return s.store.GetRaw(ctx, id)
}

// ListRaw returns the most recent archived responses for a location key.
func (s *Service) ListRaw(ctx context.Context, key string, limit int) ([]RawResponse, error) {
	loc, err := s.store.GetLocationByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.store.ListRaw(ctx, loc.ID, limit)
}
