package weather

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher abstracts the provider's current-weather endpoint.
type Fetcher interface {
	Source() string
	Endpoint() string
	FetchCurrent(ctx context.Context, loc Location) FetchResult
}

// LocationRepository is the location registry.
type LocationRepository interface {
	UpsertLocation(ctx context.Context, loc Location) (Location, error)
	GetLocationByKey(ctx context.Context, key string) (Location, error)
	ListLocations(ctx context.Context, activeOnly bool) ([]Location, error)
	DeactivateLocation(ctx context.Context, key string) error
}

// RawArchive is the append-only raw layer.
type RawArchive interface {
	ArchiveRaw(ctx context.Context, raw RawResponse) (RawResponse, error)
	GetRaw(ctx context.Context, id uuid.UUID) (RawResponse, error)
	ListRaw(ctx context.Context, locationID int64, limit int) ([]RawResponse, error)
}

// ObservationStore is the curated fact layer.
type ObservationStore interface {
	UpsertObservation(ctx context.Context, obs Observation) error
	ListObservations(ctx context.Context, locationID int64, from, to time.Time, limit int) ([]Observation, error)
}

// LatestStore is the latest-per-location projection. It only ever reads
// from the curated layer.
type LatestStore interface {
	ProjectLatest(ctx context.Context, locationID int64, observedAt time.Time) (bool, error)
	RebuildLatest(ctx context.Context) (int, error)
	GetLatest(ctx context.Context, locationID int64) (LatestObservation, error)
	ListLatest(ctx context.Context) ([]LatestObservation, error)
	NewestObservedAt(ctx context.Context) (*time.Time, error)
}

// Warehouse is the contract the in-memory store and the Postgres warehouse satisfy.
type Warehouse interface {
	LocationRepository
	RawArchive
	ObservationStore
	LatestStore
	Ping(ctx context.Context) error
}
