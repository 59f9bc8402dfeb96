package weather

import (
	"context"
	"fmt"
	"time"
)

// DefaultMaxLag is the freshness threshold used when none is configured.
const DefaultMaxLag = 180 * time.Minute

// CheckQuality verifies that the latest projection covers at least
// max(1, expected) locations and that the newest curated observation is no
// older than maxLag.
func (s *Service) CheckQuality(ctx context.Context, expected int, maxLag time.Duration) error {
	if maxLag <= 0 {
		maxLag = DefaultMaxLag
	}
	if expected < 1 {
		expected = 1
	}

	latest, err := s.store.ListLatest(ctx)
	if err != nil {
		return fmt.Errorf("%w: list latest: %v", ErrStorage, err)
	}
	if len(latest) < expected {
		return fmt.Errorf("%w: latest projection has %d rows, expected >= %d", ErrQuality, len(latest), expected)
	}

	newest, err := s.store.NewestObservedAt(ctx)
	if err != nil {
		return fmt.Errorf("%w: newest observation: %v", ErrStorage, err)
	}
	if newest == nil {
		return fmt.Errorf("%w: no curated observations", ErrQuality)
	}

	if lag := time.Since(*newest); lag > maxLag {
		return fmt.Errorf("%w: data is stale: newest=%s lag=%s", ErrQuality, newest.Format(time.RFC3339), lag.Round(time.Second))
	}
	return nil
}
