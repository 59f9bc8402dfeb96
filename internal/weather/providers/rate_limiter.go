package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/i474232898/weather-ingest/internal/weather"
)

// RateLimitedFetcher wraps a weather.Fetcher with a token bucket shared by all locations.
type RateLimitedFetcher struct {
	fetcher weather.Fetcher
	limiter *rate.Limiter
}

// NewRateLimitedFetcher creates a new rate limited fetcher.
// rps is the maximum requests per second allowed (can be fractional for less than 1 request per second)
// burst is the maximum burst size allowed
func NewRateLimitedFetcher(fetcher weather.Fetcher, rps float64, burst int) *RateLimitedFetcher {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedFetcher{
		fetcher: fetcher,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

var _ weather.Fetcher = (*RateLimitedFetcher)(nil)

// paramsReporter is implemented by fetchers that can describe a request
// without sending it.
type paramsReporter interface {
	RequestParams(loc weather.Location) map[string]string
}

func (r *RateLimitedFetcher) Source() string {
	return r.fetcher.Source()
}

func (r *RateLimitedFetcher) Endpoint() string {
	return r.fetcher.Endpoint()
}

// FetchCurrent waits for a token, then forwards. A cancelled wait is a transport failure.
func (r *RateLimitedFetcher) FetchCurrent(ctx context.Context, loc weather.Location) weather.FetchResult {
	if err := r.limiter.Wait(ctx); err != nil {
		res := weather.FetchResult{
			Outcome: weather.OutcomeTransportError,
			Err:     fmt.Errorf("rate limit wait canceled: %w", err),
		}
		if pr, ok := r.fetcher.(paramsReporter); ok {
			res.RequestParams = pr.RequestParams(loc)
		}
		return res
	}
	return r.fetcher.FetchCurrent(ctx, loc)
}
