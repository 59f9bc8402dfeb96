package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-ingest/internal/common"
	"github.com/i474232898/weather-ingest/internal/weather"
)

const (
	DefaultOpenWeatherBaseURL  = "https://api.openweathermap.org/data/2.5"
	DefaultOpenWeatherEndpoint = "weather"
	DefaultOpenWeatherUnits    = "metric"

	openWeatherSource = "openweathermap"
	maxBodyBytes      = 1 << 20
)

// OpenWeatherConfig configures the current-weather fetcher.
type OpenWeatherConfig struct {
	APIKey   string
	BaseURL  string
	Endpoint string
	Units    string
	// Timeout bounds one FetchCurrent call including retries.
	Timeout time.Duration
	Backoff *BackoffConfig
}

// OpenWeatherFetcher implements weather.Fetcher for the OpenWeatherMap current weather API.
type OpenWeatherFetcher struct {
	apiKey   string
	baseURL  string
	endpoint string
	units    string
	timeout  time.Duration
	httpCfg  HTTPClientConfig

	// One breaker per location key so a failing location cannot trip the
	// breaker for its siblings.
	mu       sync.Mutex
	circuits map[string]*gobreaker.CircuitBreaker
}

func NewOpenWeatherFetcher(client *http.Client, cfg OpenWeatherConfig) *OpenWeatherFetcher {
	backoff := DefaultBackoff
	if cfg.Backoff != nil {
		backoff = *cfg.Backoff
	}

	f := &OpenWeatherFetcher{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		endpoint: strings.Trim(cfg.Endpoint, "/"),
		units:    cfg.Units,
		timeout:  cfg.Timeout,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: backoff,
		},
		circuits: make(map[string]*gobreaker.CircuitBreaker),
	}
	if f.baseURL == "" {
		f.baseURL = DefaultOpenWeatherBaseURL
	}
	if f.endpoint == "" {
		f.endpoint = DefaultOpenWeatherEndpoint
	}
	if f.units == "" {
		f.units = DefaultOpenWeatherUnits
	}
	return f
}

var _ weather.Fetcher = (*OpenWeatherFetcher)(nil)

func (p *OpenWeatherFetcher) Source() string {
	return openWeatherSource
}

func (p *OpenWeatherFetcher) Endpoint() string {
	return p.endpoint
}

func (p *OpenWeatherFetcher) circuitFor(key string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	cb, ok := p.circuits[key]
	if !ok {
		cb = newCircuitBreaker("openweather:" + key)
		p.circuits[key] = cb
	}
	return cb
}

func (p *OpenWeatherFetcher) queryValues(loc weather.Location) url.Values {
	values := url.Values{}
	values.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	values.Set("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	values.Set("appid", p.apiKey)
	values.Set("units", p.units)
	return values
}

// RequestParams returns the redacted query parameters FetchCurrent sends for loc.
func (p *OpenWeatherFetcher) RequestParams(loc weather.Location) map[string]string {
	return common.RedactParams(p.queryValues(loc))
}

// FetchCurrent issues one logical GET for loc's coordinates. Every failure is
// reported through the result's Outcome.
func (p *OpenWeatherFetcher) FetchCurrent(ctx context.Context, loc weather.Location) weather.FetchResult {
	values := p.queryValues(loc)
	result := weather.FetchResult{RequestParams: common.RedactParams(values)}

	if p.apiKey == "" {
		result.Outcome = weather.OutcomeTransportError
		result.Err = fmt.Errorf("openweather api key is not configured")
		return result
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	u := fmt.Sprintf("%s/%s?%s", p.baseURL, p.endpoint, values.Encode())
	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuitFor(loc.Key), buildRequest)
	if err != nil {
		result.Outcome = weather.OutcomeTransportError
		result.Err = err
		return result
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	result.HTTPStatus = &status

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		// The status arrived but the body did not; treat as transport failure.
		result.Outcome = weather.OutcomeTransportError
		result.Err = fmt.Errorf("read body: %w", err)
		return result
	}
	result.Body = body

	if status < 200 || status >= 300 {
		result.Outcome = weather.OutcomeProviderError
		result.Err = fmt.Errorf("unexpected status code: %d", status)
		return result
	}

	if err := checkJSONObject(body); err != nil {
		result.Outcome = weather.OutcomeMalformed
		result.Err = err
		return result
	}

	result.Outcome = weather.OutcomeOK
	result.DataTimestamp = weather.ExtractDataTimestamp(body)
	return result
}

func checkJSONObject(body []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	if obj == nil {
		return errors.New("malformed JSON body: not an object")
	}
	return nil
}
