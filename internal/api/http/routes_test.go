package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-ingest/internal/store"
	"github.com/i474232898/weather-ingest/internal/weather"
)

type stubFetcher struct {
	status int
	body   string
}

func (f stubFetcher) Source() string   { return "openweathermap" }
func (f stubFetcher) Endpoint() string { return "weather" }

func (f stubFetcher) FetchCurrent(ctx context.Context, loc weather.Location) weather.FetchResult {
	status := f.status
	res := weather.FetchResult{
		HTTPStatus:    &status,
		Body:          []byte(f.body),
		RequestParams: map[string]string{"appid": "***"},
		Outcome:       weather.OutcomeOK,
	}
	if status >= 300 {
		res.Outcome = weather.OutcomeProviderError
	}
	return res
}

const seattleKey = "city:Seattle,US"

func newTestApp(t *testing.T, fetcher weather.Fetcher) (*fiber.App, *weather.Service) {
	t.Helper()

	memStore := store.NewMemoryStore()
	svc := weather.NewService(memStore, fetcher, 2)
	_, err := svc.SeedLocations(context.Background(), []weather.Location{
		{Key: seattleKey, Name: "Seattle", Country: "US", Lat: 47.6062, Lon: -122.3321, IsActive: true},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, svc)
	return app, svc
}

func doRequest(t *testing.T, app *fiber.App, method, target string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

// TestHistoryValidation verifies that the history endpoint enforces the time
// range and the 1-1000 range for the `limit` query parameter.
func TestHistoryValidation(t *testing.T) {
	app, _ := newTestApp(t, nil)
	loc := url.QueryEscape(seattleKey)

	cases := []string{
		"/api/v1/weather/history?from=1700000000&to=1700003600",
		"/api/v1/weather/history?location=" + loc + "&to=1700003600",
		"/api/v1/weather/history?location=" + loc + "&from=1700003600&to=1700000000",
		"/api/v1/weather/history?location=" + loc + "&from=1700000000&to=1700003600&limit=0",
		"/api/v1/weather/history?location=" + loc + "&from=1700000000&to=1700003600&limit=1001",
		"/api/v1/weather/history?location=" + loc + "&from=yesterday&to=1700003600",
	}
	for _, target := range cases {
		resp, _ := doRequest(t, app, http.MethodGet, target)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", target, http.StatusBadRequest, resp.StatusCode)
		}
	}

	resp, _ := doRequest(t, app, http.MethodGet,
		"/api/v1/weather/history?location="+loc+"&from=2023-11-14T00:00:00Z&to=1700003600&limit=10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
}

func TestIngestThenReadLatest(t *testing.T) {
	app, _ := newTestApp(t, stubFetcher{
		status: 200,
		body:   `{"dt":1700000000,"main":{"temp":10.5,"humidity":80},"weather":[{"main":"Clouds","description":"overcast clouds"}]}`,
	})

	resp, body := doRequest(t, app, http.MethodGet, "/api/v1/weather/latest?location="+url.QueryEscape(seattleKey))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before ingestion, got %d", resp.StatusCode)
	}

	resp, body = doRequest(t, app, http.MethodPost, "/api/v1/ingest/"+url.PathEscape(seattleKey))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.StatusCode, body)
	}
	var result weather.IngestResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.LatestUpdated {
		t.Fatalf("expected latest to be updated: %+v", result)
	}

	resp, body = doRequest(t, app, http.MethodGet, "/api/v1/weather/latest?location="+url.QueryEscape(seattleKey))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var latest weather.LatestObservation
	if err := json.Unmarshal(body, &latest); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if latest.TempC == nil || *latest.TempC != 10.5 {
		t.Fatalf("expected temp 10.5, got %v", latest.TempC)
	}
	if latest.Condition != weather.ConditionCloudy {
		t.Fatalf("expected cloudy condition, got %q", latest.Condition)
	}

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/raw/"+result.IngestionID.String())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected raw row to be readable, got %d", resp.StatusCode)
	}

	resp, body = doRequest(t, app, http.MethodPost, "/api/v1/raw/"+result.IngestionID.String()+"/reprocess")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected reprocess to succeed, got %d: %s", resp.StatusCode, body)
	}
}

func TestIngestProviderErrorReturnsResult(t *testing.T) {
	app, _ := newTestApp(t, stubFetcher{status: 401, body: `{"cod":401,"message":"Invalid API key"}`})

	resp, body := doRequest(t, app, http.MethodPost, "/api/v1/ingest/"+url.PathEscape(seattleKey))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status %d, got %d", http.StatusBadGateway, resp.StatusCode)
	}

	var payload struct {
		Result weather.IngestResult `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Result.HTTPStatus == nil || *payload.Result.HTTPStatus != 401 {
		t.Fatalf("expected archived 401 status in result, got %+v", payload.Result)
	}

	resp, _ = doRequest(t, app, http.MethodPost, "/api/v1/raw/"+payload.Result.IngestionID.String()+"/reprocess")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected reprocess of a 401 row to be rejected, got %d", resp.StatusCode)
	}
}

func TestUnknownAndInvalidIdentifiers(t *testing.T) {
	app, _ := newTestApp(t, nil)

	resp, _ := doRequest(t, app, http.MethodPost, "/api/v1/ingest/"+url.PathEscape("city:Nowhere,XX"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown location, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/raw/not-a-uuid")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}

	resp, _ = doRequest(t, app, http.MethodGet, "/api/v1/raw")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without location, got %d", resp.StatusCode)
	}
}

func TestHealthAndLocations(t *testing.T) {
	app, svc := newTestApp(t, nil)

	resp, _ := doRequest(t, app, http.MethodGet, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy, got %d", resp.StatusCode)
	}

	if err := svc.DeactivateLocation(context.Background(), seattleKey); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, body := doRequest(t, app, http.MethodGet, "/api/v1/locations?active=true")
	var active []weather.Location
	if err := json.Unmarshal(body, &active); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active locations, got %d", len(active))
	}

	_, body = doRequest(t, app, http.MethodGet, "/api/v1/locations")
	var all []weather.Location
	if err := json.Unmarshal(body, &all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 location, got %d", len(all))
	}

	resp, _ = doRequest(t, app, http.MethodPost, "/api/v1/ingest/"+url.PathEscape(seattleKey))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for inactive location, got %d", resp.StatusCode)
	}
}
