package weather_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/weather-ingest/internal/store"
	"github.com/i474232898/weather-ingest/internal/weather"
)

// scriptedFetcher answers FetchCurrent from a per-key queue of results.
type scriptedFetcher struct {
	mu      sync.Mutex
	scripts map[string][]weather.FetchResult
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{scripts: make(map[string][]weather.FetchResult)}
}

func (f *scriptedFetcher) push(key string, res weather.FetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[key] = append(f.scripts[key], res)
}

func (f *scriptedFetcher) Source() string   { return "openweathermap" }
func (f *scriptedFetcher) Endpoint() string { return "weather" }

func (f *scriptedFetcher) FetchCurrent(ctx context.Context, loc weather.Location) weather.FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.scripts[loc.Key]
	if len(queue) == 0 {
		return weather.FetchResult{Outcome: weather.OutcomeTransportError, Err: errors.New("no scripted response")}
	}
	f.scripts[loc.Key] = queue[1:]
	return queue[0]
}

func okResult(body string) weather.FetchResult {
	status := 200
	return weather.FetchResult{
		Outcome:       weather.OutcomeOK,
		HTTPStatus:    &status,
		Body:          []byte(body),
		RequestParams: map[string]string{"appid": "***", "units": "metric"},
		DataTimestamp: weather.ExtractDataTimestamp([]byte(body)),
	}
}

func statusResult(status int, body string, outcome weather.FetchOutcome) weather.FetchResult {
	return weather.FetchResult{
		Outcome:    outcome,
		HTTPStatus: &status,
		Body:       []byte(body),
		Err:        fmt.Errorf("status %d", status),
	}
}

func payloadAt(dt int64, temp float64) string {
	return fmt.Sprintf(`{"dt":%d,"main":{"temp":%g,"humidity":80},"weather":[{"main":"Clouds","description":"overcast clouds"}]}`, dt, temp)
}

type fixture struct {
	store   *store.MemoryStore
	fetcher *scriptedFetcher
	svc     *weather.Service
	seattle weather.Location
	paris   weather.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemoryStore(), fetcher: newScriptedFetcher()}
	f.svc = weather.NewService(f.store, f.fetcher, 4)

	locs, err := f.svc.SeedLocations(context.Background(), []weather.Location{
		{Key: "city:Seattle,US", Name: "Seattle", Country: "US", Lat: 47.6062, Lon: -122.3321, IsActive: true},
		{Key: "city:Paris,FR", Name: "Paris", Country: "FR", Lat: 48.8566, Lon: 2.3522, IsActive: true},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.seattle, f.paris = locs[0], locs[1]
	return f
}

func (f *fixture) rawCount(t *testing.T, loc weather.Location) int {
	t.Helper()
	raws, err := f.store.ListRaw(context.Background(), loc.ID, 0)
	if err != nil {
		t.Fatalf("list raw: %v", err)
	}
	return len(raws)
}

func TestIngestSeattleEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.push(f.seattle.Key, okResult(`{"dt":1700000000,"main":{"temp":10.5,"humidity":80},"weather":[{"main":"Clouds","description":"overcast clouds"}]}`))

	res, err := f.svc.Ingest(ctx, f.seattle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.LatestUpdated {
		t.Fatalf("expected latest to be updated")
	}

	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	obs, err := f.svc.GetRange(ctx, f.seattle.Key, want, want, 10)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(obs) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(obs))
	}
	o := obs[0]
	if !o.ObservedAt.Equal(want) {
		t.Fatalf("expected observed_at %s, got %s", want, o.ObservedAt)
	}
	if o.TempC == nil || *o.TempC != 10.5 || o.HumidityPct == nil || *o.HumidityPct != 80 {
		t.Fatalf("unexpected metrics %+v", o.Metrics)
	}
	if o.Rain1hMm != nil {
		t.Fatalf("expected rain to be nil")
	}
	if o.SourceIngestionID == nil || *o.SourceIngestionID != res.IngestionID {
		t.Fatalf("expected lineage to the raw row")
	}

	latest, err := f.svc.GetLatest(ctx, f.seattle.Key)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.ObservedAt.Equal(want) || latest.Condition != weather.ConditionCloudy {
		t.Fatalf("unexpected latest %+v", latest)
	}

	raw, err := f.svc.GetRaw(ctx, res.IngestionID)
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if raw.Source != "openweathermap" || raw.Endpoint != "weather" || raw.LocationKey != f.seattle.Key {
		t.Fatalf("unexpected raw metadata %+v", raw)
	}
	if raw.DataTimestamp == nil || !raw.DataTimestamp.Equal(want) {
		t.Fatalf("expected data timestamp on raw row")
	}
}

func TestIngestSameObservationTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.push(f.seattle.Key, okResult(payloadAt(1700000000, 10.5)))
	f.fetcher.push(f.seattle.Key, okResult(payloadAt(1700000000, 11)))

	if _, err := f.svc.Ingest(ctx, f.seattle); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := f.svc.Ingest(ctx, f.seattle)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if n := f.rawCount(t, f.seattle); n != 2 {
		t.Fatalf("expected every attempt archived, got %d raw rows", n)
	}
	if n := f.store.ObservationCount(f.seattle.ID); n != 1 {
		t.Fatalf("expected 1 curated row, got %d", n)
	}

	latest, err := f.svc.GetLatest(ctx, f.seattle.Key)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.TempC == nil || *latest.TempC != 11 {
		t.Fatalf("expected second write to win, got %v", latest.TempC)
	}
	if latest.SourceIngestionID == nil || *latest.SourceIngestionID != second.IngestionID {
		t.Fatalf("expected latest lineage to the second raw row")
	}
}

func TestLatestNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.push(f.seattle.Key, okResult(payloadAt(1700003600, 12)))
	f.fetcher.push(f.seattle.Key, okResult(payloadAt(1700000000, 8)))

	if _, err := f.svc.Ingest(ctx, f.seattle); err != nil {
		t.Fatalf("newer ingest: %v", err)
	}
	res, err := f.svc.Ingest(ctx, f.seattle)
	if err != nil {
		t.Fatalf("older ingest: %v", err)
	}
	if res.LatestUpdated {
		t.Fatalf("expected late observation to leave latest unchanged")
	}

	latest, err := f.svc.GetLatest(ctx, f.seattle.Key)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ObservedAt.Unix() != 1700003600 {
		t.Fatalf("expected latest at 1700003600, got %d", latest.ObservedAt.Unix())
	}
	if n := f.store.ObservationCount(f.seattle.ID); n != 2 {
		t.Fatalf("expected both observations curated, got %d", n)
	}
}

func TestLatestAdvancesWithNewerObservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.push(f.seattle.Key, okResult(payloadAt(1700000000, 8)))
	f.fetcher.push(f.seattle.Key, okResult(payloadAt(1700003600, 12)))

	first, err := f.svc.Ingest(ctx, f.seattle)
	if err != nil || !first.LatestUpdated {
		t.Fatalf("first ingest: updated=%v err=%v", first.LatestUpdated, err)
	}
	second, err := f.svc.Ingest(ctx, f.seattle)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !second.LatestUpdated {
		t.Fatalf("expected newer observation to advance latest")
	}

	latest, err := f.svc.GetLatest(ctx, f.seattle.Key)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ObservedAt.Unix() != 1700003600 {
		t.Fatalf("expected latest at 1700003600, got %d", latest.ObservedAt.Unix())
	}
	if latest.TempC == nil || *latest.TempC != 12 {
		t.Fatalf("expected temp 12, got %v", latest.TempC)
	}
	if latest.SourceIngestionID == nil || *latest.SourceIngestionID != second.IngestionID {
		t.Fatalf("expected latest lineage to the second raw row")
	}
}

func TestTransportFailureIsArchived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.push(f.seattle.Key, weather.FetchResult{
		Outcome: weather.OutcomeTransportError,
		Err:     errors.New("dial tcp: i/o timeout"),
	})

	res, err := f.svc.Ingest(ctx, f.seattle)
	if !errors.Is(err, weather.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}

	raw, err := f.svc.GetRaw(ctx, res.IngestionID)
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if raw.HTTPStatus != nil {
		t.Fatalf("expected no status, got %d", *raw.HTTPStatus)
	}
	var payload map[string]string
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["transport_error"] != "dial tcp: i/o timeout" {
		t.Fatalf("unexpected payload %s", raw.Payload)
	}
	if n := f.store.ObservationCount(f.seattle.ID); n != 0 {
		t.Fatalf("expected no curated rows, got %d", n)
	}
	if f.svc.Stats().Failed != 1 {
		t.Fatalf("expected failure to be counted")
	}
}

func TestProviderErrorKeepsBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := `{"cod":401,"message":"Invalid API key"}`
	f.fetcher.push(f.seattle.Key, statusResult(401, body, weather.OutcomeProviderError))

	res, err := f.svc.Ingest(ctx, f.seattle)
	if !errors.Is(err, weather.ErrProviderStatus) {
		t.Fatalf("expected ErrProviderStatus, got %v", err)
	}
	raw, err := f.svc.GetRaw(ctx, res.IngestionID)
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if raw.HTTPStatus == nil || *raw.HTTPStatus != 401 || string(raw.Payload) != body {
		t.Fatalf("unexpected raw row %+v", raw)
	}

	if _, err := f.svc.Reprocess(ctx, res.IngestionID); !errors.Is(err, weather.ErrProviderStatus) {
		t.Fatalf("expected reprocess of a failed attempt to be rejected, got %v", err)
	}
}

func TestMalformedBodyIsWrapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.push(f.seattle.Key, statusResult(200, "<html>maintenance</html>", weather.OutcomeMalformed))

	res, err := f.svc.Ingest(ctx, f.seattle)
	if !errors.Is(err, weather.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	raw, err := f.svc.GetRaw(ctx, res.IngestionID)
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(raw.Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["raw_text"] != "<html>maintenance</html>" {
		t.Fatalf("unexpected payload %s", raw.Payload)
	}
	if f.svc.Stats().ParseErrors != 1 {
		t.Fatalf("expected parse error to be counted")
	}
}

func TestMissingDtIsParseError(t *testing.T) {
	f := newFixture(t)
	f.fetcher.push(f.seattle.Key, okResult(`{"main":{"temp":10.5}}`))

	_, err := f.svc.Ingest(context.Background(), f.seattle)
	if !errors.Is(err, weather.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if n := f.rawCount(t, f.seattle); n != 1 {
		t.Fatalf("expected raw row to be kept, got %d", n)
	}
	if n := f.store.ObservationCount(f.seattle.ID); n != 0 {
		t.Fatalf("expected no curated rows, got %d", n)
	}
}

func TestArchiveSurvivesCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.fetcher.push(f.seattle.Key, weather.FetchResult{Outcome: weather.OutcomeTransportError, Err: context.Canceled})

	if _, err := f.svc.Ingest(ctx, f.seattle); !errors.Is(err, weather.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if n := f.rawCount(t, f.seattle); n != 1 {
		t.Fatalf("expected cancelled attempt to be archived, got %d", n)
	}
}

func TestIngestAllIsolatesLocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.push(f.seattle.Key, okResult(payloadAt(1700000000, 10.5)))
	f.fetcher.push(f.paris.Key, statusResult(503, `{"cod":503}`, weather.OutcomeProviderError))

	report, err := f.svc.IngestAll(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", report)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}

	if _, err := f.svc.GetLatest(ctx, f.seattle.Key); err != nil {
		t.Fatalf("expected Seattle latest: %v", err)
	}
	if _, err := f.svc.GetLatest(ctx, f.paris.Key); !errors.Is(err, weather.ErrNotFound) {
		t.Fatalf("expected no Paris latest, got %v", err)
	}
	if n := f.rawCount(t, f.paris); n != 1 {
		t.Fatalf("expected Paris failure archived, got %d", n)
	}
}

func TestIngestAllSkipsInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.DeactivateLocation(ctx, f.paris.Key); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	f.fetcher.push(f.seattle.Key, okResult(payloadAt(1700000000, 10.5)))

	report, err := f.svc.IngestAll(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].LocationKey != f.seattle.Key {
		t.Fatalf("expected only Seattle to run, got %+v", report.Results)
	}

	if _, err := f.svc.IngestByKey(ctx, f.paris.Key); !errors.Is(err, weather.ErrLocationInactive) {
		t.Fatalf("expected ErrLocationInactive, got %v", err)
	}
	if n := f.rawCount(t, f.paris); n != 0 {
		t.Fatalf("expected no fetch for inactive location, got %d raw rows", n)
	}
}

func TestReprocessAndRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.push(f.seattle.Key, okResult(payloadAt(1700000000, 10.5)))
	f.fetcher.push(f.paris.Key, okResult(payloadAt(1700003600, 7)))

	first, err := f.svc.Ingest(ctx, f.seattle)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := f.svc.Ingest(ctx, f.paris); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	replayed, err := f.svc.Reprocess(ctx, first.IngestionID)
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if replayed.ObservedAt == nil || replayed.ObservedAt.Unix() != 1700000000 {
		t.Fatalf("unexpected replay result %+v", replayed)
	}
	if n := f.store.ObservationCount(f.seattle.ID); n != 1 {
		t.Fatalf("expected replay to merge into the same row, got %d", n)
	}

	n, err := f.svc.RebuildLatest(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rebuilt rows, got %d", n)
	}
	all, err := f.svc.ListLatest(ctx)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(all) != 2 || all[0].LocationID != f.seattle.ID {
		t.Fatalf("unexpected latest rows %+v", all)
	}
}

func TestCheckQuality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.CheckQuality(ctx, 0, time.Hour); !errors.Is(err, weather.ErrQuality) {
		t.Fatalf("expected ErrQuality on empty projection, got %v", err)
	}

	now := time.Now().Unix()
	f.fetcher.push(f.seattle.Key, okResult(payloadAt(now, 10.5)))
	if _, err := f.svc.Ingest(ctx, f.seattle); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := f.svc.CheckQuality(ctx, 1, time.Hour); err != nil {
		t.Fatalf("expected fresh data to pass, got %v", err)
	}
	if err := f.svc.CheckQuality(ctx, 2, time.Hour); !errors.Is(err, weather.ErrQuality) {
		t.Fatalf("expected ErrQuality with too few rows, got %v", err)
	}

	f.fetcher.push(f.paris.Key, okResult(payloadAt(now-4*3600, 7)))
	if _, err := f.svc.Ingest(ctx, f.paris); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := f.svc.CheckQuality(ctx, 2, time.Hour); err != nil {
		t.Fatalf("expected newest observation to be fresh enough, got %v", err)
	}
	if err := f.svc.CheckQuality(ctx, 2, time.Nanosecond); !errors.Is(err, weather.ErrQuality) {
		t.Fatalf("expected stale data to fail, got %v", err)
	}
}
