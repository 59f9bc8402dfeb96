package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

const defaultWriteTimeout = 10 * time.Second

// Service runs the fetch -> archive -> upsert -> project chain for locations
// and exposes the warehouse read paths.
type Service struct {
	store       Warehouse
	fetcher     Fetcher
	concurrency int

	// writeTimeout bounds the raw-layer write, which is detached from the
	// caller's cancellation so every fetch attempt is recorded.
	writeTimeout time.Duration

	ingested    atomic.Int64
	failed      atomic.Int64
	parseErrors atomic.Int64
}

// Stats are process-lifetime counters.
type Stats struct {
	Ingested    int64 `json:"ingested"`
	Failed      int64 `json:"failed"`
	ParseErrors int64 `json:"parseErrors"`
}

// NewService creates a new Service. concurrency bounds IngestAll; values <= 0 mean one
// goroutine per location.
func NewService(store Warehouse, fetcher Fetcher, concurrency int) *Service {
	return &Service{
		store:        store,
		fetcher:      fetcher,
		concurrency:  concurrency,
		writeTimeout: defaultWriteTimeout,
	}
}

// Stats returns a snapshot of the pipeline counters.
func (s *Service) Stats() Stats {
	return Stats{
		Ingested:    s.ingested.Load(),
		Failed:      s.failed.Load(),
		ParseErrors: s.parseErrors.Load(),
	}
}

// Ingest runs one unit of work for loc. The raw response is archived before
// anything else is attempted; the returned error wraps ErrTransport,
// ErrProviderStatus, ErrParse or ErrStorage.
func (s *Service) Ingest(ctx context.Context, loc Location) (IngestResult, error) {
	result := IngestResult{LocationID: loc.ID, LocationKey: loc.Key}
	if s.fetcher == nil {
		return result, fmt.Errorf("%w: no fetcher configured", ErrTransport)
	}

	fetched := s.fetcher.FetchCurrent(ctx, loc)
	result.Outcome = fetched.Outcome
	result.HTTPStatus = fetched.HTTPStatus

	raw, err := s.archive(ctx, loc, fetched)
	if err != nil {
		s.failed.Inc()
		result.Error = err.Error()
		return result, err
	}
	result.IngestionID = raw.IngestionID

	var fetchErr error
	switch fetched.Outcome {
	case OutcomeOK:
	case OutcomeTransportError:
		fetchErr = fmt.Errorf("%w: %s: %v", ErrTransport, loc.Key, fetched.Err)
	case OutcomeProviderError:
		fetchErr = fmt.Errorf("%w: %s: status %s", ErrProviderStatus, loc.Key, statusString(fetched.HTTPStatus))
	case OutcomeMalformed:
		s.parseErrors.Inc()
		fetchErr = fmt.Errorf("%w: %s: %v", ErrParse, loc.Key, fetched.Err)
	default:
		fetchErr = fmt.Errorf("%w: %s: unknown outcome %q", ErrTransport, loc.Key, fetched.Outcome)
	}
	if fetchErr != nil {
		s.failed.Inc()
		result.Error = fetchErr.Error()
		log.Printf("ERROR: pipeline: %s ingestion %s: %v", loc.Key, raw.IngestionID, fetchErr)
		return result, fetchErr
	}

	if err := s.derive(ctx, raw, &result); err != nil {
		s.failed.Inc()
		result.Error = err.Error()
		return result, err
	}

	s.ingested.Inc()
	return result, nil
}

// IngestByKey resolves an active location by key and ingests it.
func (s *Service) IngestByKey(ctx context.Context, key string) (IngestResult, error) {
	loc, err := s.store.GetLocationByKey(ctx, key)
	if err != nil {
		return IngestResult{LocationKey: key}, err
	}
	if !loc.IsActive {
		return IngestResult{LocationID: loc.ID, LocationKey: key}, fmt.Errorf("%w: %s", ErrLocationInactive, key)
	}
	return s.Ingest(ctx, loc)
}

// IngestAll runs Ingest concurrently for every active location. Failures are
// recorded per location and never stop the others.
func (s *Service) IngestAll(ctx context.Context) (IngestReport, error) {
	report := IngestReport{StartedAt: time.Now().UTC()}

	locs, err := s.store.ListLocations(ctx, true)
	if err != nil {
		return report, fmt.Errorf("%w: list active locations: %v", ErrStorage, err)
	}
	if len(locs) == 0 {
		log.Println("INFO: pipeline: no active locations")
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}

	limit := s.concurrency
	if limit <= 0 || limit > len(locs) {
		limit = len(locs)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, limit)
	)
	report.Results = make([]IngestResult, len(locs))

	for i, loc := range locs {
		wg.Add(1)
		go func(i int, loc Location) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := s.Ingest(ctx, loc)

			mu.Lock()
			defer mu.Unlock()
			report.Results[i] = res
			switch {
			case err == nil:
				report.Succeeded++
			case errors.Is(err, ErrParse):
				report.ParseErrors++
				report.Failed++
			default:
				report.Failed++
			}
		}(i, loc)
	}
	wg.Wait()

	report.FinishedAt = time.Now().UTC()
	log.Printf("INFO: pipeline: ingested %d/%d locations (%d parse errors) in %s",
		report.Succeeded, len(locs), report.ParseErrors, report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

// Reprocess re-derives the curated and latest rows from an archived raw response.
func (s *Service) Reprocess(ctx context.Context, ingestionID uuid.UUID) (IngestResult, error) {
	raw, err := s.store.GetRaw(ctx, ingestionID)
	if err != nil {
		return IngestResult{IngestionID: ingestionID}, err
	}

	result := IngestResult{
		LocationID:  raw.LocationID,
		LocationKey: raw.LocationKey,
		IngestionID: raw.IngestionID,
		Outcome:     OutcomeOK,
		HTTPStatus:  raw.HTTPStatus,
	}
	if !raw.Succeeded() {
		err := fmt.Errorf("%w: ingestion %s has status %s", ErrProviderStatus, raw.IngestionID, statusString(raw.HTTPStatus))
		result.Error = err.Error()
		return result, err
	}

	if err := s.derive(ctx, raw, &result); err != nil {
		result.Error = err.Error()
		return result, err
	}
	return result, nil
}

// RebuildLatest recomputes the whole latest projection from the curated layer.
func (s *Service) RebuildLatest(ctx context.Context) (int, error) {
	n, err := s.store.RebuildLatest(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: rebuild latest: %v", ErrStorage, err)
	}
	log.Printf("INFO: pipeline: rebuilt latest projection for %d locations", n)
	return n, nil
}

// derive parses an archived raw response, merges it into the curated layer and
// advances the latest projection.
func (s *Service) derive(ctx context.Context, raw RawResponse, result *IngestResult) error {
	parsed, err := ParseCurrentWeather(raw.Payload)
	if err != nil {
		s.parseErrors.Inc()
		log.Printf("ERROR: pipeline: %s ingestion %s: %v", raw.LocationKey, raw.IngestionID, err)
		return err
	}

	sourceID := raw.IngestionID
	obs := Observation{
		LocationID:        raw.LocationID,
		ObservedAt:        parsed.ObservedAt,
		Metrics:           parsed.Metrics,
		IngestedAt:        raw.IngestedAt,
		SourceIngestionID: &sourceID,
	}
	if err := s.store.UpsertObservation(ctx, obs); err != nil {
		return fmt.Errorf("%w: upsert observation %s@%s: %v", ErrStorage, raw.LocationKey, parsed.ObservedAt.Format(time.RFC3339), err)
	}
	observedAt := parsed.ObservedAt
	result.ObservedAt = &observedAt

	advanced, err := s.store.ProjectLatest(ctx, raw.LocationID, parsed.ObservedAt)
	if err != nil {
		return fmt.Errorf("%w: project latest %s: %v", ErrStorage, raw.LocationKey, err)
	}
	result.LatestUpdated = advanced
	if !advanced {
		log.Printf("DEBUG: pipeline: %s observation %s is older than latest; projection unchanged",
			raw.LocationKey, parsed.ObservedAt.Format(time.RFC3339))
	}
	return nil
}

func (s *Service) archive(ctx context.Context, loc Location, fetched FetchResult) (RawResponse, error) {
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	raw, err := s.store.ArchiveRaw(archiveCtx, RawResponse{
		Source:        s.fetcher.Source(),
		Endpoint:      s.fetcher.Endpoint(),
		LocationID:    loc.ID,
		LocationKey:   loc.Key,
		RequestParams: fetched.RequestParams,
		HTTPStatus:    fetched.HTTPStatus,
		DataTimestamp: fetched.DataTimestamp,
		Payload:       archivePayload(fetched),
	})
	if err != nil {
		return RawResponse{}, fmt.Errorf("%w: archive raw response for %s: %v", ErrStorage, loc.Key, err)
	}
	return raw, nil
}

// archivePayload keeps well-formed JSON verbatim and wraps everything else so
// the raw payload column always holds valid JSON.
func archivePayload(fetched FetchResult) json.RawMessage {
	if len(fetched.Body) > 0 && json.Valid(fetched.Body) {
		return json.RawMessage(fetched.Body)
	}

	var wrapped map[string]string
	switch {
	case len(fetched.Body) > 0:
		wrapped = map[string]string{"raw_text": string(fetched.Body)}
	case fetched.Err != nil:
		wrapped = map[string]string{"transport_error": fetched.Err.Error()}
	default:
		wrapped = map[string]string{"raw_text": ""}
	}
	b, err := json.Marshal(wrapped)
	if err != nil {
		// unreachable for map[string]string
		return json.RawMessage(`{}`)
	}
	return b
}

func statusString(status *int) string {
	if status == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *status)
}
