package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-ingest/internal/weather"
)

// Pipeline is the part of weather.Service the scheduler drives.
type Pipeline interface {
	IngestAll(ctx context.Context) (weather.IngestReport, error)
	CheckQuality(ctx context.Context, expected int, maxLag time.Duration) error
}

// Options tune a Scheduler. Zero values fall back to defaults.
type Options struct {
	Interval   time.Duration
	RunTimeout time.Duration

	// QualityCheck runs CheckQuality after every ingestion run.
	QualityCheck bool
	MaxLag       time.Duration
}

// Scheduler periodically ingests every active location.
type Scheduler struct {
	scheduler *gocron.Scheduler
	pipeline  Pipeline
	opts      Options
}

// New creates a new Scheduler.
func New(pipeline Pipeline, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = opts.Interval
	}
	if opts.MaxLag <= 0 {
		opts.MaxLag = weather.DefaultMaxLag
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		pipeline:  pipeline,
		opts:      opts,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run happens immediately.
func (s *Scheduler) Start() error {
	minutes := int(s.opts.Interval.Minutes())
	if minutes <= 0 {
		minutes = 1
	}

	_, err := s.scheduler.Every(minutes).Minutes().SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RunTimeout)
		defer cancel()
		s.RunNow(ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	log.Printf("INFO: scheduler: ingesting every %d minute(s)", minutes)
	return nil
}

// RunNow performs one ingestion run, followed by the quality check when enabled.
func (s *Scheduler) RunNow(ctx context.Context) weather.IngestReport {
	log.Println("INFO: scheduler: running weather ingestion job")

	report, err := s.pipeline.IngestAll(ctx)
	if err != nil {
		log.Printf("ERROR: scheduler: ingestion run failed: %v", err)
		return report
	}
	log.Printf("INFO: scheduler: completed ingestion job: %d succeeded, %d failed",
		report.Succeeded, report.Failed)

	if s.opts.QualityCheck {
		if err := s.pipeline.CheckQuality(ctx, len(report.Results), s.opts.MaxLag); err != nil {
			log.Printf("ERROR: scheduler: data quality check failed: %v", err)
		} else {
			log.Println("INFO: scheduler: data quality check passed")
		}
	}
	return report
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
