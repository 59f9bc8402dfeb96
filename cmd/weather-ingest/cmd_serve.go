package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/weather-ingest/internal/api/http"
	"github.com/i474232898/weather-ingest/internal/scheduler"
)

var serveSeed bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the HTTP API",
	Long: `Apply migrations, start the periodic ingestion job and serve the read
and trigger API until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "upsert WEATHER_LOCATIONS into the registry on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(cmd, func(_ context.Context, a *app) error {
		if err := a.migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		if serveSeed && a.warehouse != nil {
			if _, err := a.seed(ctx); err != nil {
				return fmt.Errorf("failed to seed locations: %w", err)
			}
		}

		sched := scheduler.New(a.service, scheduler.Options{
			Interval:     a.cfg.FetchInterval,
			QualityCheck: a.cfg.DQEnabled,
			MaxLag:       a.cfg.DQMaxLag,
		})
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()

		server := httpapi.NewApp(a.service)

		errCh := make(chan error, 1)
		go func() {
			log.Printf("INFO: listening on :%s", a.cfg.Port)
			errCh <- server.Listen(":" + a.cfg.Port)
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("fiber server stopped: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("ERROR: error during shutdown: %v", err)
		}
		return nil
	})
}
