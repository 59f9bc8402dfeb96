package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ingestLocation string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass",
	Long: `Fetch, archive, merge and project current weather for every active
location, or for a single location with --location.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestLocation, "location", "", "location key to ingest (default: all active)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if ingestLocation != "" {
			result, err := a.service.IngestByKey(ctx, ingestLocation)
			if printErr := printJSON(result); printErr != nil {
				return printErr
			}
			return err
		}

		report, err := a.service.IngestAll(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d of %d locations failed", report.Failed, len(report.Results))
		}
		return nil
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
