package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	dqExpected int
	dqMaxLag   time.Duration
)

var rebuildLatestCmd = &cobra.Command{
	Use:   "rebuild-latest",
	Short: "Recompute the latest projection from curated observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.service.RebuildLatest(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Rebuilt latest projection for %d location(s)\n", n)
			return nil
		})
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess INGESTION_ID",
	Short: "Re-derive curated and latest rows from an archived raw response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid ingestion id %q: %w", args[0], err)
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			result, err := a.service.Reprocess(ctx, id)
			if printErr := printJSON(result); printErr != nil {
				return printErr
			}
			return err
		})
	},
}

var dqCheckCmd = &cobra.Command{
	Use:   "dq-check",
	Short: "Verify the latest projection is populated and fresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			maxLag := dqMaxLag
			if maxLag <= 0 {
				maxLag = a.cfg.DQMaxLag
			}
			expected := dqExpected
			if expected <= 0 {
				active, err := a.service.ListLocations(ctx, true)
				if err != nil {
					return err
				}
				expected = len(active)
			}
			if err := a.service.CheckQuality(ctx, expected, maxLag); err != nil {
				return err
			}
			fmt.Println("Data quality check passed")
			return nil
		})
	},
}

func init() {
	dqCheckCmd.Flags().IntVar(&dqExpected, "expected", 0, "minimum number of latest rows (default: active location count)")
	dqCheckCmd.Flags().DurationVar(&dqMaxLag, "max-lag", 0, "maximum age of the newest observation (default: DQ_MAX_LAG)")

	rootCmd.AddCommand(rebuildLatestCmd)
	rootCmd.AddCommand(reprocessCmd)
	rootCmd.AddCommand(dqCheckCmd)
}
