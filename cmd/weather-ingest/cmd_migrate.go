package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if a.warehouse == nil {
				return errors.New("no database configured; set DATABASE_URL or PGHOST")
			}
			return a.migrate(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
