package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var locationsAll bool

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "Manage the location registry",
}

var locationsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert WEATHER_LOCATIONS into the registry",
	Long: `Insert or refresh every location listed in WEATHER_LOCATIONS. Existing
keys keep their id. City keys without coordinates are geocoded.`,
	RunE: runLocationsSeed,
}

var locationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered locations",
	RunE:  runLocationsList,
}

var locationsDeactivateCmd = &cobra.Command{
	Use:   "deactivate KEY",
	Short: "Stop ingesting a location without deleting its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocationsDeactivate,
}

func init() {
	locationsListCmd.Flags().BoolVar(&locationsAll, "all", false, "include inactive locations")

	rootCmd.AddCommand(locationsCmd)
	locationsCmd.AddCommand(locationsSeedCmd)
	locationsCmd.AddCommand(locationsListCmd)
	locationsCmd.AddCommand(locationsDeactivateCmd)
}

func runLocationsSeed(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if len(a.cfg.Locations) == 0 {
			return fmt.Errorf("WEATHER_LOCATIONS is empty")
		}
		if err := a.migrate(ctx); err != nil {
			return err
		}
		locs, err := a.seed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d location(s)\n", len(locs))
		return nil
	})
}

func runLocationsList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		locs, err := a.service.ListLocations(ctx, !locationsAll)
		if err != nil {
			return err
		}
		if len(locs) == 0 {
			fmt.Println("No locations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKEY\tNAME\tCOUNTRY\tLAT\tLON\tACTIVE")
		for _, loc := range locs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.4f\t%.4f\t%t\n",
				loc.ID, loc.Key, loc.Name, loc.Country, loc.Lat, loc.Lon, loc.IsActive)
		}
		return w.Flush()
	})
}

func runLocationsDeactivate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.service.DeactivateLocation(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deactivated %s\n", args[0])
		return nil
	})
}
