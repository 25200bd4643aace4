package main

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"transitlk/internal/client"
	"transitlk/internal/geocode"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode LAT LNG",
	Short: "Resolve a short place name for a coordinate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lat, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid latitude %q", args[0])
		}
		lng, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid longitude %q", args[1])
		}
		r := geocode.NewResolver(viper.GetString("geocoder-url"), "transitlk-tracker/1.0", nil)
		fmt.Fprintln(cmd.OutOrStdout(), r.LocationName(cmd.Context(), lat, lng))
		return nil
	},
}

var busesCmd = &cobra.Command{
	Use:   "buses [ROUTE]",
	Short: "Show active buses, or the location of one route",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(viper.GetString("api-url"), nil)
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			rec, err := c.Location(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "route %s: %.6f, %.6f by %s at %s (%.1f m/s)\n", args[0], rec.Lat, rec.Lng, rec.Driver,
				time.UnixMilli(rec.Timestamp).Format(time.RFC3339), rec.Speed)
			return nil
		}
		active, err := c.ActiveBuses(cmd.Context())
		if err != nil {
			return err
		}
		routes := make([]string, 0, len(active.Buses))
		for r := range active.Buses {
			routes = append(routes, r)
		}
		sort.Strings(routes)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "ROUTE\tDRIVER\tPOSITION\tSPEED m/s\tUPDATED\n")
		for _, r := range routes {
			b := active.Buses[r]
			fmt.Fprintf(tw, "%s\t%s\t%.5f,%.5f\t%.1f\t%s\n", r, b.Driver, b.Lat, b.Lng, b.Speed, b.LastUpdated)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d active\n", active.ActiveBuses)
		return nil
	},
}

func init() {
	geocodeCmd.Flags().String("geocoder-url", geocode.DefaultEndpoint, "Nominatim-compatible endpoint")
	viper.BindPFlags(geocodeCmd.Flags())
	rootCmd.AddCommand(geocodeCmd, busesCmd)
}
