package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tripsCmd = &cobra.Command{
	Use:   "trips",
	Short: "Inspect the recorded trip history",
}

var tripsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved trips, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, done, err := tripSession(cmd)
		if err != nil {
			return err
		}
		defer done()
		list, err := s.Trips(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no trips recorded")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDATE\tPOINTS\tSTART\tMAX m/s\tDISTANCE m")
		for _, t := range list {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%.5f,%.5f\t%.1f\t%.0f\n", t.ID, t.Date, t.FrameCount, t.StartLat, t.StartLng, t.MaxSpeed, t.Distance)
		}
		return tw.Flush()
	},
}

var tripsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one trip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, done, err := tripSession(cmd)
		if err != nil {
			return err
		}
		defer done()
		t, err := s.Trip(cmd.Context(), id)
		if err != nil {
			return err
		}
		sum := t.Summary()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Trip %d (%s)\n", t.ID, t.Date)
		fmt.Fprintf(out, "  points:   %d\n", sum.FrameCount)
		fmt.Fprintf(out, "  start:    %.5f, %.5f\n", t.StartLat, t.StartLng)
		fmt.Fprintf(out, "  max:      %.1f m/s\n", t.MaxSpeed)
		fmt.Fprintf(out, "  distance: %.0f m\n", sum.Distance)
		if n := len(t.Frames); n > 0 {
			fmt.Fprintf(out, "  duration: %s\n", t.Frames[n-1].Timestamp.Sub(t.Frames[0].Timestamp))
		}
		return nil
	},
}

var tripsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete one trip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, done, err := tripSession(cmd)
		if err != nil {
			return err
		}
		defer done()
		if err := s.DeleteTrip(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "trip %d deleted\n", id)
		return nil
	},
}

var exportOut string

var tripsExportCmd = &cobra.Command{
	Use:   "export ID",
	Short: "Write one trip as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		s, done, err := tripSession(cmd)
		if err != nil {
			return err
		}
		defer done()

		if exportOut == "" || exportOut == "-" {
			return s.ExportCSV(cmd.Context(), id, cmd.OutOrStdout())
		}
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		if err := s.ExportCSV(cmd.Context(), id, f); err != nil {
			f.Close()
			os.Remove(exportOut)
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "CSV saved: %s\n", exportOut)
		return nil
	},
}

func init() {
	tripsExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	tripsCmd.AddCommand(tripsListCmd, tripsShowCmd, tripsDeleteCmd, tripsExportCmd)
	rootCmd.AddCommand(tripsCmd)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid trip id %q", s)
	}
	return id, nil
}
