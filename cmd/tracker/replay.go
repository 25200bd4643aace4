package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"transitlk/internal/client"
	"transitlk/internal/messaging"
	"transitlk/internal/sim"
	"transitlk/internal/speed"
	"transitlk/internal/trip"
)

var replayCmd = &cobra.Command{
	Use:   "replay ROUTE=FILE.csv [ROUTE=FILE.csv...]",
	Short: "Replay recorded trip logs as live buses",
	Long: `replay feeds each CSV log through a tracking session, forwards every filtered
fix to the backend, stops sharing when the log ends and saves the trip.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.String("driver", "", "driver name sent with every update")
	f.Float64("speed-multiplier", 1, "replay speed; 0 sends frames without pauses")
	f.String("transport", "http", "http or nats")
	f.String("nats-url", "nats://127.0.0.1:4222", "NATS server URL (nats transport)")
	f.String("nats-subject-prefix", "transitlk.driver", "subject prefix (nats transport)")
	f.String("log-dir", "", "directory for the per-trip CSV logs; empty disables them")
	f.Bool("resmooth", false, "run the recorded speeds through the speed filter again")

	// Filter settings apply to --resmooth.
	d := speed.DefaultConfig()
	f.Int("window", d.Window, "speed filter window size")
	f.Int("min-samples", d.MinSamples, "samples required before averaging")
	f.Float64("noise-floor", d.NoiseFloor, "raw speeds below this are treated as 0 (m/s)")
	f.Float64("stationary-threshold", d.StationaryThreshold, "averages below this snap to 0 (m/s)")
	f.Float64("max-accuracy", d.MaxAccuracy, "ignore fixes less accurate than this (meters)")

	viper.BindPFlags(f)
	rootCmd.AddCommand(replayCmd)
}

type replayArg struct{ route, path string }

func parseReplayArgs(args []string) ([]replayArg, error) {
	seen := make(map[string]bool, len(args))
	out := make([]replayArg, 0, len(args))
	for _, a := range args {
		route, path, ok := strings.Cut(a, "=")
		route, path = strings.TrimSpace(route), strings.TrimSpace(path)
		if !ok || route == "" || path == "" {
			return nil, fmt.Errorf("invalid argument %q, want ROUTE=FILE.csv", a)
		}
		if seen[route] {
			return nil, fmt.Errorf("route %q given twice", route)
		}
		seen[route] = true
		out = append(out, replayArg{route: route, path: path})
	}
	return out, nil
}

func readFrames(path string) ([]trip.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	frames, err := trip.ReadCSV(f, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frames, nil
}

func newSink() (sim.Sink, func(), error) {
	switch t := viper.GetString("transport"); t {
	case "http":
		return sim.HTTPSink{C: client.New(viper.GetString("api-url"), nil)}, func() {}, nil
	case "nats":
		nc, err := messaging.Connect(viper.GetString("nats-url"), "transitlk-tracker", nil)
		if err != nil {
			return nil, nil, fmt.Errorf("nats error: %w", err)
		}
		p := messaging.NewPublisher(nc, viper.GetString("nats-subject-prefix"))
		return sim.NATSSink{P: p}, p.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", t)
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	parsed, err := parseReplayArgs(args)
	if err != nil {
		return err
	}
	if err := filterConfig().Validate(); err != nil {
		return fmt.Errorf("speed filter: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, closeSink, err := newSink()
	if err != nil {
		return err
	}
	defer closeSink()

	jobs := make([]sim.Job, 0, len(parsed))
	for i, a := range parsed {
		frames, err := readFrames(a.path)
		if err != nil {
			return err
		}
		// Trip ids are start times; keep them distinct when buses start together.
		skew := time.Duration(i) * time.Millisecond
		logDir := viper.GetString("log-dir")
		if logDir != "" {
			logDir = filepath.Join(logDir, a.route)
		}
		s, err := newSession(store, logDir, func() time.Time { return time.Now().Add(skew) })
		if err != nil {
			return err
		}
		jobs = append(jobs, sim.Job{
			Route:    a.route,
			Driver:   viper.GetString("driver"),
			Frames:   frames,
			Session:  s,
			Resmooth: viper.GetBool("resmooth"),
		})
	}

	m := sim.NewManager(sink, viper.GetFloat64("speed-multiplier"))
	m.Start(ctx, jobs)
	results := m.Wait()

	routes := make([]string, 0, len(results))
	for r := range results {
		routes = append(routes, r)
	}
	sort.Strings(routes)

	out := cmd.OutOrStdout()
	var failed bool
	for _, r := range routes {
		res := results[r]
		switch {
		case res.Err != nil && !errors.Is(res.Err, context.Canceled):
			failed = true
			fmt.Fprintf(out, "route %s: error: %v\n", r, res.Err)
		case len(res.Trip.Frames) == 0:
			fmt.Fprintf(out, "route %s: no data recorded\n", r)
		default:
			s := res.Trip.Summary()
			fmt.Fprintf(out, "route %s: trip %d saved, %d points, %d sent, %d failed, max %.1f m/s, %.0f m\n",
				r, s.ID, s.FrameCount, res.Published, res.Failed, s.MaxSpeed, s.Distance)
		}
	}
	if failed {
		return fmt.Errorf("replay finished with errors")
	}
	return nil
}
