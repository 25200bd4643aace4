package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"transitlk/internal/db"
	"transitlk/internal/speed"
	"transitlk/internal/tracker"
	"transitlk/internal/trip"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Driver-side companion for the TransitLK backend",
	Long: `tracker replays recorded GPS/sensor logs as live buses, manages the local
trip history and resolves place names for coordinates.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.transitlk.yaml)")
	pf.String("store", defaultStorePath(), "trip history file")
	pf.String("database-url", "", "Postgres DSN; stores trips in the database instead of --store")
	pf.String("api-url", "http://localhost:3000", "backend base URL")

	viper.BindPFlags(pf)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".transitlk")
	}

	viper.SetEnvPrefix("TRANSITLK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "trips.json"
	}
	return filepath.Join(home, ".transitlk", "trips.json")
}

// openStore returns the Postgres store when a database URL is configured and
// the file store otherwise.
func openStore(ctx context.Context) (trip.Store, func(), error) {
	dsn := viper.GetString("database-url")
	if dsn == "" {
		return trip.NewFileStore(viper.GetString("store")), func() {}, nil
	}
	dsn, err := db.ResolveDSN(dsn, "transitlk-tracker")
	if err != nil {
		return nil, nil, fmt.Errorf("invalid database url: %w", err)
	}
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("db ping error: %w", err)
	}
	ts := db.NewTripStore(sqlDB)
	if err := ts.EnsureSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, nil, err
	}
	return ts, func() { sqlDB.Close() }, nil
}

func filterConfig() speed.Config {
	cfg := speed.DefaultConfig()
	if viper.IsSet("window") {
		cfg.Window = viper.GetInt("window")
	}
	if viper.IsSet("min-samples") {
		cfg.MinSamples = viper.GetInt("min-samples")
	}
	if viper.IsSet("noise-floor") {
		cfg.NoiseFloor = viper.GetFloat64("noise-floor")
	}
	if viper.IsSet("stationary-threshold") {
		cfg.StationaryThreshold = viper.GetFloat64("stationary-threshold")
	}
	if viper.IsSet("max-accuracy") {
		cfg.MaxAccuracy = viper.GetFloat64("max-accuracy")
	}
	return cfg
}

func newSession(store trip.Store, logDir string, clock func() time.Time) (*tracker.Session, error) {
	return tracker.NewSession(tracker.Options{
		Filter: filterConfig(),
		Store:  store,
		LogDir: logDir,
		Clock:  clock,
	})
}

// tripSession opens the configured store behind a session for the trips commands.
func tripSession(cmd *cobra.Command) (*tracker.Session, func(), error) {
	store, done, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	s, err := newSession(store, "", nil)
	if err != nil {
		done()
		return nil, nil, err
	}
	return s, done, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
