package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	FreshnessWindow   time.Duration
	SweepInterval     time.Duration
	MetricsAddr       string
	NATSURL           string
	NATSSubjectPrefix string
	LiveInterval      time.Duration
	Version           string
	LogRequests       bool
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	port, err := positiveInt("PORT", 3000)
	if err != nil {
		return nil, err
	}
	cfg.Port = port

	// Freshness window (seconds)
	sec, err := positiveInt("FRESHNESS_WINDOW_SEC", 300)
	if err != nil {
		return nil, err
	}
	cfg.FreshnessWindow = time.Duration(sec) * time.Second

	// Sweep interval (seconds)
	sec, err = positiveInt("SWEEP_INTERVAL_SEC", 60)
	if err != nil {
		return nil, err
	}
	cfg.SweepInterval = time.Duration(sec) * time.Second

	// Live feed poll interval
	ms, err := positiveInt("LIVE_INTERVAL_MS", 2000)
	if err != nil {
		return nil, err
	}
	cfg.LiveInterval = time.Duration(ms) * time.Millisecond

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// NATS ingest is optional; empty URL disables it.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = strings.Trim(getenvDefault("NATS_SUBJECT_PREFIX", "transitlk.driver"), ". ")
	if cfg.NATSSubjectPrefix == "" {
		return nil, fmt.Errorf("invalid NATS_SUBJECT_PREFIX: %q", os.Getenv("NATS_SUBJECT_PREFIX"))
	}

	cfg.Version = getenvDefault("SERVICE_VERSION", "1.0.0")
	cfg.LogRequests = parseBool(os.Getenv("LOG_REQUESTS"))

	return cfg, nil
}

func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func positiveInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
