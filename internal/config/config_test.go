package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, k := range []string{"PORT", "FRESHNESS_WINDOW_SEC", "SWEEP_INTERVAL_SEC", "LIVE_INTERVAL_MS", "METRICS_ADDR", "NATS_URL", "NATS_SUBJECT_PREFIX", "SERVICE_VERSION", "LOG_REQUESTS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3000 || cfg.Addr() != ":3000" {
		t.Errorf("unexpected port %d", cfg.Port)
	}
	if cfg.FreshnessWindow != 5*time.Minute || cfg.SweepInterval != time.Minute {
		t.Errorf("unexpected timing %v / %v", cfg.FreshnessWindow, cfg.SweepInterval)
	}
	if cfg.NATSURL != "" || cfg.NATSSubjectPrefix != "transitlk.driver" {
		t.Errorf("unexpected nats settings %q %q", cfg.NATSURL, cfg.NATSSubjectPrefix)
	}
	if cfg.Version != "1.0.0" || cfg.LogRequests {
		t.Errorf("unexpected misc settings %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "8081")
	t.Setenv("FRESHNESS_WINDOW_SEC", "120")
	t.Setenv("SWEEP_INTERVAL_SEC", "15")
	t.Setenv("LIVE_INTERVAL_MS", "500")
	t.Setenv("NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("NATS_SUBJECT_PREFIX", "colombo.buses.")
	t.Setenv("LOG_REQUESTS", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8081 || cfg.FreshnessWindow != 2*time.Minute || cfg.SweepInterval != 15*time.Second || cfg.LiveInterval != 500*time.Millisecond {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.NATSSubjectPrefix != "colombo.buses" {
		t.Errorf("trailing dot should be trimmed, got %q", cfg.NATSSubjectPrefix)
	}
	if !cfg.LogRequests {
		t.Error("expected request logging enabled")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct{ key, value string }{
		{"PORT", "abc"},
		{"FRESHNESS_WINDOW_SEC", "0"},
		{"SWEEP_INTERVAL_SEC", "-5"},
		{"LIVE_INTERVAL_MS", "1.5"},
		{"NATS_SUBJECT_PREFIX", "..."},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
