package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryMetrics(t *testing.T) {
	c := NewCollector(5*time.Minute, time.Minute)
	m := c.Registry()

	m.UpdateInc()
	m.UpdateInc()
	m.SetActive(2)
	m.PurgedAdd("sweep", 3)
	m.LookupInc("stale")

	if got := testutil.ToFloat64(c.LocationUpdates); got != 2 {
		t.Errorf("expected 2 updates, got %v", got)
	}
	if got := testutil.ToFloat64(c.ActiveBuses); got != 2 {
		t.Errorf("expected 2 active, got %v", got)
	}
	if got := testutil.ToFloat64(c.Purged.WithLabelValues("sweep")); got != 3 {
		t.Errorf("expected 3 purged, got %v", got)
	}
	if got := testutil.ToFloat64(c.FreshnessWindow); got != 300 {
		t.Errorf("expected window of 300s, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(time.Minute, time.Minute)
	c.ObserveHTTP("/api/health", http.StatusOK, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"transitlk_active_buses", "transitlk_http_request_duration_seconds_bucket", `code="2xx"`} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in exposition", name)
		}
	}
}

func TestCodeClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 304: "3xx", 404: "4xx", 500: "5xx"}
	for code, want := range cases {
		if got := codeClass(code); got != want {
			t.Errorf("codeClass(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestNATSHooks(t *testing.T) {
	c := NewCollector(time.Minute, time.Minute)
	c.NATSSetConnected(true)
	c.NATSReceivedInc()
	c.NATSRejectedInc()
	if testutil.ToFloat64(c.NATSConnected) != 1 || testutil.ToFloat64(c.NATSReceived) != 1 || testutil.ToFloat64(c.NATSRejected) != 1 {
		t.Error("nats hooks not recorded")
	}
	c.NATSSetConnected(false)
	if testutil.ToFloat64(c.NATSConnected) != 0 {
		t.Error("expected disconnected")
	}

	var nilCollector *Collector
	nilCollector.NATSSetConnected(true)
	nilCollector.NATSReceivedInc()
}
