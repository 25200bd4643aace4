package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveBuses prometheus.Gauge

	LocationUpdates prometheus.Counter
	SharingStopped  prometheus.Counter
	Purged          *prometheus.CounterVec // reason label: read|list|sweep
	Lookups         *prometheus.CounterVec // result label: hit|miss|stale

	HTTPDuration *prometheus.HistogramVec // route, code

	NATSReceived  prometheus.Counter
	NATSRejected  prometheus.Counter
	NATSConnected prometheus.Gauge

	LiveClients    prometheus.Gauge
	LiveBroadcasts prometheus.Counter

	FreshnessWindow prometheus.Gauge // seconds
	SweepInterval   prometheus.Gauge // seconds
}

func NewCollector(freshness, sweepInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitlk_active_buses",
			Help: "Number of routes with a stored location.",
		}),
		LocationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitlk_location_updates_total",
			Help: "Total accepted driver location updates.",
		}),
		SharingStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitlk_sharing_stopped_total",
			Help: "Total routes removed by a driver stop request.",
		}),
		Purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitlk_stale_purged_total",
			Help: "Stale locations removed, by trigger.",
		}, []string{"reason"}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitlk_passenger_lookups_total",
			Help: "Passenger route lookups, by result.",
		}, []string{"result"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transitlk_http_request_duration_seconds",
			Help:    "Duration of API requests.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}, []string{"route", "code"}),
		NATSReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitlk_nats_messages_total",
			Help: "Total driver messages received over NATS.",
		}),
		NATSRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitlk_nats_rejected_total",
			Help: "Driver messages over NATS that failed decoding or validation.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitlk_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		LiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitlk_live_clients",
			Help: "Connected live-feed websocket clients.",
		}),
		LiveBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitlk_live_broadcasts_total",
			Help: "Snapshots pushed to live-feed clients.",
		}),
		FreshnessWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitlk_freshness_window_seconds",
			Help: "Age after which a location is considered stale.",
		}),
		SweepInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitlk_sweep_interval_seconds",
			Help: "Interval of the background stale sweep.",
		}),
	}

	reg.MustRegister(
		c.ActiveBuses,
		c.LocationUpdates, c.SharingStopped, c.Purged, c.Lookups,
		c.HTTPDuration,
		c.NATSReceived, c.NATSRejected, c.NATSConnected,
		c.LiveClients, c.LiveBroadcasts,
		c.FreshnessWindow, c.SweepInterval,
	)

	c.FreshnessWindow.Set(freshness.Seconds())
	c.SweepInterval.Set(sweepInterval.Seconds())

	return c
}

// Registry adapts the collector to registry.Metrics.
func (c *Collector) Registry() *RegistryMetrics { return &RegistryMetrics{c: c} }

type RegistryMetrics struct{ c *Collector }

func (m *RegistryMetrics) SetActive(n int)                { m.c.ActiveBuses.Set(float64(n)) }
func (m *RegistryMetrics) UpdateInc()                     { m.c.LocationUpdates.Inc() }
func (m *RegistryMetrics) StopInc()                       { m.c.SharingStopped.Inc() }
func (m *RegistryMetrics) PurgedAdd(reason string, n int) { m.c.Purged.WithLabelValues(reason).Add(float64(n)) }
func (m *RegistryMetrics) LookupInc(result string)        { m.c.Lookups.WithLabelValues(result).Inc() }

// NATS ingest hooks; safe on a nil collector.
func (c *Collector) NATSSetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) NATSReceivedInc() {
	if c != nil {
		c.NATSReceived.Inc()
	}
}

func (c *Collector) NATSRejectedInc() {
	if c != nil {
		c.NATSRejected.Inc()
	}
}

func (c *Collector) ObserveHTTP(route string, code int, d time.Duration) {
	c.HTTPDuration.WithLabelValues(route, codeClass(code)).Observe(d.Seconds())
}

func codeClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
