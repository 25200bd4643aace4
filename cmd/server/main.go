package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transitlk/internal/api"
	"transitlk/internal/config"
	"transitlk/internal/live"
	"transitlk/internal/messaging"
	"transitlk/internal/metrics"
	"transitlk/internal/registry"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stdout)

	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics setup
	var mcol *metrics.Collector
	var regMetrics registry.Metrics
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.FreshnessWindow, cfg.SweepInterval)
		regMetrics = mcol.Registry()
		srv := mcol.Serve(cfg.MetricsAddr)
		defer shutdown(srv)
	}

	reg := registry.New(cfg.FreshnessWindow, nil, regMetrics)
	reg.StartSweeper(ctx, cfg.SweepInterval)
	defer reg.StopSweeper()

	// Optional NATS ingest
	if cfg.NATSURL != "" {
		nc, err := messaging.Connect(cfg.NATSURL, "transitlk-server", mcol)
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer nc.Close()
		sub := messaging.NewSubscriber(reg, mcol)
		if err := sub.Subscribe(nc, cfg.NATSSubjectPrefix); err != nil {
			log.Fatalf("nats subscribe error: %v", err)
		}
		defer sub.Unsubscribe()
	}

	var gauge live.ClientGauge
	var broadcasts live.Counter
	if mcol != nil {
		gauge, broadcasts = mcol.LiveClients, mcol.LiveBroadcasts
	}
	bc := live.NewBroadcaster(reg, live.NewHub(gauge), cfg.LiveInterval, broadcasts)
	bc.Start(ctx)
	defer bc.Stop()

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.New(api.Options{
			Registry:    reg,
			Version:     cfg.Version,
			Metrics:     mcol,
			Live:        bc,
			LogRequests: cfg.LogRequests,
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()
	log.Printf("TransitLK backend %s listening on %s (freshness %s, sweep %s)", cfg.Version, cfg.Addr(), cfg.FreshnessWindow, cfg.SweepInterval)

	// Block until context cancelled
	<-ctx.Done()
	shutdown(srv)
	log.Println("shutdown complete")
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
