package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultFreshness = 5 * time.Minute
	DefaultDriver    = "Unknown Driver"
)

var (
	ErrNotFound = errors.New("no active bus found for this route")
	ErrStale    = fmt.Errorf("%w: location is stale", ErrNotFound)
)

// ValidationError reports the required fields that were missing or not numeric.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// LocationRecord is the last known fix for a route.
type LocationRecord struct {
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	Driver        string  `json:"driver"`
	Timestamp     int64   `json:"timestamp"` // epoch ms
	LastUpdated   string  `json:"lastUpdated"`
	Speed         float64 `json:"speed"`
	Accuracy      float64 `json:"accuracy"`
	AccuracySpeed float64 `json:"accuracySpeed"`
}

// Metrics receives registry events; a nil Metrics disables reporting.
type Metrics interface {
	SetActive(n int)
	UpdateInc()
	StopInc()
	PurgedAdd(reason string, n int)
	LookupInc(result string)
}

// Registry maps route identifiers to their most recent location.
type Registry struct {
	freshness time.Duration
	now       func() time.Time
	metrics   Metrics
	validate  *validator.Validate

	mu    sync.Mutex
	buses map[string]LocationRecord

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepWG     sync.WaitGroup
}

// New creates an empty registry. A nil clock uses time.Now.
func New(freshness time.Duration, clock func() time.Time, m Metrics) *Registry {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		freshness: freshness,
		now:       clock,
		metrics:   m,
		validate:  validator.New(),
		buses:     make(map[string]LocationRecord),
	}
}

func (r *Registry) Freshness() time.Duration { return r.freshness }

// Upsert validates req and replaces whatever was stored for its route.
func (r *Registry) Upsert(req UpdateRequest) (LocationRecord, error) {
	u := update{Route: string(req.Route), Lat: req.Lat.ptr(), Lng: req.Lng.ptr()}
	if err := r.validate.Struct(u); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field()))
			}
			return LocationRecord{}, &ValidationError{Fields: fields}
		}
		return LocationRecord{}, err
	}

	now := r.now()
	ts := int64(req.Timestamp.or(0))
	if ts <= 0 {
		ts = now.UnixMilli()
	}
	driver := string(req.Driver)
	if driver == "" {
		driver = DefaultDriver
	}
	rec := LocationRecord{
		Lat:           *u.Lat,
		Lng:           *u.Lng,
		Driver:        driver,
		Timestamp:     ts,
		LastUpdated:   now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Speed:         req.Speed.or(0),
		Accuracy:      req.Accuracy.or(0),
		AccuracySpeed: req.AccuracySpeed.or(0),
	}

	r.mu.Lock()
	r.buses[u.Route] = rec
	n := len(r.buses)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.UpdateInc()
		r.metrics.SetActive(n)
	}
	return rec, nil
}

// Stop removes the route if present. Unknown routes are a no-op.
func (r *Registry) Stop(route string) bool {
	route = strings.TrimSpace(route)
	if route == "" {
		return false
	}
	r.mu.Lock()
	_, ok := r.buses[route]
	delete(r.buses, route)
	n := len(r.buses)
	r.mu.Unlock()
	if ok && r.metrics != nil {
		r.metrics.StopInc()
		r.metrics.SetActive(n)
	}
	return ok
}

// Get returns the record for route, deleting it first if it has gone stale.
func (r *Registry) Get(route string) (LocationRecord, error) {
	nowMs := r.now().UnixMilli()
	r.mu.Lock()
	rec, ok := r.buses[route]
	stale := ok && r.isStale(rec, nowMs)
	if stale {
		delete(r.buses, route)
	}
	n := len(r.buses)
	r.mu.Unlock()

	switch {
	case !ok:
		r.lookup("miss")
		return LocationRecord{}, ErrNotFound
	case stale:
		r.lookup("stale")
		if r.metrics != nil {
			r.metrics.PurgedAdd("read", 1)
			r.metrics.SetActive(n)
		}
		return LocationRecord{}, ErrStale
	}
	r.lookup("hit")
	return rec, nil
}

// ListActive purges stale records and returns a copy of the rest.
func (r *Registry) ListActive() (map[string]LocationRecord, int) {
	r.mu.Lock()
	purged := r.purgeLocked(r.now().UnixMilli())
	out := make(map[string]LocationRecord, len(r.buses))
	for k, v := range r.buses {
		out[k] = v
	}
	r.mu.Unlock()
	r.reportPurge("list", purged, len(out))
	return out, len(out)
}

// Len reports the number of stored records without purging.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buses)
}

// Sweep deletes every stale record and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	purged := r.purgeLocked(r.now().UnixMilli())
	n := len(r.buses)
	r.mu.Unlock()
	r.reportPurge("sweep", purged, n)
	return purged
}

// StartSweeper runs Sweep every interval until ctx is done or StopSweeper is
// called. It does nothing if a sweeper is already running.
func (r *Registry) StartSweeper(parent context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	if r.sweepCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	r.sweepCancel = cancel
	r.sweepWG.Add(1)
	go func() {
		defer r.sweepWG.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := r.Sweep(); n > 0 {
					log.Printf("cleaned up %d stale bus locations", n)
				}
			}
		}
	}()
}

func (r *Registry) StopSweeper() {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	if r.sweepCancel != nil {
		r.sweepCancel()
		r.sweepCancel = nil
	}
	r.sweepWG.Wait()
}

func (r *Registry) isStale(rec LocationRecord, nowMs int64) bool {
	return nowMs-rec.Timestamp > r.freshness.Milliseconds()
}

func (r *Registry) purgeLocked(nowMs int64) int {
	purged := 0
	for route, rec := range r.buses {
		if r.isStale(rec, nowMs) {
			delete(r.buses, route)
			purged++
		}
	}
	return purged
}

func (r *Registry) reportPurge(reason string, purged, remaining int) {
	if r.metrics == nil {
		return
	}
	if purged > 0 {
		r.metrics.PurgedAdd(reason, purged)
	}
	r.metrics.SetActive(remaining)
}

func (r *Registry) lookup(result string) {
	if r.metrics != nil {
		r.metrics.LookupInc(result)
	}
}
