// Package sim drives recorded trips back through tracker sessions, one
// goroutine per bus, and forwards every fix to the backend.
package sim

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"transitlk/internal/registry"
	"transitlk/internal/tracker"
	"transitlk/internal/trip"
)

// Sink receives the driver messages of a replay.
type Sink interface {
	PublishLocation(ctx context.Context, req registry.UpdateRequest) error
	PublishStop(ctx context.Context, req registry.StopRequest) error
}

// Job is one bus to replay. Recorded speeds are already filtered and are
// replayed as is unless Resmooth is set.
type Job struct {
	Route    string
	Driver   string
	Frames   []trip.Frame
	Session  *tracker.Session
	Resmooth bool
}

type Result struct {
	Route     string
	Published int
	Failed    int
	Trip      trip.Trip
	Err       error
}

type Manager struct {
	sink            Sink
	speedMultiplier float64 // 0 replays without pauses

	mu      sync.Mutex
	running map[string]context.CancelFunc // route -> cancel
	results map[string]Result
	wg      sync.WaitGroup
}

func NewManager(sink Sink, speedMultiplier float64) *Manager {
	return &Manager{
		sink:            sink,
		speedMultiplier: speedMultiplier,
		running:         make(map[string]context.CancelFunc),
		results:         make(map[string]Result),
	}
}

// Start launches every job. A route that is already running is skipped.
func (m *Manager) Start(ctx context.Context, jobs []Job) {
	for _, j := range jobs {
		m.startJob(ctx, j)
	}
}

func (m *Manager) startJob(parent context.Context, j Job) {
	m.mu.Lock()
	if _, exists := m.running[j.Route]; exists {
		m.mu.Unlock()
		log.Printf("route %s is already replaying", j.Route)
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[j.Route] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	log.Printf("starting replay of route %s (%d frames)", j.Route, len(j.Frames))
	go func() {
		defer m.wg.Done()
		res := m.runJob(ctx, j)
		if res.Err != nil {
			log.Printf("route %s error: %v", j.Route, res.Err)
		}
		m.mu.Lock()
		delete(m.running, j.Route)
		m.results[j.Route] = res
		m.mu.Unlock()
	}()
}

func (m *Manager) runJob(ctx context.Context, j Job) Result {
	res := Result{Route: j.Route}
	if err := j.Session.Start(); err != nil {
		res.Err = err
		return res
	}

	var prev time.Time
	for i, f := range j.Frames {
		if i > 0 {
			if err := m.pause(ctx, f.Timestamp.Sub(prev)); err != nil {
				break
			}
		}
		prev = f.Timestamp

		s := j.Session
		s.SetSatellites(f.Satellites)
		s.HandleAccel(f.AX, f.AY, f.AZ)
		s.HandleGyro(f.GX, f.GY, f.GZ)
		st := s.HandleFix(tracker.Fix{
			Lat:      f.Lat,
			Lng:      f.Lng,
			Altitude: f.Altitude,
			Speed:    f.Speed,
			Accuracy: f.Accuracy,
			Filtered: !j.Resmooth,
		})

		req := registry.UpdateRequest{
			Route:    registry.Text(j.Route),
			Lat:      registry.Num(st.Lat),
			Lng:      registry.Num(st.Lng),
			Driver:   registry.Text(j.Driver),
			Speed:    registry.Num(st.Speed),
			Accuracy: registry.Num(st.Accuracy),
		}
		if err := m.sink.PublishLocation(ctx, req); err != nil {
			// Not retried; the next fix supersedes this one.
			res.Failed++
			log.Printf("route %s publish error: %v", j.Route, err)
			continue
		}
		res.Published++
	}

	// Wind down even if the replay was cancelled.
	done, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.sink.PublishStop(done, registry.StopRequest{Route: registry.Text(j.Route), Driver: registry.Text(j.Driver)}); err != nil {
		log.Printf("route %s stop error: %v", j.Route, err)
	}
	t, err := j.Session.Stop(done)
	if err != nil && !errors.Is(err, tracker.ErrNoData) {
		res.Err = err
	}
	res.Trip = t
	if ctx.Err() != nil && res.Err == nil {
		res.Err = ctx.Err()
	}
	return res
}

func (m *Manager) pause(ctx context.Context, gap time.Duration) error {
	if m.speedMultiplier <= 0 || gap <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(float64(gap) / m.speedMultiplier))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Running reports how many buses are still replaying.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Wait blocks until every job has finished and returns their results.
func (m *Manager) Wait() map[string]Result {
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Result, len(m.results))
	for k, v := range m.results {
		out[k] = v
	}
	return out
}

// Stop cancels all running jobs and waits for them to wind down.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
