// Package speed smooths raw GPS speeds over a short window.
package speed

import (
	"fmt"
	"sync"
)

// Config holds the empirical thresholds of the filter.
type Config struct {
	Window              int     // FIFO capacity
	MinSamples          int     // samples required before averaging
	NoiseFloor          float64 // m/s; raw speeds below are treated as 0
	StationaryThreshold float64 // m/s; averages below snap to 0
	MaxAccuracy         float64 // meters; fixes less accurate than this are ignored
}

func DefaultConfig() Config {
	return Config{
		Window:              5,
		MinSamples:          3,
		NoiseFloor:          0.1,
		StationaryThreshold: 0.2,
		MaxAccuracy:         35,
	}
}

func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("invalid window %d", c.Window)
	}
	if c.MinSamples <= 0 || c.MinSamples > c.Window {
		return fmt.Errorf("invalid min samples %d for window %d", c.MinSamples, c.Window)
	}
	if c.NoiseFloor < 0 || c.StationaryThreshold < 0 || c.MaxAccuracy <= 0 {
		return fmt.Errorf("thresholds must be non-negative (accuracy gate positive)")
	}
	return nil
}

// Filter smooths raw GPS speed with a bounded moving average.
// It is safe for concurrent use.
type Filter struct {
	cfg Config

	mu      sync.Mutex
	samples []float64
	last    float64
}

func NewFilter(cfg Config) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Filter{cfg: cfg, samples: make([]float64, 0, cfg.Window)}, nil
}

// Update feeds one fix and returns the speed to display.
func (f *Filter) Update(rawSpeed, accuracy float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Inaccurate fixes never enter the window.
	if accuracy > f.cfg.MaxAccuracy {
		return f.last
	}
	clean := rawSpeed
	if clean < f.cfg.NoiseFloor {
		clean = 0
	}
	f.samples = append(f.samples, clean)
	if len(f.samples) > f.cfg.Window {
		copy(f.samples, f.samples[1:])
		f.samples = f.samples[:f.cfg.Window]
	}
	if len(f.samples) < f.cfg.MinSamples {
		f.last = clean
		return clean
	}
	sum := 0.0
	for _, s := range f.samples {
		sum += s
	}
	avg := sum / float64(len(f.samples))
	if avg < f.cfg.StationaryThreshold {
		avg = 0
	}
	f.last = avg
	return avg
}

// Reset clears the window; called whenever tracking restarts.
func (f *Filter) Reset() {
	f.mu.Lock()
	f.samples = f.samples[:0]
	f.last = 0
	f.mu.Unlock()
}

// Samples returns a copy of the current window, oldest first.
func (f *Filter) Samples() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float64, len(f.samples))
	copy(out, f.samples)
	return out
}
