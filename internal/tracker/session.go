// Package tracker is the driver-side recording session: it filters GPS
// speed, keeps the latest sensor readings and records trips.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"transitlk/internal/speed"
	"transitlk/internal/trip"
)

var (
	ErrPermissionDenied = errors.New("location permission not granted")
	ErrNotTracking      = errors.New("not tracking")
	ErrNoData           = errors.New("no data recorded")
)

// Fix is one GPS update. Speed is the device-reported speed in m/s, zero
// when the device does not report one. Filtered marks a speed that was
// already smoothed, as in recorded trips, so it bypasses the filter.
type Fix struct {
	Time     time.Time
	Lat      float64
	Lng      float64
	Altitude float64
	Speed    float64
	Accuracy float64
	Filtered bool
}

type Vector struct{ X, Y, Z float64 }

func (v Vector) sub(o Vector) Vector { return Vector{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Status is a snapshot of what the session currently shows the driver.
type Status struct {
	Tracking   bool    `json:"tracking"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Altitude   float64 `json:"altitude"`
	Speed      float64 `json:"speed"`
	MaxSpeed   float64 `json:"maxSpeed"`
	Accuracy   float64 `json:"accuracy"`
	Satellites int     `json:"satellites"`
	Accel      Vector  `json:"accel"`
	Gyro       Vector  `json:"gyro"`
	Frames     int     `json:"frames"`
}

type Options struct {
	Filter     speed.Config
	Store      trip.Store
	LogDir     string      // empty disables the CSV log
	Permission func() bool // nil means granted
	Clock      func() time.Time
}

type Session struct {
	store      trip.Store
	logDir     string
	permission func() bool
	now        func() time.Time
	filter     *speed.Filter

	mu         sync.Mutex
	tracking   bool
	started    time.Time
	fix        Fix
	speed      float64
	maxSpeed   float64
	satellites int
	accelRaw   Vector
	gyroRaw    Vector
	accelOff   Vector
	gyroOff    Vector
	frames     []trip.Frame
	csv        *trip.LogWriter
	csvPath    string
}

func NewSession(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("tracker: trip store is required")
	}
	f, err := speed.NewFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	s := &Session{
		store:      opts.Store,
		logDir:     opts.LogDir,
		permission: opts.Permission,
		now:        opts.Clock,
		filter:     f,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Start begins recording. Calling it while already tracking is a no-op.
func (s *Session) Start() error {
	if s.permission != nil && !s.permission() {
		return ErrPermissionDenied
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracking {
		return nil
	}
	s.tracking = true
	s.started = s.now()
	s.frames = nil
	s.maxSpeed = 0
	s.filter.Reset()

	if s.logDir != "" {
		l, path, err := trip.CreateLog(s.logDir, s.started)
		if err != nil {
			// Recording continues without the file.
			log.Printf("csv create error: %v", err)
		} else {
			s.csv, s.csvPath = l, path
		}
	}
	log.Printf("tracking started")
	return nil
}

// Stop ends recording and saves the trip. It returns ErrNoData when
// nothing was recorded.
func (s *Session) Stop(ctx context.Context) (trip.Trip, error) {
	s.mu.Lock()
	if !s.tracking {
		s.mu.Unlock()
		return trip.Trip{}, ErrNotTracking
	}
	s.tracking = false
	if s.csv != nil {
		if err := s.csv.Close(); err != nil {
			log.Printf("csv close error: %v", err)
		}
		s.csv = nil
	}
	frames := s.frames
	s.frames = nil
	t := trip.New(s.started, frames, s.maxSpeed)
	s.mu.Unlock()

	if len(frames) == 0 {
		log.Printf("tracking stopped: no data recorded")
		return trip.Trip{}, ErrNoData
	}
	if err := s.store.Save(ctx, t); err != nil {
		return t, fmt.Errorf("save trip: %w", err)
	}
	log.Printf("trip saved: %d points", len(frames))
	return t, nil
}

// HandleFix applies a GPS update and, while tracking, records a frame.
func (s *Session) HandleFix(f Fix) Status {
	raw := f.Speed
	if math.IsNaN(raw) || raw < 0 {
		raw = 0
	}
	if f.Time.IsZero() {
		f.Time = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fix = f
	if f.Filtered {
		s.speed = raw
	} else {
		s.speed = s.filter.Update(raw, f.Accuracy)
	}
	if s.speed > s.maxSpeed {
		s.maxSpeed = s.speed
	}
	if s.tracking {
		s.recordLocked()
	}
	return s.statusLocked()
}

func (s *Session) recordLocked() {
	accel := s.accelRaw.sub(s.accelOff)
	gyro := s.gyroRaw.sub(s.gyroOff)
	fr := trip.Frame{
		Timestamp:  s.fix.Time,
		Lat:        s.fix.Lat,
		Lng:        s.fix.Lng,
		Altitude:   s.fix.Altitude,
		Speed:      s.speed,
		Accuracy:   s.fix.Accuracy,
		Satellites: s.satellites,
		AX:         accel.X,
		AY:         accel.Y,
		AZ:         accel.Z,
		GX:         gyro.X,
		GY:         gyro.Y,
		GZ:         gyro.Z,
	}
	s.frames = append(s.frames, fr)
	if s.csv != nil {
		if err := s.csv.Append(fr); err != nil {
			log.Printf("log data error: %v", err)
		}
	}
}

func (s *Session) HandleAccel(x, y, z float64) {
	s.mu.Lock()
	s.accelRaw = Vector{x, y, z}
	s.mu.Unlock()
}

func (s *Session) HandleGyro(x, y, z float64) {
	s.mu.Lock()
	s.gyroRaw = Vector{x, y, z}
	s.mu.Unlock()
}

func (s *Session) SetSatellites(n int) {
	s.mu.Lock()
	s.satellites = n
	s.mu.Unlock()
}

// Calibrate zeroes the sensors at their current readings.
func (s *Session) Calibrate() {
	s.mu.Lock()
	s.accelOff = s.accelRaw
	s.gyroOff = s.gyroRaw
	s.mu.Unlock()
	log.Printf("sensors calibrated")
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	return Status{
		Tracking:   s.tracking,
		Lat:        s.fix.Lat,
		Lng:        s.fix.Lng,
		Altitude:   s.fix.Altitude,
		Speed:      s.speed,
		MaxSpeed:   s.maxSpeed,
		Accuracy:   s.fix.Accuracy,
		Satellites: s.satellites,
		Accel:      s.accelRaw.sub(s.accelOff),
		Gyro:       s.gyroRaw.sub(s.gyroOff),
		Frames:     len(s.frames),
	}
}

// LogPath is the CSV log of the current or last recording, if any.
func (s *Session) LogPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csvPath
}

func (s *Session) Trips(ctx context.Context) ([]trip.Summary, error) {
	return s.store.List(ctx)
}

func (s *Session) Trip(ctx context.Context, id int64) (trip.Trip, error) {
	return s.store.Get(ctx, id)
}

func (s *Session) DeleteTrip(ctx context.Context, id int64) error {
	return s.store.Delete(ctx, id)
}

// ExportCSV writes the frames of trip id to w.
func (s *Session) ExportCSV(ctx context.Context, id int64, w io.Writer) error {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return trip.WriteCSV(w, t.Frames)
}
