package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestRegistry() (*Registry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	return New(DefaultFreshness, clock.Now, nil), clock
}

func decodeUpdate(t *testing.T, body string) UpdateRequest {
	t.Helper()
	var req UpdateRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return req
}

func TestUpsert_NumericAndStringCoordinates(t *testing.T) {
	tests := []struct {
		name string
		body string
		lat  float64
		lng  float64
	}{
		{"numbers", `{"route":"138","lat":6.9271,"lng":79.8612}`, 6.9271, 79.8612},
		{"strings", `{"route":"138","lat":"6.9271","lng":" 79.8612 "}`, 6.9271, 79.8612},
		{"numeric route", `{"route":138,"lat":"-1.5","lng":2}`, -1.5, 2},
		{"zero is a coordinate", `{"route":"1","lat":0,"lng":0}`, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry()
			req := decodeUpdate(t, tt.body)
			if _, err := reg.Upsert(req); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			got, err := reg.Get(string(req.Route))
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Lat != tt.lat || got.Lng != tt.lng {
				t.Errorf("expected %v,%v got %v,%v", tt.lat, tt.lng, got.Lat, got.Lng)
			}
		})
	}
}

func TestUpsert_Defaults(t *testing.T) {
	reg, clock := newTestRegistry()
	rec, err := reg.Upsert(decodeUpdate(t, `{"route":"138","lat":1,"lng":2}`))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if rec.Driver != DefaultDriver {
		t.Errorf("expected default driver, got %q", rec.Driver)
	}
	if rec.Timestamp != clock.Now().UnixMilli() {
		t.Errorf("expected server receipt time, got %d", rec.Timestamp)
	}
	if rec.LastUpdated != "2024-05-01T08:00:00.000Z" {
		t.Errorf("unexpected lastUpdated %q", rec.LastUpdated)
	}
	if rec.Speed != 0 || rec.Accuracy != 0 || rec.AccuracySpeed != 0 {
		t.Errorf("optional numerics should default to 0: %+v", rec)
	}

	rec, err = reg.Upsert(decodeUpdate(t, `{"route":"138","lat":1,"lng":2,"driver":"Sunil","timestamp":1714550000000,"speed":"4.2","accuracy":8}`))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if rec.Driver != "Sunil" || rec.Timestamp != 1714550000000 || rec.Speed != 4.2 || rec.Accuracy != 8 {
		t.Errorf("client values not kept: %+v", rec)
	}
}

func TestUpsert_Validation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		fields []string
	}{
		{"empty", `{}`, []string{"route", "lat", "lng"}},
		{"missing lat", `{"route":"1","lng":2}`, []string{"lat"}},
		{"blank route", `{"route":"  ","lat":1,"lng":2}`, []string{"route"}},
		{"non numeric", `{"route":"1","lat":"north","lng":"NaN"}`, []string{"lat", "lng"}},
		{"null", `{"route":"1","lat":null,"lng":2}`, []string{"lat"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _ := newTestRegistry()
			_, err := reg.Upsert(decodeUpdate(t, tt.body))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if fmt.Sprint(verr.Fields) != fmt.Sprint(tt.fields) {
				t.Errorf("expected fields %v, got %v", tt.fields, verr.Fields)
			}
			if reg.Len() != 0 {
				t.Errorf("invalid update must not be stored")
			}
		})
	}
}

func TestUpsert_LastWriteWins(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Upsert(decodeUpdate(t, `{"route":"138","lat":1,"lng":1,"driver":"A","speed":3}`))
	reg.Upsert(decodeUpdate(t, `{"route":"138","lat":2,"lng":2,"driver":"B"}`))
	rec, err := reg.Get("138")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Driver != "B" || rec.Lat != 2 || rec.Speed != 0 {
		t.Errorf("second update should fully replace the first: %+v", rec)
	}
	if reg.Len() != 1 {
		t.Errorf("expected a single record, got %d", reg.Len())
	}
}

func TestGet_Freshness(t *testing.T) {
	tests := []struct {
		name    string
		age     int64
		wantErr error
	}{
		{"fresh", 299999, nil},
		{"boundary", 300000, nil},
		{"stale", 300001, ErrStale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, clock := newTestRegistry()
			now := clock.Now().UnixMilli()
			body := fmt.Sprintf(`{"route":"7","lat":1,"lng":2,"timestamp":%d}`, now-tt.age)
			want, _ := reg.Upsert(decodeUpdate(t, body))

			got, err := reg.Get("7")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil {
				if got != want {
					t.Errorf("record changed on read: %+v vs %+v", got, want)
				}
				return
			}
			if reg.Len() != 0 {
				t.Errorf("stale record should be deleted on read")
			}
			if _, err := reg.Get("7"); !errors.Is(err, ErrNotFound) || errors.Is(err, ErrStale) {
				t.Errorf("second read should be plain not found, got %v", err)
			}
		})
	}
}

func TestGet_ExpiresAsClockAdvances(t *testing.T) {
	reg, clock := newTestRegistry()
	reg.Upsert(decodeUpdate(t, `{"route":"5","lat":1,"lng":2}`))
	clock.Set(clock.Now().Add(4 * time.Minute))
	if _, err := reg.Get("5"); err != nil {
		t.Fatalf("expected fresh record, got %v", err)
	}
	clock.Set(clock.Now().Add(2 * time.Minute))
	if _, err := reg.Get("5"); !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale, got %v", err)
	}
}

func TestStop(t *testing.T) {
	reg, _ := newTestRegistry()
	reg.Upsert(decodeUpdate(t, `{"route":"1","lat":1,"lng":2}`))

	if reg.Stop("unknown") {
		t.Error("unknown route should report nothing removed")
	}
	if reg.Len() != 1 {
		t.Errorf("stopping an unknown route must not alter the map")
	}
	if !reg.Stop("1") {
		t.Error("expected route 1 to be removed")
	}
	if reg.Stop("1") {
		t.Error("second stop should be a no-op")
	}
	if _, err := reg.Get("1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found after stop, got %v", err)
	}
}

func TestListActive_PurgesStale(t *testing.T) {
	reg, clock := newTestRegistry()
	now := clock.Now().UnixMilli()
	ages := map[string]int64{"a": 0, "b": 299999, "c": 300000, "d": 300001, "e": 3600000}
	for route, age := range ages {
		reg.Upsert(decodeUpdate(t, fmt.Sprintf(`{"route":%q,"lat":1,"lng":2,"timestamp":%d}`, route, now-age)))
	}

	buses, n := reg.ListActive()
	if n != 3 || len(buses) != 3 {
		t.Fatalf("expected 3 active buses, got %d (%v)", n, buses)
	}
	for _, route := range []string{"a", "b", "c"} {
		if _, ok := buses[route]; !ok {
			t.Errorf("expected %s to be active", route)
		}
	}
	if reg.Len() != n {
		t.Errorf("map size %d should equal reported cardinality %d", reg.Len(), n)
	}

	delete(buses, "a")
	if reg.Len() != 3 {
		t.Error("returned map must be a copy")
	}
}

func TestSweep(t *testing.T) {
	reg, clock := newTestRegistry()
	now := clock.Now().UnixMilli()
	for i := 0; i < 4; i++ {
		reg.Upsert(decodeUpdate(t, fmt.Sprintf(`{"route":"r%d","lat":1,"lng":2,"timestamp":%d}`, i, now-int64(i)*200000)))
	}
	if n := reg.Sweep(); n != 2 {
		t.Fatalf("expected 2 purged, got %d", n)
	}
	if n := reg.Sweep(); n != 0 {
		t.Fatalf("second sweep should purge nothing, got %d", n)
	}
	if reg.Len() != 2 {
		t.Errorf("expected 2 remaining, got %d", reg.Len())
	}
}

func waitStopped(t *testing.T, reg *Registry) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		reg.StopSweeper()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopSweeper did not return")
	}
}

func TestSweeper(t *testing.T) {
	reg, clock := newTestRegistry()
	reg.Upsert(decodeUpdate(t, `{"route":"138","lat":1,"lng":2}`))
	reg.Upsert(decodeUpdate(t, `{"route":"177","lat":1,"lng":2}`))

	reg.StartSweeper(context.Background(), 5*time.Millisecond)
	// A second start must not replace the running loop.
	reg.StartSweeper(context.Background(), 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	if reg.Len() != 2 {
		t.Fatalf("fresh records were swept, %d left", reg.Len())
	}

	clock.Set(clock.Now().Add(DefaultFreshness + time.Second))
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not purge stale records, %d left", reg.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitStopped(t, reg)

	// Stopped sweepers leave new stale records alone until restarted.
	reg.Upsert(decodeUpdate(t, `{"route":"138","lat":1,"lng":2,"timestamp":1000}`))
	time.Sleep(20 * time.Millisecond)
	if reg.Len() != 1 {
		t.Fatalf("stopped sweeper still running")
	}
	reg.StartSweeper(context.Background(), 5*time.Millisecond)
	deadline = time.Now().Add(2 * time.Second)
	for reg.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("restarted sweeper did not purge")
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitStopped(t, reg)
}

func TestSweeperStopsWithContext(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	reg.StartSweeper(ctx, time.Millisecond)
	cancel()
	waitStopped(t, reg)
}

func TestConcurrentAccess(t *testing.T) {
	reg, clock := newTestRegistry()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				route := fmt.Sprintf("r%d", i%10)
				ts := clock.Now().UnixMilli() - int64((i%3)*200000)
				reg.Upsert(UpdateRequest{Route: Text(route), Lat: Num(1), Lng: Num(2), Timestamp: Num(float64(ts))})
				reg.Get(route)
				if i%7 == 0 {
					reg.Stop(route)
				}
				if i%11 == 0 {
					reg.Sweep()
				}
				reg.ListActive()
			}
		}(w)
	}
	wg.Wait()
	buses, n := reg.ListActive()
	if n != len(buses) || n > 10 {
		t.Fatalf("inconsistent state: %d vs %d", n, len(buses))
	}
}
