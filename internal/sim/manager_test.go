package sim

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"transitlk/internal/api"
	"transitlk/internal/client"
	"transitlk/internal/registry"
	"transitlk/internal/speed"
	"transitlk/internal/tracker"
	"transitlk/internal/trip"
)

type recordingSink struct {
	mu        sync.Mutex
	locations []registry.UpdateRequest
	stops     []registry.StopRequest
	failEvery int
}

func (s *recordingSink) PublishLocation(_ context.Context, req registry.UpdateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append(s.locations, req)
	if s.failEvery > 0 && len(s.locations)%s.failEvery == 0 {
		return errors.New("boom")
	}
	return nil
}

func (s *recordingSink) PublishStop(_ context.Context, req registry.StopRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = append(s.stops, req)
	return nil
}

func frames(n int, start time.Time) []trip.Frame {
	out := make([]trip.Frame, n)
	for i := range out {
		out[i] = trip.Frame{
			Timestamp:  start.Add(time.Duration(i) * time.Second),
			Lat:        6.9 + float64(i)*0.0001,
			Lng:        79.85,
			Speed:      3,
			Accuracy:   5,
			Satellites: 8,
		}
	}
	return out
}

func newSession(t *testing.T, store trip.Store, offset time.Duration) *tracker.Session {
	t.Helper()
	s, err := tracker.NewSession(tracker.Options{
		Filter: speed.DefaultConfig(),
		Store:  store,
		Clock:  func() time.Time { return time.Now().Add(offset) },
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestManagerReplaysJobs(t *testing.T) {
	store := trip.NewFileStore(filepath.Join(t.TempDir(), "trips.json"))
	sink := &recordingSink{failEvery: 4}
	m := NewManager(sink, 0)

	start := time.Now()
	m.Start(context.Background(), []Job{
		{Route: "138", Driver: "Kamal", Frames: frames(8, start), Session: newSession(t, store, 0)},
		{Route: "177", Driver: "Nimal", Frames: frames(4, start), Session: newSession(t, store, time.Hour)},
	})
	results := m.Wait()

	if len(results) != 2 || m.Running() != 0 {
		t.Fatalf("unexpected results %+v", results)
	}
	total := 0
	for route, r := range results {
		if r.Err != nil {
			t.Errorf("route %s: %v", route, r.Err)
		}
		total += r.Published + r.Failed
		if len(r.Trip.Frames) == 0 {
			t.Errorf("route %s: trip not recorded", route)
		}
	}
	if total != 12 || len(sink.locations) != 12 {
		t.Errorf("expected 12 publishes, got %d / %d", total, len(sink.locations))
	}
	if results["138"].Failed+results["177"].Failed != 3 {
		t.Errorf("expected 3 failures, got %d and %d", results["138"].Failed, results["177"].Failed)
	}
	if len(sink.stops) != 2 {
		t.Errorf("expected stop per route, got %d", len(sink.stops))
	}
	if list, _ := store.List(context.Background()); len(list) != 2 {
		t.Errorf("expected 2 saved trips, got %d", len(list))
	}
}

func TestManagerStopCancels(t *testing.T) {
	store := trip.NewFileStore(filepath.Join(t.TempDir(), "trips.json"))
	sink := &recordingSink{}
	// One hour between frames; only the first is sent before Stop.
	m := NewManager(sink, 1)
	fr := frames(2, time.Now())
	fr[1].Timestamp = fr[0].Timestamp.Add(time.Hour)
	m.Start(context.Background(), []Job{{Route: "1", Frames: fr, Session: newSession(t, store, 0)}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.locations)
		sink.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	res := m.Wait()["1"]
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", res.Err)
	}
	if res.Published != 1 || len(res.Trip.Frames) != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(sink.stops) != 1 {
		t.Error("stop should be sent after cancellation")
	}
}

func TestReplayKeepsRecordedSpeeds(t *testing.T) {
	recorded := []float64{2, 4, 6, 8}
	for _, tc := range []struct {
		name     string
		resmooth bool
		want     []float64
	}{
		{"recorded", false, []float64{2, 4, 6, 8}},
		{"resmoothed", true, []float64{2, 4, 4, 5}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := trip.NewFileStore(filepath.Join(t.TempDir(), "trips.json"))
			sink := &recordingSink{}
			fr := frames(len(recorded), time.Now())
			for i, v := range recorded {
				fr[i].Speed = v
			}
			m := NewManager(sink, 0)
			m.Start(context.Background(), []Job{{Route: "138", Frames: fr, Session: newSession(t, store, 0), Resmooth: tc.resmooth}})
			res := m.Wait()["138"]
			if res.Err != nil {
				t.Fatal(res.Err)
			}
			for i, want := range tc.want {
				if got := sink.locations[i].Speed.Value; got != want {
					t.Errorf("fix %d: published speed %v, want %v", i, got, want)
				}
				if got := res.Trip.Frames[i].Speed; got != want {
					t.Errorf("fix %d: recorded speed %v, want %v", i, got, want)
				}
			}
			if res.Trip.MaxSpeed != tc.want[len(tc.want)-1] {
				t.Errorf("unexpected max speed %v", res.Trip.MaxSpeed)
			}
		})
	}
}

func TestHTTPSinkAgainstAPI(t *testing.T) {
	reg := registry.New(registry.DefaultFreshness, nil, nil)
	srv := httptest.NewServer(api.New(api.Options{Registry: reg}).Handler())
	defer srv.Close()

	sink := HTTPSink{C: client.New(srv.URL, srv.Client())}
	m := NewManager(sink, 0)
	store := trip.NewFileStore(filepath.Join(t.TempDir(), "trips.json"))
	m.Start(context.Background(), []Job{{Route: "138", Driver: "Kamal", Frames: frames(3, time.Now()), Session: newSession(t, store, 0)}})
	res := m.Wait()["138"]
	if res.Err != nil || res.Published != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if reg.Len() != 0 {
		t.Errorf("route should be removed after the replay, %d left", reg.Len())
	}
}
