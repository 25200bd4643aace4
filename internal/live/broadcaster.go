package live

import (
	"context"
	"log"
	"maps"
	"net/http"
	"sync"
	"time"

	"transitlk/internal/registry"
)

// Source is the registry view the broadcaster polls.
type Source interface {
	ListActive() (map[string]registry.LocationRecord, int)
}

// Counter is satisfied by a prometheus.Counter.
type Counter interface {
	Inc()
}

// Snapshot is the payload pushed to live clients.
type Snapshot struct {
	Success   bool                               `json:"success"`
	Buses     map[string]registry.LocationRecord `json:"buses"`
	Count     int                                `json:"count"`
	Timestamp int64                              `json:"timestamp"`
}

// Broadcaster polls a Source and pushes a snapshot whenever the set of
// active buses changes.
type Broadcaster struct {
	src        Source
	hub        *Hub
	interval   time.Duration
	broadcasts Counter

	mu   sync.Mutex
	last map[string]registry.LocationRecord

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBroadcaster(src Source, hub *Hub, interval time.Duration, broadcasts Counter) *Broadcaster {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Broadcaster{src: src, hub: hub, interval: interval, broadcasts: broadcasts}
}

// Start launches the poll loop. Call Stop to end it.
func (b *Broadcaster) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	b.cancel = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		t := time.NewTicker(b.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.Tick()
			}
		}
	}()
}

func (b *Broadcaster) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.hub.Close()
}

// Tick polls once and broadcasts if anything changed. It reports whether a
// broadcast happened.
func (b *Broadcaster) Tick() bool {
	buses, n := b.src.ListActive()

	b.mu.Lock()
	changed := !maps.Equal(buses, b.last)
	if changed {
		b.last = buses
	}
	b.mu.Unlock()

	if !changed {
		return false
	}
	data := encode(Snapshot{Success: true, Buses: buses, Count: n, Timestamp: time.Now().UnixMilli()})
	if data == nil {
		return false
	}
	b.hub.Broadcast(data)
	if b.broadcasts != nil {
		b.broadcasts.Inc()
	}
	if b.hub.Len() > 0 {
		log.Printf("live: pushed %d buses", n)
	}
	return true
}

// ServeHTTP upgrades the connection and sends the current snapshot first.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	buses, n := b.src.ListActive()
	b.hub.serve(w, r, encode(Snapshot{Success: true, Buses: buses, Count: n, Timestamp: time.Now().UnixMilli()}))
}
