// Package live pushes active-bus snapshots to passengers over websockets.
package live

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// ClientGauge tracks connected clients; satisfied by a prometheus.Gauge.
type ClientGauge interface {
	Set(float64)
}

// Hub fans snapshots out to every connected websocket.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	gauge   ClientGauge
}

func NewHub(g ClientGauge) *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{}), gauge: g}
}

// add registers c and sends it the initial payload under the hub lock so it
// never races with a broadcast write.
func (h *Hub) add(c *websocket.Conn, initial []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if initial != nil {
		if err := write(c, initial); err != nil {
			_ = c.Close()
			return
		}
	}
	h.clients[c] = struct{}{}
	h.report()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.report()
	h.mu.Unlock()
}

// Broadcast writes data to all clients, dropping any that fail.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	for c := range h.clients {
		if err := write(c, data); err != nil {
			_ = c.Close()
			delete(h.clients, c)
		}
	}
	h.report()
	h.mu.Unlock()
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = c.Close()
		delete(h.clients, c)
	}
	h.report()
	h.mu.Unlock()
}

func (h *Hub) report() {
	if h.gauge != nil {
		h.gauge.Set(float64(len(h.clients)))
	}
}

// serve upgrades the request and keeps reading until the peer goes away.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, initial []byte) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	h.add(conn, initial)
	go h.readPump(conn)
}

func (h *Hub) readPump(c *websocket.Conn) {
	defer func() {
		h.remove(c)
		_ = c.Close()
	}()
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func write(c *websocket.Conn, data []byte) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(websocket.TextMessage, data)
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("live encode error: %v", err)
		return nil
	}
	return data
}
