// Package api exposes the location registry over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"transitlk/internal/metrics"
	"transitlk/internal/registry"
)

const Service = "TransitLK by Vaylen"

type Options struct {
	Registry    *registry.Registry
	Version     string
	Metrics     *metrics.Collector // optional
	Live        http.Handler       // optional websocket feed
	LogRequests bool
	Now         func() time.Time
}

type Server struct {
	reg         *registry.Registry
	version     string
	metrics     *metrics.Collector
	live        http.Handler
	logRequests bool
	now         func() time.Time
	started     time.Time
}

func New(opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	version := opts.Version
	if version == "" {
		version = "1.0.0"
	}
	return &Server{
		reg:         opts.Registry,
		version:     version,
		metrics:     opts.Metrics,
		live:        opts.Live,
		logRequests: opts.LogRequests,
		now:         now,
		started:     now(),
	}
}

// Handler builds the router with CORS, metrics and panic recovery around every
// route, including unmatched ones and preflight requests. Paths are matched
// encoded so that a route such as "138/2" can be looked up as 138%2F2.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter().UseEncodedPath()
	r.Use(tagRoute)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/driver/location", s.handleDriverLocation).Methods(http.MethodPost)
	r.HandleFunc("/api/driver/location/stop", s.handleDriverStop).Methods(http.MethodPost)
	r.HandleFunc("/api/passenger/location/{route}", s.handlePassengerLocation).Methods(http.MethodGet)
	r.HandleFunc("/api/buses/active", s.handleActiveBuses).Methods(http.MethodGet)
	r.HandleFunc("/api/buses/active.pb", s.handleActiveFeed).Methods(http.MethodGet)
	if s.live != nil {
		r.Handle("/api/buses/live", s.live).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return cors(s.instrument(recoverer(r)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string   `json:"error"`
	Fields  []string `json:"fields,omitempty"`
	Service string   `json:"service"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Service: Service})
}

func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
