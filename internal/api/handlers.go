package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"transitlk/internal/feed"
	"transitlk/internal/registry"
)

const maxBody = 1 << 16

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":     "TransitLK Backend API",
		"company":     "Vaylen",
		"version":     s.version,
		"description": "Real-time bus tracking system for Sri Lanka",
		"timestamp":   isoTime(s.now()),
		"endpoints": map[string]string{
			"health":            "GET /api/health",
			"driverLocation":    "POST /api/driver/location",
			"driverStop":        "POST /api/driver/location/stop",
			"passengerLocation": "GET /api/passenger/location/{route}",
			"activeBuses":       "GET /api/buses/active",
			"activeBusesFeed":   "GET /api/buses/active.pb",
			"liveBuses":         "GET /api/buses/live",
		},
	})
}

type healthResponse struct {
	Status      string  `json:"status"`
	Service     string  `json:"service"`
	Timestamp   string  `json:"timestamp"`
	ActiveBuses int     `json:"activeBuses"`
	Uptime      float64 `json:"uptime"`
	Version     string  `json:"version"`
}

// handleHealth reports the stored count without purging stale records.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "OK",
		Service:     "TransitLK Backend",
		Timestamp:   isoTime(now),
		ActiveBuses: s.reg.Len(),
		Uptime:      now.Sub(s.started).Seconds(),
		Version:     s.version,
	})
}

type updateResponse struct {
	Success  bool                    `json:"success"`
	Message  string                  `json:"message"`
	Service  string                  `json:"service"`
	Location registry.LocationRecord `json:"location"`
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var req registry.UpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	rec, err := s.reg.Upsert(req)
	if err != nil {
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:   "Missing required fields: route, lat, lng",
				Fields:  verr.Fields,
				Service: Service,
			})
			return
		}
		log.Printf("update location: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	log.Printf("driver %s updated location for route %s: %.6f, %.6f", rec.Driver, req.Route, rec.Lat, rec.Lng)
	writeJSON(w, http.StatusOK, updateResponse{
		Success:  true,
		Message:  "Location updated successfully",
		Service:  Service,
		Location: rec,
	})
}

type stopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Service string `json:"service"`
}

// handleDriverStop always succeeds; a malformed body is treated as empty.
func (s *Server) handleDriverStop(w http.ResponseWriter, r *http.Request) {
	var req registry.StopRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req)
	if s.reg.Stop(string(req.Route)) {
		log.Printf("driver %s stopped sharing location for route %s", req.Driver, req.Route)
	}
	writeJSON(w, http.StatusOK, stopResponse{Success: true, Message: "Location sharing stopped", Service: Service})
}

type locationResponse struct {
	registry.LocationRecord
	Service string `json:"service"`
}

func (s *Server) handlePassengerLocation(w http.ResponseWriter, r *http.Request) {
	route, err := url.PathUnescape(mux.Vars(r)["route"])
	if err != nil {
		writeError(w, http.StatusNotFound, "No active bus found for this route")
		return
	}
	rec, err := s.reg.Get(route)
	switch {
	case errors.Is(err, registry.ErrStale):
		writeError(w, http.StatusNotFound, "No recent location data available")
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "No active bus found for this route")
	case err != nil:
		log.Printf("get location %s: %v", route, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, locationResponse{LocationRecord: rec, Service: Service})
	}
}

type activeResponse struct {
	Service     string                             `json:"service"`
	Company     string                             `json:"company"`
	ActiveBuses int                                `json:"activeBuses"`
	Buses       map[string]registry.LocationRecord `json:"buses"`
	Timestamp   string                             `json:"timestamp"`
}

func (s *Server) handleActiveBuses(w http.ResponseWriter, r *http.Request) {
	buses, n := s.reg.ListActive()
	writeJSON(w, http.StatusOK, activeResponse{
		Service:     Service,
		Company:     "Vaylen",
		ActiveBuses: n,
		Buses:       buses,
		Timestamp:   isoTime(s.now()),
	})
}

// handleActiveFeed serves the active buses as GTFS-Realtime, purging stale
// buses first.
func (s *Server) handleActiveFeed(w http.ResponseWriter, r *http.Request) {
	buses, _ := s.reg.ListActive()
	b, err := feed.Marshal(buses, s.now())
	if err != nil {
		log.Printf("encode feed: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", feed.ContentType)
	_, _ = w.Write(b)
}
