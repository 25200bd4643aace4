// Package geocode turns coordinates into a short place name.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultEndpoint = "https://nominatim.openstreetmap.org"

type Resolver struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

func NewResolver(endpoint, userAgent string, client *http.Client) *Resolver {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{endpoint: strings.TrimRight(endpoint, "/"), userAgent: userAgent, client: client}
}

type reverseResponse struct {
	Name    string `json:"name"`
	Address struct {
		Road    string `json:"road"`
		Suburb  string `json:"suburb"`
		Village string `json:"village"`
	} `json:"address"`
}

// Fallback formats the coordinates used when no name is available.
func Fallback(lat, lng float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lng)
}

// LocationName returns the first non-empty of the feature name, road and
// suburb. Lookup failures are logged and yield Fallback.
func (r *Resolver) LocationName(ctx context.Context, lat, lng float64) string {
	name, err := r.lookup(ctx, lat, lng)
	if err != nil {
		log.Printf("geocode %.5f,%.5f: %v", lat, lng, err)
	}
	if name == "" {
		return Fallback(lat, lng)
	}
	return name
}

func (r *Resolver) lookup(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("zoom", "18")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var rr reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	for _, s := range []string{rr.Name, rr.Address.Road, rr.Address.Suburb, rr.Address.Village} {
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	}
	return "", nil
}
