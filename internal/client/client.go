// Package client talks to the TransitLK HTTP API from the driver side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"transitlk/internal/registry"
)

// ErrNotFound is returned by Location when the route has no fresh fix.
var ErrNotFound = errors.New("no active bus for route")

// APIError carries a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Message)
}

type Client struct {
	base string
	hc   *http.Client
}

func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), hc: hc}
}

type Health struct {
	Status      string  `json:"status"`
	ActiveBuses int     `json:"activeBuses"`
	Uptime      float64 `json:"uptime"`
	Version     string  `json:"version"`
}

type ActiveBuses struct {
	ActiveBuses int                                `json:"activeBuses"`
	Buses       map[string]registry.LocationRecord `json:"buses"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &h)
	return h, err
}

// PostLocation sends a fix and returns the record the server stored.
func (c *Client) PostLocation(ctx context.Context, req registry.UpdateRequest) (registry.LocationRecord, error) {
	var resp struct {
		Location registry.LocationRecord `json:"location"`
	}
	err := c.do(ctx, http.MethodPost, "/api/driver/location", req, &resp)
	return resp.Location, err
}

func (c *Client) StopSharing(ctx context.Context, req registry.StopRequest) error {
	return c.do(ctx, http.MethodPost, "/api/driver/location/stop", req, nil)
}

func (c *Client) Location(ctx context.Context, route string) (registry.LocationRecord, error) {
	var rec registry.LocationRecord
	err := c.do(ctx, http.MethodGet, "/api/passenger/location/"+url.PathEscape(route), nil, &rec)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return rec, fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	}
	return rec, err
}

func (c *Client) ActiveBuses(ctx context.Context) (ActiveBuses, error) {
	var a ActiveBuses
	err := c.do(ctx, http.MethodGet, "/api/buses/active", nil, &a)
	return a, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<14))
		if json.Unmarshal(b, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(b))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
