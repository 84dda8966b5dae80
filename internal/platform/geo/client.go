package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Geocoding
// ---------------------------------------------------------------------------

// HTTPGeocoder queries a Nominatim-compatible search endpoint.
type HTTPGeocoder struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewHTTPGeocoder creates a geocoder for baseURL (e.g. https://nominatim.openstreetmap.org).
func NewHTTPGeocoder(baseURL string) *HTTPGeocoder {
	return &HTTPGeocoder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "visitgrid/1.0",
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (g *HTTPGeocoder) Geocode(ctx context.Context, address string) (Coord, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Coord{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Coord{}, fmt.Errorf("GET %s: %w", g.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Coord{}, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Coord{}, fmt.Errorf("decode geocoder response: %w", err)
	}
	if len(results) == 0 {
		return Coord{}, ErrUnresolved
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Coord{}, fmt.Errorf("parse lat: %w", err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Coord{}, fmt.Errorf("parse lon: %w", err)
	}
	return Coord{Lat: lat, Lng: lng}, nil
}

// ---------------------------------------------------------------------------
// Distance matrix
// ---------------------------------------------------------------------------

// Stop is one destination in a routed chain.
type Stop struct {
	ID    string `json:"id"`
	Coord Coord  `json:"coord"`
}

// RouteLeg is the driven distance into a stop from the stop before it (or the
// origin for the first stop).
type RouteLeg struct {
	DestinationID   string  `json:"destination_id"`
	DistanceMiles   float64 `json:"distance_miles"`
	DurationMinutes int     `json:"duration_minutes"`
}

// DistanceMatrix returns driven legs for origin followed by stops in order.
type DistanceMatrix interface {
	Distances(ctx context.Context, origin Coord, stops []Stop) ([]RouteLeg, error)
}

// HTTPDistanceMatrix posts the chain to a JSON routing service.
type HTTPDistanceMatrix struct {
	endpoint string
	client   *http.Client
}

// NewHTTPDistanceMatrix creates a client for endpoint.
func NewHTTPDistanceMatrix(endpoint string) *HTTPDistanceMatrix {
	return &HTTPDistanceMatrix{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type matrixRequest struct {
	Origin Coord  `json:"origin"`
	Stops  []Stop `json:"stops"`
}

type matrixResponse struct {
	Legs []RouteLeg `json:"legs"`
}

func (m *HTTPDistanceMatrix) Distances(ctx context.Context, origin Coord, stops []Stop) ([]RouteLeg, error) {
	body, err := json.Marshal(matrixRequest{Origin: origin, Stops: stops})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", m.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("distance service returned status %d", resp.StatusCode)
	}
	var out matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode distance response: %w", err)
	}
	return out.Legs, nil
}
