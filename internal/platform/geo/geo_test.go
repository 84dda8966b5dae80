package geo

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	portland = Coord{Lat: 45.5152, Lng: -122.6784}
	salem    = Coord{Lat: 44.9429, Lng: -123.0351}
	seattle  = Coord{Lat: 47.6062, Lng: -122.3321}
)

func TestGreatCircleMiles_Identity(t *testing.T) {
	if d := GreatCircleMiles(portland, portland); d != 0 {
		t.Fatalf("expected 0 for identical points, got %v", d)
	}
}

func TestGreatCircleMiles_Symmetric(t *testing.T) {
	ab := GreatCircleMiles(portland, seattle)
	ba := GreatCircleMiles(seattle, portland)
	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("expected symmetric distances, got %v and %v", ab, ba)
	}
	// Portland to Seattle is roughly 145 miles as the crow flies.
	if ab < 140 || ab > 150 {
		t.Errorf("unexpected Portland-Seattle distance %v", ab)
	}
}

func TestGreatCircleMiles_TriangleInequality(t *testing.T) {
	direct := GreatCircleMiles(salem, seattle)
	via := GreatCircleMiles(salem, portland) + GreatCircleMiles(portland, seattle)
	if direct > via+1e-6 {
		t.Fatalf("triangle inequality violated: %v > %v", direct, via)
	}
}

func TestEstimateDriveMinutes(t *testing.T) {
	tests := []struct {
		miles float64
		want  int
	}{
		{0, 0},
		{-3, 0},
		{0.001, 1},
		{0.4, 1},
		{1, 2},
		{15, 30},
		{30, 60},
		{12.3, 25},
	}
	for _, tt := range tests {
		if got := EstimateDriveMinutes(tt.miles); got != tt.want {
			t.Errorf("EstimateDriveMinutes(%v) = %d, want %d", tt.miles, got, tt.want)
		}
	}
}

func TestRoundMiles(t *testing.T) {
	if got := RoundMiles(12.345); got != 12.3 {
		t.Errorf("expected 12.3, got %v", got)
	}
	if got := RoundMiles(0.05); got != 0.1 {
		t.Errorf("expected 0.1, got %v", got)
	}
}

// -- Resolver --

type stubGeocoder struct {
	calls atomic.Int32
	delay time.Duration
	coord Coord
	err   error
}

func (s *stubGeocoder) Geocode(_ context.Context, _ string) (Coord, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.coord, s.err
}

func TestResolver_PrefersStoredCoordinates(t *testing.T) {
	g := &stubGeocoder{coord: seattle}
	r := NewResolver(nil, WithGeocoder(g))

	c, ok := r.Resolve(context.Background(), Location{Key: "p1", Address: "x", Stored: &portland})
	if !ok || c != portland {
		t.Fatalf("expected stored coordinate, got %v %v", c, ok)
	}
	if g.calls.Load() != 0 {
		t.Errorf("expected no geocoder calls, got %d", g.calls.Load())
	}
}

func TestResolver_GeocodesAndCaches(t *testing.T) {
	g := &stubGeocoder{coord: salem}
	cache := NewMemoryCache()
	r := NewResolver(cache, WithGeocoder(g))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c, ok := r.Resolve(ctx, Location{Key: "p1", Address: "1 Court St NE, Salem"})
		if !ok || c != salem {
			t.Fatalf("expected salem, got %v %v", c, ok)
		}
	}
	if g.calls.Load() != 1 {
		t.Errorf("expected 1 geocoder call, got %d", g.calls.Load())
	}
	if _, ok := r.Cached(ctx, Location{Key: "p1"}); !ok {
		t.Error("expected coordinate in cache")
	}
}

func TestResolver_FailureIsUnresolved(t *testing.T) {
	g := &stubGeocoder{err: errors.New("boom")}
	r := NewResolver(nil, WithGeocoder(g))

	if _, ok := r.Resolve(context.Background(), Location{Key: "p1", Address: "nowhere"}); ok {
		t.Fatal("expected unresolved")
	}
	if _, ok := r.Resolve(context.Background(), Location{Key: "p2"}); ok {
		t.Fatal("expected unresolved without address")
	}
}

func TestResolver_ConcurrentLookupsShareOneCall(t *testing.T) {
	g := &stubGeocoder{coord: seattle, delay: 50 * time.Millisecond}
	r := NewResolver(nil, WithGeocoder(g))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Resolve(context.Background(), Location{Key: "p1", Address: "Seattle"})
		}()
	}
	wg.Wait()
	if n := g.calls.Load(); n != 1 {
		t.Errorf("expected one shared geocoder call, got %d", n)
	}
}

// -- HTTP clients --

func TestHTTPGeocoder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("q") == "" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"lat":"45.5152","lon":"-122.6784"}]`))
	}))
	defer srv.Close()

	g := NewHTTPGeocoder(srv.URL)
	c, err := g.Geocode(context.Background(), "Portland, OR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != portland {
		t.Errorf("expected %v, got %v", portland, c)
	}

	if _, err := g.Geocode(context.Background(), ""); !errors.Is(err, ErrUnresolved) {
		t.Errorf("expected ErrUnresolved for empty result, got %v", err)
	}
}

func TestHTTPDistanceMatrix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req matrixRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		legs := make([]RouteLeg, len(req.Stops))
		for i, s := range req.Stops {
			legs[i] = RouteLeg{DestinationID: s.ID, DistanceMiles: float64(i + 1), DurationMinutes: 10 * (i + 1)}
		}
		json.NewEncoder(w).Encode(matrixResponse{Legs: legs})
	}))
	defer srv.Close()

	m := NewHTTPDistanceMatrix(srv.URL)
	legs, err := m.Distances(context.Background(), portland, []Stop{{ID: "a", Coord: salem}, {ID: "b", Coord: seattle}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(legs) != 2 || legs[1].DestinationID != "b" || legs[1].DurationMinutes != 20 {
		t.Errorf("unexpected legs: %+v", legs)
	}
}

type countingMatrix struct {
	calls atomic.Int32
	delay time.Duration
}

func (c *countingMatrix) Distances(_ context.Context, _ Coord, stops []Stop) ([]RouteLeg, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	legs := make([]RouteLeg, len(stops))
	for i, s := range stops {
		legs[i] = RouteLeg{DestinationID: s.ID, DistanceMiles: 1, DurationMinutes: 3}
	}
	return legs, nil
}

func TestCachedMatrix_DeduplicatesInFlight(t *testing.T) {
	inner := &countingMatrix{delay: 50 * time.Millisecond}
	m := NewCachedMatrix(inner)
	stops := []Stop{{ID: "a", Coord: salem}}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Distances(context.Background(), portland, stops); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, err := m.Distances(context.Background(), portland, stops); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}

	// A different chain is a different key.
	m.Distances(context.Background(), portland, []Stop{{ID: "b", Coord: seattle}})
	if m.Fetches() != 2 {
		t.Errorf("expected 2 fetches, got %d", m.Fetches())
	}
}

func TestCachedMatrix_EvictsOldest(t *testing.T) {
	inner := &countingMatrix{}
	m := NewCachedMatrixSize(inner, 2)
	ctx := context.Background()
	a := []Stop{{ID: "a", Coord: salem}}
	b := []Stop{{ID: "b", Coord: seattle}}
	c := []Stop{{ID: "c", Coord: salem}}

	m.Distances(ctx, portland, a)
	m.Distances(ctx, portland, b)
	m.Distances(ctx, portland, c)
	if m.Len() != 2 {
		t.Errorf("expected 2 cached chains, got %d", m.Len())
	}

	m.Distances(ctx, portland, c)
	if m.Fetches() != 3 {
		t.Errorf("expected newest chain served from cache, got %d fetches", m.Fetches())
	}
	m.Distances(ctx, portland, a)
	if m.Fetches() != 4 {
		t.Errorf("expected evicted chain to be fetched again, got %d fetches", m.Fetches())
	}
}
