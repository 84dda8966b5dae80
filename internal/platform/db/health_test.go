package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func callHealth(t *testing.T, h echo.HandlerFunc) (int, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, body
}

func TestHealthHandler_Memory(t *testing.T) {
	code, body := callHealth(t, HealthHandler(nil, nil))
	if code != http.StatusOK || body["store"] != "memory" {
		t.Errorf("expected healthy memory store, got %d %v", code, body)
	}
}

func TestHealthHandler_Healthy(t *testing.T) {
	stats := func() *PoolStats { return &PoolStats{TotalConns: 2, MaxConns: 10, Healthy: true} }
	code, body := callHealth(t, HealthHandler(fakePinger{}, stats))
	if code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("expected healthy, got %d %v", code, body)
	}
	pool, _ := body["pool"].(map[string]interface{})
	if pool["max_conns"] != float64(10) {
		t.Errorf("expected pool stats in body, got %v", body["pool"])
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	stats := func() *PoolStats { return &PoolStats{Healthy: true} }
	code, body := callHealth(t, HealthHandler(fakePinger{err: errors.New("connection refused")}, stats))
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	pool, _ := body["pool"].(map[string]interface{})
	if pool["healthy"] != false || body["error"] != "connection refused" {
		t.Errorf("unexpected body %v", body)
	}
}
