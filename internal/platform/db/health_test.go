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

func runHealth(t *testing.T, checks ...Check) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
	if err := HealthHandler(checks...)(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec, body
}

func TestHealthHandler_Healthy(t *testing.T) {
	rec, body := runHealth(t, Check{
		Name:  "mongo",
		Ping:  func(context.Context) error { return nil },
		Stats: func() interface{} { return map[string]int{"sessions": 2} },
	})
	if rec.Code != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("expected healthy 200, got %d %v", rec.Code, body)
	}
	checks := body["checks"].(map[string]interface{})
	mongo := checks["mongo"].(map[string]interface{})
	if mongo["stats"] == nil {
		t.Error("expected stats to be reported")
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	rec, body := runHealth(t,
		Check{Name: "postgres", Ping: func(context.Context) error { return nil }},
		Check{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
	)
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "unhealthy" {
		t.Fatalf("expected unhealthy 503, got %d %v", rec.Code, body)
	}
	redis := body["checks"].(map[string]interface{})["redis"].(map[string]interface{})
	if redis["error"] != "connection refused" {
		t.Errorf("unexpected redis result %v", redis)
	}
	pg := body["checks"].(map[string]interface{})["postgres"].(map[string]interface{})
	if pg["status"] != "healthy" {
		t.Errorf("unexpected postgres result %v", pg)
	}
}

func TestPoolStats_JSONTags(t *testing.T) {
	raw, err := json.Marshal(&PoolStats{TotalConns: 3, MaxConns: 20, AcquireDuration: "1ms"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"total_conns", "idle_conns", "acquired_conns", "max_conns", "acquire_count", "acquire_duration"} {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %s", k)
		}
	}
}
