package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/asha/records/internal/platform/metrics"
)

func TestMetrics_CountsByRoute(t *testing.T) {
	m := metrics.NewCollector("test", nil)
	e := echo.New()
	h := Metrics(m)(okHandler)

	for _, id := range []string{"p-1", "p-2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+id, nil)
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetPath("/api/v1/patients/:id")
		if err := h(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/patients/:id", "200"))
	if got != 2 {
		t.Errorf("expected 2 requests on route template, got %v", got)
	}
	if v := testutil.ToFloat64(m.InFlightGauge); v != 0 {
		t.Errorf("expected in-flight back to 0, got %v", v)
	}
}

func TestMetrics_UsesErrorStatus(t *testing.T) {
	m := metrics.NewCollector("test", nil)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/v1/patients")

	_ = Metrics(m)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "duplicate")
	})(c)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/patients", "409")); got != 1 {
		t.Errorf("expected one 409, got %v", got)
	}
}

func TestMetrics_NilCollector(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := Metrics(nil)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTracing_RecordsServerSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/p-1", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/v1/patients/:id")

	var sawSpan bool
	err := Tracing(tp)(func(c echo.Context) error {
		sawSpan = traceSpanValid(c)
		return errors.New("db down")
	})(c)
	if err == nil {
		t.Fatal("expected handler error")
	}
	if !sawSpan {
		t.Error("expected handler context to carry the span")
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "GET /api/v1/patients/:id" {
		t.Errorf("unexpected span name %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status().Code)
	}
}

func traceSpanValid(c echo.Context) bool {
	return trace.SpanFromContext(c.Request().Context()).SpanContext().IsValid()
}
