package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"20M", 20 << 20},
		{"512K", 512 << 10},
		{"512KB", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"lots", 1 << 20},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.input); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func runBodyLimit(t *testing.T, mw echo.MiddlewareFunc, path string, body []byte, unknownLength bool) (bool, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if unknownLength {
		req.ContentLength = -1
	}
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	err := mw(func(c echo.Context) error {
		called = true
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
	return called, err
}

func statusOf(err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return 0
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	called, err := runBodyLimit(t, BodyLimit("1K", nil), "/api/v1/patients", []byte(`{"fullName":"Sita"}`), false)
	if err != nil || !called {
		t.Fatalf("expected handler to run, called=%v err=%v", called, err)
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	called, err := runBodyLimit(t, BodyLimit("1K", nil), "/api/v1/patients", bytes.Repeat([]byte("x"), 2048), false)
	if called {
		t.Error("handler should not run")
	}
	if statusOf(err) != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %v", err)
	}
}

func TestBodyLimit_OverrideForSync(t *testing.T) {
	mw := BodyLimit("1K", map[string]string{"/api/v1/sync": "10K"})
	body := bytes.Repeat([]byte("x"), 4096)

	if _, err := runBodyLimit(t, mw, "/api/v1/sync", body, false); err != nil {
		t.Errorf("sync path should accept 4K, got %v", err)
	}
	if _, err := runBodyLimit(t, mw, "/api/v1/patients", body, false); statusOf(err) != http.StatusRequestEntityTooLarge {
		t.Errorf("patients path should reject 4K, got %v", err)
	}
}

func TestBodyLimit_EnforcedWhileReading(t *testing.T) {
	called, err := runBodyLimit(t, BodyLimit("512", nil), "/api/v1/patients", bytes.Repeat([]byte("a"), 1024), true)
	if !called {
		t.Fatal("expected handler to run when length is unknown")
	}
	if statusOf(err) != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 from read, got %v", err)
	}
}

func TestBodyLimit_SkipsEmptyBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	called := false
	err := BodyLimit("1", nil)(func(c echo.Context) error {
		called = true
		return nil
	})(c)
	if err != nil || !called {
		t.Fatalf("expected pass-through, called=%v err=%v", called, err)
	}
}
