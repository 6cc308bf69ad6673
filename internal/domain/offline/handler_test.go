package offline

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asha/records/internal/platform/auth"
	"github.com/asha/records/internal/platform/middleware"
)

func newTestServer(mw ...echo.MiddlewareFunc) *echo.Echo {
	svc, _, _ := newTestService()
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1", mw...)
	NewHandler(svc).RegisterRoutes(api)
	return e
}

func post(e *echo.Echo, body, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Actor-ID", "asha-1")
	req.Header.Set("X-Actor-Role", role)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Sync(t *testing.T) {
	e := newTestServer(auth.DevAuthMiddleware())
	body := `{"deviceId": "tab-1", "items": [{"clientId": "c-1", "kind": "patient.register", "data": ` + registration + `}]}`

	rec := post(e, body, auth.RoleASHAWorker)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Applied)

	rec = post(e, body, auth.RoleASHAWorker)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Duplicates)
}

func TestHandler_SyncErrors(t *testing.T) {
	e := newTestServer(auth.DevAuthMiddleware())

	rec := post(e, `{"items": [`, auth.RoleASHAWorker)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	anonymous := newTestServer()
	rec = post(anonymous, `{"items": []}`, auth.RoleASHAWorker)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
