package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/asha/records/internal/platform/apperr"
)

func contextWithRole(role string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithActor(req.Context(), Actor{ID: "u1", Role: role}))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestCan(t *testing.T) {
	tests := []struct {
		role   string
		action Action
		want   bool
	}{
		{RoleASHAWorker, ActionPatientWrite, true},
		{RoleASHAWorker, ActionPatientDelete, false},
		{RoleASHAWorker, ActionPatientExport, false},
		{RoleASHAWorker, ActionAlertResolve, false},
		{RoleSupervisor, ActionPatientDelete, true},
		{RoleSupervisor, ActionPatientExport, true},
		{RoleSupervisor, ActionQRRevoke, true},
		{RoleAdmin, ActionPatientDelete, true},
		{"", ActionPatientWrite, false},
		{"physician", ActionPatientWrite, false},
	}
	for _, tt := range tests {
		if got := Can(tt.role, tt.action); got != tt.want {
			t.Errorf("Can(%q, %s) = %v, want %v", tt.role, tt.action, got, tt.want)
		}
	}
}

func TestAuthorize_ReturnsAuthorizationError(t *testing.T) {
	err := Authorize(Actor{ID: "w1", Role: RoleASHAWorker}, ActionPatientDelete)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	var ae *apperr.AuthorizationError
	if !errors.As(err, &ae) || ae.Action != string(ActionPatientDelete) {
		t.Errorf("unexpected error detail %v", err)
	}

	if err := Authorize(Actor{ID: "s1", Role: RoleSupervisor}, ActionPatientDelete); err != nil {
		t.Errorf("expected supervisor to be allowed, got %v", err)
	}
}

func TestRequireRole_Allowed(t *testing.T) {
	c := contextWithRole(RoleSupervisor)
	if err := RequireRole(RoleSupervisor)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c := contextWithRole(RoleASHAWorker)
	err := RequireRole(RoleSupervisor)(okHandler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c := contextWithRole(RoleAdmin)
	if err := RequireRole(RoleSupervisor)(okHandler)(c); err != nil {
		t.Fatalf("expected admin to bypass, got %v", err)
	}
}

func TestRequireCapability(t *testing.T) {
	c := contextWithRole(RoleASHAWorker)
	err := RequireCapability(ActionPatientExport)(okHandler)(c)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	c = contextWithRole(RoleSupervisor)
	if err := RequireCapability(ActionPatientExport)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUserIDFromContext(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{ID: "asha-3", Role: RoleASHAWorker})
	if got := UserIDFromContext(ctx); got != "asha-3" {
		t.Errorf("expected asha-3, got %q", got)
	}
	if got := RoleFromContext(ctx); got != RoleASHAWorker {
		t.Errorf("expected asha_worker, got %q", got)
	}
}
