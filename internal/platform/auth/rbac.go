package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/asha/records/internal/platform/apperr"
)

const (
	RoleASHAWorker = "asha_worker"
	RoleSupervisor = "supervisor"
	RoleAdmin      = "admin"
)

// IsKnownRole reports whether role is one the service issues.
func IsKnownRole(role string) bool {
	switch role {
	case RoleASHAWorker, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// Action names a capability checked by Can.
type Action string

const (
	ActionPatientWrite   Action = "patient:write"
	ActionPatientDelete  Action = "patient:delete"
	ActionPatientExport  Action = "patient:export"
	ActionQRRevoke       Action = "qr:revoke"
	ActionAlertRaise     Action = "alert:raise"
	ActionAlertResolve   Action = "alert:resolve"
	ActionSupervisorView Action = "supervisor:view"
	ActionSync           Action = "offline:sync"
)

var capabilities = map[string]map[Action]bool{
	RoleASHAWorker: {
		ActionPatientWrite: true,
		ActionAlertRaise:   true,
		ActionSync:         true,
	},
	RoleSupervisor: {
		ActionPatientWrite:   true,
		ActionPatientDelete:  true,
		ActionPatientExport:  true,
		ActionQRRevoke:       true,
		ActionAlertRaise:     true,
		ActionAlertResolve:   true,
		ActionSupervisorView: true,
		ActionSync:           true,
	},
}

// Can reports whether role holds the capability for action. Admin holds all.
func Can(role string, action Action) bool {
	if role == RoleAdmin {
		return true
	}
	return capabilities[role][action]
}

// Actor is the authenticated caller. The record layer treats ID as an opaque
// reference.
type Actor struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role"`
	District string `json:"district,omitempty"`
	Block    string `json:"block,omitempty"`
}

// Authorize returns an AuthorizationError when the actor may not perform action.
func Authorize(a Actor, action Action) error {
	if Can(a.Role, action) {
		return nil
	}
	return &apperr.AuthorizationError{Role: a.Role, Action: string(action)}
}

// RequireRole returns middleware that checks the actor holds one of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := RoleFromContext(c.Request().Context())
			for _, required := range roles {
				if role == required || role == RoleAdmin {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireCapability returns middleware that checks Can for the actor's role.
func RequireCapability(action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := Authorize(ActorFromContext(c.Request().Context()), action); err != nil {
				return err
			}
			return next(c)
		}
	}
}
