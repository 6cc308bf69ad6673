package analytics

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/asha/records/internal/domain/patient"
	"github.com/asha/records/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/analytics")
	g.GET("/dashboard", h.Dashboard)
	g.GET("/health-trends", h.HealthTrends)
	g.GET("/coverage", h.Coverage)
	g.GET("/performance", h.Performance)

	api.GET("/supervisor/dashboard", h.SupervisorDashboard, auth.RequireCapability(auth.ActionSupervisorView))
	api.GET("/incentives", h.Incentives)
}

func intParam(c echo.Context, name string) int {
	n, _ := strconv.Atoi(c.QueryParam(name))
	return n
}

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context(), patient.FilterFromContext(c), intParam(c, "days"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) HealthTrends(c echo.Context) error {
	ht, err := h.svc.HealthTrends(c.Request().Context(), patient.FilterFromContext(c), intParam(c, "months"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ht)
}

func (h *Handler) Coverage(c echo.Context) error {
	cov, err := h.svc.Coverage(c.Request().Context(), patient.FilterFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cov)
}

func (h *Handler) Performance(c echo.Context) error {
	p, err := h.svc.Performance(c.Request().Context(), patient.FilterFromContext(c), intParam(c, "days"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SupervisorDashboard(c echo.Context) error {
	ctx := c.Request().Context()
	d, err := h.svc.SupervisorDashboard(ctx, auth.ActorFromContext(ctx), patient.FilterFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Incentives(c echo.Context) error {
	ctx := c.Request().Context()
	items, err := h.svc.Incentives(ctx, auth.ActorFromContext(ctx), patient.FilterFromContext(c), c.QueryParam("month"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"incentives": items, "total": len(items)})
}
