package alert

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/asha/records/internal/platform/auth"
	"github.com/asha/records/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/alerts/emergency")
	g.POST("", h.Raise, auth.RequireCapability(auth.ActionAlertRaise))
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id/acknowledge", h.Acknowledge)
	g.PUT("/:id/resolve", h.Resolve, auth.RequireCapability(auth.ActionAlertResolve))
}

func (h *Handler) Raise(c echo.Context) error {
	var a Alert
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	created, err := h.svc.Raise(ctx, auth.ActorFromContext(ctx), &a)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), Query{
		Status:   c.QueryParam("status"),
		District: c.QueryParam("district"),
		Block:    c.QueryParam("block"),
		RaisedBy: c.QueryParam("raisedBy"),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	a, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Acknowledge(c echo.Context) error {
	ctx := c.Request().Context()
	a, err := h.svc.Acknowledge(ctx, auth.ActorFromContext(ctx), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (h *Handler) Resolve(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	a, err := h.svc.Resolve(ctx, auth.ActorFromContext(ctx), c.Param("id"), req.Resolution)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}
