package offline

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/asha/records/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sync", h.Sync, auth.RequireCapability(auth.ActionSync))
}

func (h *Handler) Sync(c echo.Context) error {
	var b Batch
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	sum, err := h.svc.Sync(ctx, auth.ActorFromContext(ctx), b)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}
