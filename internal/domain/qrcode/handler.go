package qrcode

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/asha/records/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/qr")
	g.POST("/scan", h.Scan)
	g.GET("/:healthId/image.png", h.Image)
}

type scanRequest struct {
	Payload string `json:"payload"`
}

func (h *Handler) Scan(c echo.Context) error {
	var req scanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Scan(c.Request().Context(), req.Payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Image(c echo.Context) error {
	size := 0
	if raw := c.QueryParam("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperr.Invalid("size", "must be an integer")
		}
		size = n
	}
	img, err := h.svc.Image(c.Request().Context(), c.Param("healthId"), size)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", img)
}
