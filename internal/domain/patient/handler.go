package patient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/auth"
	"github.com/asha/records/internal/platform/blobstore"
	"github.com/asha/records/pkg/pagination"
)

type Handler struct {
	svc   *Service
	blobs blobstore.BlobStore
}

func NewHandler(svc *Service, blobs blobstore.BlobStore) *Handler {
	return &Handler{svc: svc, blobs: blobs}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	write := auth.RequireRole(auth.RoleASHAWorker, auth.RoleSupervisor)
	supervisor := auth.RequireRole(auth.RoleSupervisor)

	read := api.Group("/patients")
	read.GET("", h.SearchPatients)
	read.GET("/high-risk", h.HighRisk)
	read.GET("/statistics/overview", h.Statistics)
	read.GET("/health-id/:healthId", h.GetByHealthID)
	read.GET("/aadhaar/:aadhaar", h.GetByAadhaar)
	read.GET("/:id", h.GetPatient)
	read.GET("/:id/visits", h.ListVisits)
	read.GET("/:id/vaccines/upcoming", h.UpcomingVaccines)
	read.GET("/export", h.Export, auth.RequireCapability(auth.ActionPatientExport))
	api.GET("/visits", h.AllVisits)

	w := api.Group("/patients", write)
	w.POST("", h.RegisterPatient)
	w.PUT("/:id", h.UpdatePatient)
	w.POST("/:id/visits", h.AddVisit)
	w.POST("/:id/immunizations", h.AddImmunization)
	w.PUT("/:id/risk", h.AssessRisk)
	w.POST("/:id/photo", h.UploadPhoto)
	w.POST("/:id/qr/regenerate", h.RegenerateQR)

	s := api.Group("/patients", supervisor)
	s.DELETE("/:id", h.DeletePatient)
	s.POST("/:id/qr/revoke", h.RevokeQR)
}

func actor(c echo.Context) auth.Actor {
	return auth.ActorFromContext(c.Request().Context())
}

func (h *Handler) view(p *Patient) View {
	return NewView(p, h.svc.Now())
}

// FilterFromContext reads the district, block and village query params.
func FilterFromContext(c echo.Context) Filter {
	return Filter{
		District: c.QueryParam("district"),
		Block:    c.QueryParam("block"),
		Village:  c.QueryParam("village"),
	}
}

// bind decodes the request body into dst. A value of the wrong JSON type is
// reported as a violation on its field; the rest of dst is still decoded.
func bind(c echo.Context, dst interface{}) error {
	err := c.Bind(dst)
	if err == nil {
		return nil
	}
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) && ute.Field != "" {
		return apperr.Invalid(ute.Field, "must be a %s", jsonKind(ute.Type.Kind()))
	}
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

func jsonKind(k reflect.Kind) string {
	switch k {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Struct, reflect.Map:
		return "object"
	}
	return "number"
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var p Patient
	if err := bind(c, &p); err != nil {
		// Report decode problems together with every other violation.
		v := &apperr.ValidationError{}
		if !v.Merge(err) {
			return err
		}
		v.Merge(h.svc.CheckRegistration(actor(c), &p))
		return v
	}
	created, err := h.svc.RegisterPatient(c.Request().Context(), actor(c), &p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, h.view(created))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.view(p))
}

func (h *Handler) GetByHealthID(c echo.Context) error {
	p, err := h.svc.GetByHealthID(c.Request().Context(), c.Param("healthId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.view(p))
}

func (h *Handler) GetByAadhaar(c echo.Context) error {
	p, err := h.svc.GetByAadhaar(c.Request().Context(), c.Param("aadhaar"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.view(p))
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	text := c.QueryParam("q")
	if text == "" {
		text = c.QueryParam("search")
	}
	q := Query{
		Filter:       FilterFromContext(c),
		Text:         strings.TrimSpace(text),
		Status:       c.QueryParam("status"),
		RegisteredBy: c.QueryParam("registeredBy"),
		Limit:        pg.Limit,
		Offset:       pg.Offset,
	}
	if risk := c.QueryParam("riskLevel"); risk != "" {
		q.RiskLevels = strings.Split(risk, ",")
	}
	items, total, err := h.svc.SearchPatients(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(NewViews(items, h.svc.Now()), total, pg))
}

func (h *Handler) HighRisk(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.HighRisk(c.Request().Context(), FilterFromContext(c), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(NewViews(items, h.svc.Now()), total, pg))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var p Patient
	if err := bind(c, &p); err != nil {
		return err
	}
	updated, err := h.svc.UpdatePatient(c.Request().Context(), actor(c), c.Param("id"), &p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.view(updated))
}

func (h *Handler) DeletePatient(c echo.Context) error {
	if err := h.svc.DeletePatient(c.Request().Context(), actor(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddVisit(c echo.Context) error {
	var v Visit
	if err := bind(c, &v); err != nil {
		return err
	}
	p, visit, err := h.svc.AddVisit(c.Request().Context(), actor(c), c.Param("id"), v)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"visit":   visit,
		"patient": h.view(p),
	})
}

func (h *Handler) ListVisits(c echo.Context) error {
	visits, err := h.svc.ListVisits(c.Request().Context(), c.Param("id"), c.QueryParam("type"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"visits": visits, "total": len(visits)})
}

// AllVisits lists visits across patients. Besides the location filter it
// accepts ashaWorker, type, and from/to dates.
func (h *Handler) AllVisits(c echo.Context) error {
	pg := pagination.FromContext(c)
	q := VisitQuery{
		Filter:     FilterFromContext(c),
		ASHAWorker: c.QueryParam("ashaWorker"),
		Type:       c.QueryParam("type"),
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	}
	v := &apperr.ValidationError{}
	for _, b := range []struct {
		name string
		dst  *Date
	}{{"from", &q.From}, {"to", &q.To}} {
		if raw := c.QueryParam(b.name); raw != "" {
			d, err := ParseDate(raw)
			if err != nil {
				v.Add(b.name, dateMessage)
				continue
			}
			*b.dst = d
		}
	}
	if err := v.Err(); err != nil {
		return err
	}
	visits, total, err := h.svc.ListAllVisits(c.Request().Context(), actor(c), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg))
}

func (h *Handler) AddImmunization(c echo.Context) error {
	var im Immunization
	if err := bind(c, &im); err != nil {
		return err
	}
	p, err := h.svc.AddImmunization(c.Request().Context(), actor(c), c.Param("id"), im)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, h.view(p))
}

func (h *Handler) UpcomingVaccines(c echo.Context) error {
	due, err := h.svc.UpcomingVaccines(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"upcomingVaccines": due})
}

func (h *Handler) AssessRisk(c echo.Context) error {
	var r RiskAssessment
	if err := bind(c, &r); err != nil {
		return err
	}
	p, err := h.svc.AssessRisk(c.Request().Context(), actor(c), c.Param("id"), r)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.view(p))
}

func (h *Handler) UploadPhoto(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if _, err := h.svc.GetPatient(ctx, id); err != nil {
		return err
	}
	meta, err := blobstore.UploadForm(c, h.blobs, id, blobstore.CategoryPhoto)
	if err != nil {
		return err
	}
	p, err := h.svc.AttachPhoto(ctx, actor(c), id, Photo{
		Filename:   meta.FileName,
		Path:       meta.Path,
		UploadedAt: meta.CreatedAt,
	})
	if err != nil {
		_ = h.blobs.Delete(ctx, meta.ID)
		return err
	}
	return c.JSON(http.StatusOK, h.view(p))
}

func (h *Handler) RegenerateQR(c echo.Context) error {
	p, err := h.svc.RegenerateQR(c.Request().Context(), actor(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p.QRCode)
}

func (h *Handler) RevokeQR(c echo.Context) error {
	p, err := h.svc.RevokeQR(c.Request().Context(), actor(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p.QRCode)
}

func (h *Handler) Statistics(c echo.Context) error {
	ov, err := h.svc.Overview(c.Request().Context(), FilterFromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ov)
}

func (h *Handler) Export(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = FormatCSV
	}
	var buf bytes.Buffer
	if err := h.svc.Export(c.Request().Context(), actor(c), FilterFromContext(c), format, &buf); err != nil {
		return err
	}

	contentType := "text/csv"
	if format == FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	filename := fmt.Sprintf("patients-%s.%s", h.svc.Now().Format("2006-01-02"), format)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Blob(http.StatusOK, contentType, buf.Bytes())
}
