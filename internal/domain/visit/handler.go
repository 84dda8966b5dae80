package visit

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/homevisit/visitgrid/internal/platform/auth"
	"github.com/homevisit/visitgrid/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleScheduler))

	g.GET("/appointments", h.ListAppointments)
	g.POST("/appointments", h.CreateAppointment)
	g.GET("/appointments/:id", h.GetAppointment)
	g.PUT("/appointments/:id", h.UpdateAppointment)
	g.DELETE("/appointments/:id", h.DeleteAppointment)
	g.POST("/appointments/:id/move", h.MoveAppointment)
	g.POST("/appointments/:id/resize", h.ResizeAppointment)
	g.POST("/appointments/:id/copy", h.CopyAppointment)

	g.POST("/weeks/:start/clear", h.ClearWeek)
	g.POST("/weeks/restore", h.RestoreWeek)

	g.GET("/patients", h.ListPatients)
	g.POST("/patients", h.CreatePatient)
	g.GET("/patients/:id", h.GetPatient)
	g.PUT("/patients/:id", h.UpdatePatient)
}

type slotRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
}

func clinician(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// ownedAppointment loads an appointment and hides other clinicians' rows.
func (h *Handler) ownedAppointment(c echo.Context) (*Appointment, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil || a.ClinicianID != clinician(c) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return a, nil
}

func (h *Handler) ownedPatient(c echo.Context) (*Patient, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil || p.ClinicianID != clinician(c) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return p, nil
}

// -- Appointment Handlers --

func (h *Handler) ListAppointments(c echo.Context) error {
	from, to := c.QueryParam("from"), c.QueryParam("to")
	if d := c.QueryParam("date"); d != "" {
		from, to = d, d
	}
	items, err := h.svc.ListAppointments(c.Request().Context(), clinician(c), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = uuid.Nil
	a.ClinicianID = clinician(c)
	if _, err := h.ownedPatientID(c, a.PatientID); err != nil {
		return err
	}
	if err := h.svc.CreateAppointment(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ownedPatientID(c echo.Context, id uuid.UUID) (*Patient, error) {
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil || p.ClinicianID != clinician(c) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unknown patient_id")
	}
	return p, nil
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.ownedAppointment(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	existing, err := h.ownedAppointment(c)
	if err != nil {
		return err
	}
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.ID = existing.ID
	if a.PatientID != existing.PatientID {
		if _, err := h.ownedPatientID(c, a.PatientID); err != nil {
			return err
		}
	}
	if err := h.svc.UpdateAppointment(c.Request().Context(), &a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	a, err := h.ownedAppointment(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAppointment(c.Request().Context(), a.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MoveAppointment(c echo.Context) error {
	a, err := h.ownedAppointment(c)
	if err != nil {
		return err
	}
	var req slotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.MoveAppointment(c.Request().Context(), a.ID, req.Date, req.StartTime); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.respondAppointment(c, a.ID, http.StatusOK)
}

func (h *Handler) ResizeAppointment(c echo.Context) error {
	a, err := h.ownedAppointment(c)
	if err != nil {
		return err
	}
	var req slotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.StartTime == "" {
		req.StartTime = a.StartTime
	}
	if err := h.svc.ResizeAppointment(c.Request().Context(), a.ID, req.StartTime, req.Duration); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return h.respondAppointment(c, a.ID, http.StatusOK)
}

func (h *Handler) CopyAppointment(c echo.Context) error {
	a, err := h.ownedAppointment(c)
	if err != nil {
		return err
	}
	var req slotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cp, err := h.svc.CopyAppointment(c.Request().Context(), a.ID, req.Date, req.StartTime)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, cp)
}

func (h *Handler) respondAppointment(c echo.Context, id uuid.UUID, status int) error {
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	return c.JSON(status, a)
}

// -- Week Handlers --

func (h *Handler) ClearWeek(c echo.Context) error {
	res, err := h.svc.ClearWeek(c.Request().Context(), clinician(c), c.Param("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RestoreWeek(c echo.Context) error {
	res, err := h.svc.RestoreWeek(c.Request().Context(), clinician(c))
	if errors.Is(err, ErrNoSnapshot) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// -- Patient Handlers --

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), clinician(c), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Path()))
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = uuid.Nil
	p.ClinicianID = clinician(c)
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.ownedPatient(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	existing, err := h.ownedPatient(c)
	if err != nil {
		return err
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = existing.ID
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}
