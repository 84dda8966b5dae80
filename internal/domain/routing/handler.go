package routing

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/homevisit/visitgrid/internal/domain/visit"
	"github.com/homevisit/visitgrid/internal/platform/auth"
)

type Handler struct {
	tracker  *LegTracker
	arranger *Arranger
}

func NewHandler(tracker *LegTracker, arranger *Arranger) *Handler {
	return &Handler{tracker: tracker, arranger: arranger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/routing", auth.RequireRole(auth.RoleClinician, auth.RoleScheduler))
	g.GET("/legs", h.GetLegs)
	g.POST("/legs/refresh", h.RefreshLegs)
	g.POST("/arrange", h.Arrange)
}

type arrangeRequest struct {
	Date   string `json:"date"`
	DryRun bool   `json:"dry_run"`
}

func requireDate(d string) error {
	if d == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	if _, err := time.Parse(visit.DateLayout, d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date: expected YYYY-MM-DD")
	}
	return nil
}

func (h *Handler) GetLegs(c echo.Context) error {
	date := c.QueryParam("date")
	if err := requireDate(date); err != nil {
		return err
	}
	legs, err := h.tracker.Legs(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), date)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, legs)
}

func (h *Handler) RefreshLegs(c echo.Context) error {
	date := c.QueryParam("date")
	if err := requireDate(date); err != nil {
		return err
	}
	ctx := c.Request().Context()
	clinicianID := auth.UserIDFromContext(ctx)
	applied, err := h.tracker.Refresh(ctx, clinicianID, date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	legs, err := h.tracker.Legs(ctx, clinicianID, date)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"refreshed": applied, "legs": legs})
}

func (h *Handler) Arrange(c echo.Context) error {
	var req arrangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := requireDate(req.Date); err != nil {
		return err
	}
	ctx := c.Request().Context()
	clinicianID := auth.UserIDFromContext(ctx)

	var (
		res *ArrangeResult
		err error
	)
	if req.DryRun {
		res, err = h.arranger.Plan(ctx, clinicianID, req.Date)
	} else {
		res, err = h.arranger.ArrangeDay(ctx, clinicianID, req.Date)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
