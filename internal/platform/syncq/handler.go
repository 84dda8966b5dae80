package syncq

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/homevisit/visitgrid/internal/platform/auth"
)

// Handler exposes the outbox over HTTP.
type Handler struct {
	syncer *Syncer
}

func NewHandler(s *Syncer) *Handler {
	return &Handler{syncer: s}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/sync", auth.RequireRole(auth.RoleClinician, auth.RoleScheduler))
	g.GET("/outbox", h.ListOutbox)
	g.POST("/outbox/:id/retry", h.RetryEntry)
	g.POST("/trigger", h.Trigger)
}

func (h *Handler) ListOutbox(c echo.Context) error {
	status := c.QueryParam("status")
	switch status {
	case "", StatusPending, StatusFailed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be pending or failed")
	}
	entries, err := h.syncer.Entries(c.Request().Context(), status)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": entries, "total": len(entries)})
}

func (h *Handler) RetryEntry(c echo.Context) error {
	e, err := h.syncer.Retry(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Trigger(c echo.Context) error {
	h.syncer.RequestSync()
	return c.NoContent(http.StatusAccepted)
}
