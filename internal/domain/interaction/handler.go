package interaction

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/homevisit/visitgrid/internal/platform/auth"
)

// Handler exposes boards over HTTP for clients that keep no gesture state
// of their own.
type Handler struct {
	boards *Registry
}

func NewHandler(boards *Registry) *Handler {
	return &Handler{boards: boards}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/boards", auth.RequireRole(auth.RoleClinician, auth.RoleScheduler))
	g.POST("", h.OpenBoard)
	g.GET("/:id", h.GetBoard)
	g.DELETE("/:id", h.CloseBoard)
	g.POST("/:id/events", h.Dispatch)
}

type openRequest struct {
	WeekStart string `json:"week_start"`
}

func (h *Handler) OpenBoard(c echo.Context) error {
	var req openRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	b, err := h.boards.Open(ctx, auth.UserIDFromContext(ctx), req.WeekStart)
	if errors.Is(err, ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, b.View())
}

// ownedBoard loads the board named by :id, refreshing it if the store has
// changed underneath. Other clinicians' boards are reported as missing.
func (h *Handler) ownedBoard(c echo.Context) (*Board, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid board id")
	}
	ctx := c.Request().Context()
	b, ok := h.boards.Get(id)
	if !ok || b.ClinicianID != auth.UserIDFromContext(ctx) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "board not found")
	}
	if b.Stale() && b.State() == StateIdle {
		if err := b.Refresh(ctx); err != nil {
			return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return b, nil
}

func (h *Handler) GetBoard(c echo.Context) error {
	b, err := h.ownedBoard(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b.View())
}

func (h *Handler) CloseBoard(c echo.Context) error {
	b, err := h.ownedBoard(c)
	if err != nil {
		return err
	}
	h.boards.Close(b.ID)
	return c.NoContent(http.StatusNoContent)
}

type dispatchResponse struct {
	Result Result `json:"result"`
	Error  string `json:"error,omitempty"`
	View   View   `json:"view"`
}

// Dispatch applies one input. Store failures are not HTTP errors: the
// gesture still completed locally, so the view is returned with the error
// alongside its notice.
func (h *Handler) Dispatch(c echo.Context) error {
	b, err := h.ownedBoard(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := b.Dispatch(c.Request().Context(), in)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrOffBoard):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnknownAppointment):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoSession):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	resp := dispatchResponse{Result: res, View: b.View()}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}
