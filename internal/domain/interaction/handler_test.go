package interaction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/homevisit/visitgrid/internal/domain/visit"
	"github.com/homevisit/visitgrid/internal/platform/auth"
)

func newHandlerContext(method, target, body, userID string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(auth.WithUser(req.Context(), userID, []string{auth.RoleClinician}))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func newTestHandler(t *testing.T) (*Handler, *visit.Appointment) {
	t.Helper()
	svc := visit.NewService(visit.NewMemoryAppointmentRepo(), visit.NewMemoryPatientRepo())
	a := &visit.Appointment{ClinicianID: testClinician, PatientID: uuid.New(), Date: weekStart, StartTime: "09:00", Duration: 45}
	if err := svc.CreateAppointment(context.Background(), a); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return NewHandler(NewRegistry(svc, WithGrid(testGrid), WithClock(newFakeClock()))), a
}

func openBoard(t *testing.T, h *Handler) View {
	t.Helper()
	c, rec := newHandlerContext(http.MethodPost, "/boards", `{"week_start":"`+weekStart+`"}`, testClinician)
	if err := h.OpenBoard(c); err != nil {
		t.Fatalf("open board: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var v View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func dispatch(h *Handler, boardID uuid.UUID, userID, body string) (*httptest.ResponseRecorder, error) {
	c, rec := newHandlerContext(http.MethodPost, "/boards/"+boardID.String()+"/events", body, userID)
	c.SetParamNames("id")
	c.SetParamValues(boardID.String())
	return rec, h.Dispatch(c)
}

func TestHandler_OpenBoard(t *testing.T) {
	h, a := newTestHandler(t)
	v := openBoard(t, h)
	if v.State != StateIdle || len(v.Dates) != 7 {
		t.Errorf("unexpected view: %+v", v)
	}
	if len(v.Appointments) != 1 || v.Appointments[0].ID != a.ID {
		t.Errorf("expected the week's appointment, got %+v", v.Appointments)
	}

	c, _ := newHandlerContext(http.MethodPost, "/boards", `{"week_start":"next week"}`, testClinician)
	expectHTTPStatus(t, h.OpenBoard(c), http.StatusBadRequest)
}

func TestHandler_DragAndDrop(t *testing.T) {
	h, a := newTestHandler(t)
	v := openBoard(t, h)

	if _, err := dispatch(h, v.BoardID, testClinician, `{"type":"drag.begin","appointment_id":"`+a.ID.String()+`"}`); err != nil {
		t.Fatalf("drag.begin: %v", err)
	}
	body := `{"type":"drag.drop","date":"` + day2 + `","y":` + jsonFloat(yFor("11:00")) + `,"zoom":1}`
	rec, err := dispatch(h, v.BoardID, testClinician, body)
	if err != nil {
		t.Fatalf("drag.drop: %v", err)
	}
	var resp dispatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Result.Mutated || resp.Error != "" {
		t.Fatalf("expected mutation, got %+v", resp)
	}
	if resp.View.State != StateIdle || resp.View.Appointments[0].StartTime != "11:00" {
		t.Errorf("unexpected view after drop: %+v", resp.View)
	}
}

func TestHandler_DispatchErrors(t *testing.T) {
	h, _ := newTestHandler(t)
	v := openBoard(t, h)

	_, err := dispatch(h, v.BoardID, testClinician, `{"type":"resize.end"}`)
	expectHTTPStatus(t, err, http.StatusConflict)

	_, err = dispatch(h, v.BoardID, testClinician, `{"type":"drag.begin","appointment_id":"`+uuid.NewString()+`"}`)
	expectHTTPStatus(t, err, http.StatusNotFound)

	_, err = dispatch(h, v.BoardID, testClinician, `{"type":"shake"}`)
	expectHTTPStatus(t, err, http.StatusBadRequest)

	_, err = dispatch(h, v.BoardID, "clin-2", `{"type":"cancel"}`)
	expectHTTPStatus(t, err, http.StatusNotFound)

	_, err = dispatch(h, uuid.New(), testClinician, `{"type":"cancel"}`)
	expectHTTPStatus(t, err, http.StatusNotFound)
}

func TestHandler_CloseBoard(t *testing.T) {
	h, _ := newTestHandler(t)
	v := openBoard(t, h)

	c, rec := newHandlerContext(http.MethodDelete, "/boards/"+v.BoardID.String(), "", testClinician)
	c.SetParamNames("id")
	c.SetParamValues(v.BoardID.String())
	if err := h.CloseBoard(c); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if h.boards.Len() != 0 {
		t.Errorf("expected no open boards, got %d", h.boards.Len())
	}
}

func jsonFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
