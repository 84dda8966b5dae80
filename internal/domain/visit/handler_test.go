package visit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

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

func TestHandler_CreateAppointment(t *testing.T) {
	svc, p := newTestService(t)
	h := NewHandler(svc)

	body := `{"patient_id":"` + p.ID.String() + `","date":"2024-03-04","start_time":"09:00","duration":30}`
	c, rec := newHandlerContext(http.MethodPost, "/appointments", body, p.ClinicianID)
	if err := h.CreateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ClinicianID != p.ClinicianID || got.Status != "scheduled" {
		t.Errorf("unexpected appointment: %+v", got)
	}
}

func TestHandler_CreateAppointment_ForeignPatient(t *testing.T) {
	svc, p := newTestService(t)
	h := NewHandler(svc)

	body := `{"patient_id":"` + p.ID.String() + `","date":"2024-03-04","start_time":"09:00","duration":30}`
	c, _ := newHandlerContext(http.MethodPost, "/appointments", body, "someone-else")
	expectHTTPStatus(t, h.CreateAppointment(c), http.StatusBadRequest)
}

func TestHandler_GetAppointment_HidesOtherClinicians(t *testing.T) {
	svc, p := newTestService(t)
	a := mustCreate(t, svc, p, "2024-03-04", "09:00", 30)
	h := NewHandler(svc)

	c, _ := newHandlerContext(http.MethodGet, "/", "", "someone-else")
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	expectHTTPStatus(t, h.GetAppointment(c), http.StatusNotFound)

	c, rec := newHandlerContext(http.MethodGet, "/", "", p.ClinicianID)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.GetAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetAppointment_BadID(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc)
	c, _ := newHandlerContext(http.MethodGet, "/", "", "clin-1")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPStatus(t, h.GetAppointment(c), http.StatusBadRequest)
}

func TestHandler_ListAppointments_ByDate(t *testing.T) {
	svc, p := newTestService(t)
	mustCreate(t, svc, p, "2024-03-04", "09:00", 30)
	mustCreate(t, svc, p, "2024-03-05", "09:00", 30)
	h := NewHandler(svc)

	c, rec := newHandlerContext(http.MethodGet, "/appointments?date=2024-03-04", "", p.ClinicianID)
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Appointment `json:"data"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 {
		t.Errorf("expected 1 appointment, got %d", body.Total)
	}
}

func TestHandler_ListAppointments_MissingRange(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc)
	c, _ := newHandlerContext(http.MethodGet, "/appointments", "", "clin-1")
	expectHTTPStatus(t, h.ListAppointments(c), http.StatusBadRequest)
}

func TestHandler_MoveAppointment(t *testing.T) {
	svc, p := newTestService(t)
	a := mustCreate(t, svc, p, "2024-03-04", "09:00", 30)
	h := NewHandler(svc)

	c, rec := newHandlerContext(http.MethodPost, "/", `{"date":"2024-03-06","start_time":"14:15"}`, p.ClinicianID)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.MoveAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Date != "2024-03-06" || got.StartTime != "14:15" {
		t.Errorf("expected moved appointment, got %s %s", got.Date, got.StartTime)
	}
}

func TestHandler_ResizeAppointment_DefaultsStart(t *testing.T) {
	svc, p := newTestService(t)
	a := mustCreate(t, svc, p, "2024-03-04", "09:00", 30)
	h := NewHandler(svc)

	c, rec := newHandlerContext(http.MethodPost, "/", `{"duration":75}`, p.ClinicianID)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.ResizeAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.StartTime != "09:00" || got.Duration != 75 {
		t.Errorf("expected 09:00/75, got %s/%d", got.StartTime, got.Duration)
	}
}

func TestHandler_CopyAppointment(t *testing.T) {
	svc, p := newTestService(t)
	a := mustCreate(t, svc, p, "2024-03-04", "09:00", 30)
	h := NewHandler(svc)

	c, rec := newHandlerContext(http.MethodPost, "/", `{"date":"2024-03-04","start_time":"15:00"}`, p.ClinicianID)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.CopyAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	day, _ := svc.ListDay(context.Background(), p.ClinicianID, "2024-03-04")
	if len(day) != 2 {
		t.Errorf("expected 2 appointments after copy, got %d", len(day))
	}
}

func TestHandler_DeleteAppointment(t *testing.T) {
	svc, p := newTestService(t)
	a := mustCreate(t, svc, p, "2024-03-04", "09:00", 30)
	h := NewHandler(svc)

	c, rec := newHandlerContext(http.MethodDelete, "/", "", p.ClinicianID)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.DeleteAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ClearAndRestoreWeek(t *testing.T) {
	svc, p := newTestService(t)
	mustCreate(t, svc, p, "2024-03-04", "09:00", 30)
	h := NewHandler(svc)

	c, _ := newHandlerContext(http.MethodPost, "/weeks/restore", "", p.ClinicianID)
	expectHTTPStatus(t, h.RestoreWeek(c), http.StatusConflict)

	c, rec := newHandlerContext(http.MethodPost, "/", "", p.ClinicianID)
	c.SetParamNames("start")
	c.SetParamValues("2024-03-04")
	if err := h.ClearWeek(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res BatchResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Summary != "cleared 1 of 1" {
		t.Errorf("unexpected summary %q", res.Summary)
	}

	c, rec = newHandlerContext(http.MethodPost, "/weeks/restore", "", p.ClinicianID)
	if err := h.RestoreWeek(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_ListPatients_Paginated(t *testing.T) {
	svc, p := newTestService(t)
	for _, n := range []string{"Bea", "Cal", "Dee"} {
		if err := svc.CreatePatient(context.Background(), &Patient{ClinicianID: p.ClinicianID, Name: n}); err != nil {
			t.Fatal(err)
		}
	}
	h := NewHandler(svc)

	c, rec := newHandlerContext(http.MethodGet, "/patients?limit=2&offset=0", "", p.ClinicianID)
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Patient `json:"data"`
		Total int       `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 4 || len(body.Data) != 2 {
		t.Errorf("expected 2 of 4 patients, got %d of %d", len(body.Data), body.Total)
	}
	if body.Data[0].Name != "Ada Lovelace" {
		t.Errorf("expected name order, got %s first", body.Data[0].Name)
	}
}

func TestHandler_UpdatePatient_Foreign(t *testing.T) {
	svc, p := newTestService(t)
	h := NewHandler(svc)

	c, _ := newHandlerContext(http.MethodPut, "/", `{"name":"Mallory"}`, "someone-else")
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	expectHTTPStatus(t, h.UpdatePatient(c), http.StatusNotFound)
}
