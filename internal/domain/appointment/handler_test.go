package appointment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mediconnect/mediconnect/internal/platform/apperr"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/internal/platform/validate"
)

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.Validator = validate.New()
	return e
}

func request(method, target, body string, id auth.Identity) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), id))
}

func TestHandler_Book(t *testing.T) {
	f := newFixture(t, 2)
	h := NewHandler(f.booking, f.queue)
	e := newTestEcho()
	patient := auth.Identity{UserID: uuid.New(), Role: auth.RolePatient}

	body := `{"doctorId":"` + f.doc.ID.String() + `","slotId":"` + sessionID(f.rule, saturday) + `","appointmentType":"PHYSICAL","symptoms":"fever"}`
	rec := httptest.NewRecorder()
	if err := h.Book(e.NewContext(request(http.MethodPost, "/", body, patient), rec)); err != nil {
		t.Fatalf("book: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp struct {
		Success     bool `json:"success"`
		Appointment struct {
			ID          uuid.UUID `json:"id"`
			Date        string    `json:"date"`
			Time        string    `json:"time"`
			Status      Status    `json:"status"`
			QueueNumber int       `json:"queueNumber"`
			PatientID   uuid.UUID `json:"patientId"`
		} `json:"appointment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := resp.Appointment
	if !resp.Success || got.Date != saturday || got.Time != "09:00" || got.Status != StatusConfirmed || got.QueueNumber != 1 {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if got.PatientID != patient.UserID {
		t.Errorf("expected appointment for the caller, got %s", got.PatientID)
	}
}

func TestHandler_BookValidation(t *testing.T) {
	f := newFixture(t, 2)
	h := NewHandler(f.booking, f.queue)
	e := newTestEcho()
	patient := auth.Identity{UserID: uuid.New(), Role: auth.RolePatient}

	for _, body := range []string{
		`{"slotId":"x"}`,
		`{"doctorId":"nope","slotId":"x"}`,
		`{"doctorId":"` + f.doc.ID.String() + `"}`,
		`{"doctorId":`,
	} {
		err := h.Book(e.NewContext(request(http.MethodPost, "/", body, patient), httptest.NewRecorder()))
		if !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("body %s: expected validation error, got %v", body, err)
		}
	}
}

func TestHandler_CallNextAndQueue(t *testing.T) {
	f := newFixture(t, 2)
	a := f.book(t, uuid.New(), f.rule, saturday)
	h := NewHandler(f.booking, f.queue)
	e := newTestEcho()

	rec := httptest.NewRecorder()
	if err := h.CallNext(e.NewContext(request(http.MethodPost, "/", `{"date":"`+saturday+`"}`, f.docCaller), rec)); err != nil {
		t.Fatalf("call next: %v", err)
	}
	if !strings.Contains(rec.Body.String(), a.ID.String()) || !strings.Contains(rec.Body.String(), `"IN_PROGRESS"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	body := `{"date":"` + saturday + `","currentAppointmentId":"` + a.ID.String() + `"}`
	if err := h.CallNext(e.NewContext(request(http.MethodPost, "/", body, f.docCaller), rec)); err != nil {
		t.Fatalf("call next: %v", err)
	}
	var empty struct {
		Success   bool   `json:"success"`
		Completed bool   `json:"completed"`
		Message   string `json:"message"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &empty)
	if !empty.Success || !empty.Completed || empty.Message != "queue empty" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(request(http.MethodGet, "/?date="+saturday, "", f.docCaller), rec)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doc.ID.String())
	if err := h.Queue(c); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"count":0`) || !strings.Contains(rec.Body.String(), `"completed":1`) {
		t.Errorf("unexpected queue body %s", rec.Body.String())
	}
}

func TestHandler_CallNextValidation(t *testing.T) {
	f := newFixture(t, 2)
	h := NewHandler(f.booking, f.queue)
	e := newTestEcho()
	for _, body := range []string{`{"doctorId":"x"}`, `{"date":"tomorrow"}`, `{"currentAppointmentId":"1"}`} {
		err := h.CallNext(e.NewContext(request(http.MethodPost, "/", body, f.docCaller), httptest.NewRecorder()))
		if !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("body %s: expected validation error, got %v", body, err)
		}
	}
}

func TestHandler_StartCompleteCancel(t *testing.T) {
	f := newFixture(t, 3)
	a := f.book(t, uuid.New(), f.rule, saturday)
	b := f.book(t, uuid.New(), f.rule, saturday)
	h := NewHandler(f.booking, f.queue)
	e := newTestEcho()

	run := func(fn echo.HandlerFunc, param string, id uuid.UUID, who auth.Identity) (*httptest.ResponseRecorder, error) {
		rec := httptest.NewRecorder()
		c := e.NewContext(request(http.MethodPut, "/", "", who), rec)
		c.SetParamNames(param)
		c.SetParamValues(id.String())
		return rec, fn(c)
	}

	if rec, err := run(h.Start, "appointmentId", a.ID, f.docCaller); err != nil || !strings.Contains(rec.Body.String(), "IN_PROGRESS") {
		t.Errorf("start: %v %s", err, rec.Body.String())
	}
	if rec, err := run(h.Complete, "appointmentId", a.ID, f.docCaller); err != nil || !strings.Contains(rec.Body.String(), "COMPLETED") {
		t.Errorf("complete: %v %s", err, rec.Body.String())
	}

	owner := auth.Identity{UserID: b.PatientID, Role: auth.RolePatient}
	if rec, err := run(h.Cancel, "id", b.ID, owner); err != nil || !strings.Contains(rec.Body.String(), "CANCELLED") {
		t.Errorf("cancel: %v %s", err, rec.Body.String())
	}
	if rec, err := run(h.Get, "id", b.ID, owner); err != nil || !strings.Contains(rec.Body.String(), b.ID.String()) {
		t.Errorf("get: %v %s", err, rec.Body.String())
	}

	c := e.NewContext(request(http.MethodPut, "/", "", owner), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.Cancel(c); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_ListMine(t *testing.T) {
	f := newFixture(t, 3)
	patient := uuid.New()
	f.book(t, patient, f.rule, saturday)
	h := NewHandler(f.booking, f.queue)
	e := newTestEcho()

	rec := httptest.NewRecorder()
	id := auth.Identity{UserID: patient, Role: auth.RolePatient}
	if err := h.ListMine(e.NewContext(request(http.MethodGet, "/?status=CONFIRMED", "", id), rec)); err != nil {
		t.Fatalf("list: %v", err)
	}
	var body struct {
		Data  []Appointment `json:"data"`
		Total int           `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 || len(body.Data) != 1 {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_SheetAndReset(t *testing.T) {
	f := newFixture(t, 3)
	f.book(t, uuid.New(), f.rule, saturday)
	h := NewHandler(f.booking, f.queue)
	e := newTestEcho()

	rec := httptest.NewRecorder()
	c := e.NewContext(request(http.MethodGet, "/?date="+saturday, "", f.docCaller), rec)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doc.ID.String())
	if err := h.Sheet(c); err != nil {
		t.Fatalf("sheet: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(request(http.MethodPost, "/", `{"date":"`+saturday+`"}`, f.docCaller), rec)
	c.SetParamNames("doctorId")
	c.SetParamValues(f.doc.ID.String())
	if err := h.Reset(c); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "queue renumbered") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_RoutesGuarded(t *testing.T) {
	f := newFixture(t, 2)
	e := newTestEcho()
	NewHandler(f.booking, f.queue).RegisterRoutes(e.Group("/api/v1"))

	tests := []struct {
		method, path string
		id           *auth.Identity
		want         int
	}{
		{http.MethodPost, "/api/v1/appointments", nil, http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/queue/next", &auth.Identity{UserID: uuid.New(), Role: auth.RolePatient}, http.StatusForbidden},
		{http.MethodGet, "/api/v1/queue/doctor/" + f.doc.ID.String() + "/today", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		if tt.id != nil {
			req = req.WithContext(auth.WithIdentity(req.Context(), *tt.id))
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, rec.Code)
		}
	}
}
