package scheduling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/db"
)

type mockApptRepo struct {
	store map[uuid.UUID]*Appointment
	gets  int
}

func newMockApptRepo() *mockApptRepo {
	return &mockApptRepo{store: make(map[uuid.UUID]*Appointment)}
}

func (m *mockApptRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.store[a.ID] = a
	return nil
}

func (m *mockApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.gets++
	a, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFoundf("appointment %s not found", id)
	}
	return a, nil
}

func (m *mockApptRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range m.store {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func TestCreateAppointment(t *testing.T) {
	svc := NewService(newMockApptRepo())
	a := &Appointment{PatientID: uuid.New()}
	if err := svc.CreateAppointment(context.Background(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == uuid.Nil || a.Status != AppointmentBooked {
		t.Errorf("expected id and booked status, got %+v", a)
	}
}

func TestCreateAppointment_Validation(t *testing.T) {
	svc := NewService(newMockApptRepo())
	start := time.Now()
	end := start.Add(-time.Hour)
	tests := []struct {
		name string
		a    *Appointment
	}{
		{"missing patient", &Appointment{}},
		{"bad status", &Appointment{PatientID: uuid.New(), Status: "lost"}},
		{"ends before start", &Appointment{PatientID: uuid.New(), StartTime: &start, EndTime: &end}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.CreateAppointment(context.Background(), tt.a); !apperr.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestBillingLookup_CachesPerClinic(t *testing.T) {
	repo := newMockApptRepo()
	doctor := uuid.New()
	a := &Appointment{PatientID: uuid.New(), DoctorID: &doctor, Status: AppointmentFulfilled}
	repo.Create(context.Background(), a)
	lookup := NewBillingLookup(repo, time.Minute)

	ctxA := context.WithValue(context.Background(), db.ClinicIDKey, "north")
	ctxB := context.WithValue(context.Background(), db.ClinicIDKey, "south")

	got, err := lookup.GetAppointment(ctxA, a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PatientID != a.PatientID || *got.DoctorID != doctor || got.Status != "fulfilled" {
		t.Errorf("unexpected mapping %+v", got)
	}
	lookup.GetAppointment(ctxA, a.ID)
	if repo.gets != 1 {
		t.Errorf("expected a cache hit, repo called %d times", repo.gets)
	}
	lookup.GetAppointment(ctxB, a.ID)
	if repo.gets != 2 {
		t.Errorf("expected a miss for another clinic, repo called %d times", repo.gets)
	}
	lookup.Forget(ctxA, a.ID)
	lookup.GetAppointment(ctxA, a.ID)
	if repo.gets != 3 {
		t.Errorf("expected a miss after Forget, repo called %d times", repo.gets)
	}
}

func TestBillingLookup_NotFoundIsNotCached(t *testing.T) {
	repo := newMockApptRepo()
	lookup := NewBillingLookup(repo, time.Minute)
	id := uuid.New()
	if _, err := lookup.GetAppointment(context.Background(), id); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	repo.store[id] = &Appointment{ID: id, PatientID: uuid.New()}
	if _, err := lookup.GetAppointment(context.Background(), id); err != nil {
		t.Errorf("expected appointment after it was created, got %v", err)
	}
}

func TestHandler_CreateAndGetAppointment(t *testing.T) {
	h := NewHandler(NewService(newMockApptRepo()))
	e := echo.New()

	body := `{"patient_id":"` + uuid.New().String() + `","reason":"toothache"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.CreateAppointment(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.GetAppointment(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
