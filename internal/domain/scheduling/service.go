package scheduling

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/domain/billing"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/db"
)

var validate = validator.New()

type Service struct {
	appts AppointmentRepository
}

func NewService(appts AppointmentRepository) *Service {
	return &Service{appts: appts}
}

func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.Status == "" {
		a.Status = AppointmentBooked
	}
	if err := validate.Struct(a); err != nil {
		return apperr.Validationf("invalid appointment: %v", err)
	}
	if a.PatientID == uuid.Nil {
		return apperr.Validationf("patient_id is required")
	}
	if a.StartTime != nil && a.EndTime != nil && a.EndTime.Before(*a.StartTime) {
		return apperr.Validationf("end_time must not be before start_time")
	}
	return s.appts.Create(ctx, a)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appts.GetByID(ctx, id)
}

func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appts.ListByPatient(ctx, patientID, limit, offset)
}

// BillingLookup resolves appointments for the billing engine, caching hits
// per clinic for ttl.
type BillingLookup struct {
	appts AppointmentRepository
	cache *cache.Cache
}

func NewBillingLookup(appts AppointmentRepository, ttl time.Duration) *BillingLookup {
	return &BillingLookup{appts: appts, cache: cache.New(ttl, 2*ttl)}
}

func (l *BillingLookup) GetAppointment(ctx context.Context, id uuid.UUID) (*billing.Appointment, error) {
	key := db.ClinicFromContext(ctx) + ":" + id.String()
	if v, ok := l.cache.Get(key); ok {
		return v.(*billing.Appointment), nil
	}
	a, err := l.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &billing.Appointment{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		StartTime: a.StartTime,
		Status:    string(a.Status),
	}
	l.cache.SetDefault(key, out)
	return out, nil
}

// Forget drops a cached appointment, e.g. after it was reassigned.
func (l *BillingLookup) Forget(ctx context.Context, id uuid.UUID) {
	l.cache.Delete(db.ClinicFromContext(ctx) + ":" + id.String())
}
