package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentBooked    AppointmentStatus = "booked"
	AppointmentArrived   AppointmentStatus = "arrived"
	AppointmentFulfilled AppointmentStatus = "fulfilled"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentNoShow    AppointmentStatus = "noshow"
)

// Appointment is a scheduled visit of a patient with a doctor.
type Appointment struct {
	ID        uuid.UUID         `json:"id"`
	PatientID uuid.UUID         `json:"patient_id" validate:"required"`
	DoctorID  *uuid.UUID        `json:"doctor_id,omitempty"`
	Status    AppointmentStatus `json:"status" validate:"omitempty,oneof=booked arrived fulfilled cancelled noshow"`
	StartTime *time.Time        `json:"start_time,omitempty"`
	EndTime   *time.Time        `json:"end_time,omitempty"`
	Reason    *string           `json:"reason,omitempty" validate:"omitempty,max=500"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
