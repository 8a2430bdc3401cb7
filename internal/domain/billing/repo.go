package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReportRepository persists billing reports. Lookups of a missing report
// return an apperr NotFound error; a stale VersionID on Update returns a
// Concurrency error.
type ReportRepository interface {
	Create(ctx context.Context, r *BillingReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*BillingReport, error)
	// GetForUpdate locks the row for the rest of the enclosing transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*BillingReport, error)
	// Update writes r if its VersionID matches the stored one and bumps it.
	Update(ctx context.Context, r *BillingReport) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*BillingReport, error)
	ListByLink(ctx context.Context, linkID uuid.UUID) ([]*BillingReport, error)
	CountChildren(ctx context.Context, parentID uuid.UUID) (int, error)
	Search(ctx context.Context, f ReportFilter, limit, offset int) ([]*BillingReport, int, error)
	// ListOverdueCandidates returns completed or partially paid reports
	// with a pending balance whose due date is before asOf.
	ListOverdueCandidates(ctx context.Context, asOf time.Time, limit int) ([]*BillingReport, error)
}

// SequenceAllocator hands out per-appointment report sequence numbers.
// Allocation joins the caller's transaction, so a rolled back create frees
// its number.
type SequenceAllocator interface {
	NextReportSequence(ctx context.Context, appointmentID uuid.UUID) (int, error)
}

// InvoiceNumberAllocator hands out unique invoice numbers.
type InvoiceNumberAllocator interface {
	NextInvoiceNumber(ctx context.Context, at time.Time) (string, error)
}

// UnitOfWork runs fn so that all of its writes commit or none do.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AppointmentLookup resolves the appointment a report bills.
type AppointmentLookup interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
}
