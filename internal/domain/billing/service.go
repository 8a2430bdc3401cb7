package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/clock"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/retry"
)

// Settings are the clinic-wide billing parameters.
type Settings struct {
	TaxRate               decimal.Decimal
	PaymentTermDays       int
	QuickPayHalfThreshold decimal.Decimal
	QuickPayIncrement     decimal.Decimal
	Retry                 retry.Policy
}

func DefaultSettings() Settings {
	return Settings{
		TaxRate:               decimal.RequireFromString("0.16"),
		PaymentTermDays:       30,
		QuickPayHalfThreshold: decimal.NewFromInt(200),
		QuickPayIncrement:     decimal.NewFromInt(500),
		Retry:                 retry.DefaultPolicy(),
	}
}

// Deps are the collaborators a Service needs.
type Deps struct {
	Reports      ReportRepository
	Sequences    SequenceAllocator
	Invoices     InvoiceNumberAllocator
	UnitOfWork   UnitOfWork
	Appointments AppointmentLookup
	Clock        clock.Clock
}

// Service is the billing report engine. Every mutating operation runs in a
// single transaction and is retried on Concurrency or Persistence errors.
type Service struct {
	reports      ReportRepository
	sequences    SequenceAllocator
	invoices     InvoiceNumberAllocator
	uow          UnitOfWork
	appointments AppointmentLookup
	clock        clock.Clock
	settings     Settings
	log          zerolog.Logger
}

func NewService(d Deps, settings Settings, logger zerolog.Logger) *Service {
	clk := d.Clock
	if clk == nil {
		clk = clock.System()
	}
	if settings.Retry.MaxAttempts <= 0 {
		settings.Retry = retry.DefaultPolicy()
	}
	return &Service{
		reports:      d.Reports,
		sequences:    d.Sequences,
		invoices:     d.Invoices,
		uow:          d.UnitOfWork,
		appointments: d.Appointments,
		clock:        clk,
		settings:     settings,
		log:          logger.With().Str("component", "billing").Logger(),
	}
}

func (s *Service) Settings() Settings { return s.settings }

// atomically runs fn in one transaction under the retry policy.
func (s *Service) atomically(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.settings.Retry, s.log, op, func(ctx context.Context) error {
		return s.uow.WithinTx(ctx, fn)
	})
}

// mutate locks a report, applies fn and persists the result. Any error from
// fn discards the in-memory changes.
func (s *Service) mutate(ctx context.Context, op string, id uuid.UUID, actor string,
	fn func(ctx context.Context, r *BillingReport, now time.Time) error) (*BillingReport, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	var out *BillingReport
	err := s.atomically(ctx, op, func(ctx context.Context) error {
		r, err := s.reports.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := fn(ctx, r, now); err != nil {
			return err
		}
		r.UpdatedAt = now
		r.LastModifiedBy = actor
		if err := s.reports.Update(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("op", op).Str("report_id", id.String()).Str("actor", actor).
		Str("status", string(out.Status)).Msg("billing report updated")
	return out, nil
}

func freshServices(in []BillingService) []BillingService {
	out := make([]BillingService, len(in))
	for i, svc := range in {
		svc = svc.clone()
		svc.ID = uuid.NewString()
		out[i] = svc
	}
	return out
}

// CreateReport opens a new draft report for an appointment. Initial services
// are appended after any services copied from the parent report.
func (s *Service) CreateReport(ctx context.Context, appointmentID uuid.UUID, createdBy string,
	opts CreateReportOptions, initial []BillingService) (*BillingReport, error) {
	if err := requireActor(createdBy); err != nil {
		return nil, err
	}
	if opts.ReportType == "" {
		opts.ReportType = ReportCompleteVisit
	}
	if !opts.ReportType.Valid() {
		return nil, apperr.Validationf("unknown report type %q", opts.ReportType)
	}
	if err := validateStruct(opts); err != nil {
		return nil, err
	}
	if err := validateServices(initial); err != nil {
		return nil, err
	}
	if opts.IncludePreviousServices && opts.ParentReportID == nil {
		return nil, apperr.Validationf("include_previous_services requires a parent report")
	}

	appt, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	var created *BillingReport
	err = s.atomically(ctx, "create report", func(ctx context.Context) error {
		var services []BillingService
		if opts.ParentReportID != nil {
			parent, err := s.reports.GetByID(ctx, *opts.ParentReportID)
			if err != nil {
				return err
			}
			if parent.IsDeleted {
				return apperr.InvalidStatef("parent report %s is deleted", parent.ID)
			}
			if opts.IncludePreviousServices {
				services = append(services, freshServices(parent.Services)...)
			}
		}
		services = append(services, freshServices(initial)...)

		seq, err := s.sequences.NextReportSequence(ctx, appointmentID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		title := opts.ReportTitle
		if title == "" {
			title = fmt.Sprintf("Billing report %d", seq)
		}
		r := &BillingReport{
			ID:                uuid.New(),
			AppointmentID:     appt.ID,
			PatientID:         appt.PatientID,
			DoctorID:          clonePtr(appt.DoctorID),
			ReportType:        opts.ReportType,
			ReportTitle:       title,
			ReportDescription: opts.ReportDescription,
			IsPartialReport:   opts.IsPartialReport,
			ReportSequence:    seq,
			ParentReportID:    opts.ParentReportID,
			Discount:          opts.Discount,
			Services:          services,
			Payments:          []BillingPayment{},
			Status:            StatusDraft,
			DueDate:           opts.DueDate,
			CreatedAt:         now,
			UpdatedAt:         now,
			CreatedBy:         createdBy,
			VersionID:         1,
		}
		if err := recalculate(r, s.settings.TaxRate); err != nil {
			return err
		}
		details := opts.Notes
		if details == "" {
			details = fmt.Sprintf("report %d created", seq)
		}
		r.StatusHistory = []BillingStatusHistory{{
			Action:      ActionCreated,
			NewStatus:   StatusDraft,
			PerformedBy: createdBy,
			PerformedAt: now,
			Details:     details,
		}}
		r.LastModifiedBy = createdBy
		if err := s.reports.Create(ctx, r); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("report_id", created.ID.String()).Str("appointment_id", appointmentID.String()).
		Int("sequence", created.ReportSequence).Str("actor", createdBy).Msg("billing report created")
	return created, nil
}

// UpdateServices replaces the service lines of a draft report.
func (s *Service) UpdateServices(ctx context.Context, id uuid.UUID, services []BillingService, updatedBy string) (*BillingReport, error) {
	if err := validateServices(services); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "update services", id, updatedBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if err := requireStatus(r, "edit services of", StatusDraft); err != nil {
			return err
		}
		next := make([]BillingService, len(services))
		for i, svc := range services {
			svc = svc.clone()
			if svc.ID == "" {
				svc.ID = uuid.NewString()
			}
			next[i] = svc
		}
		r.Services = next
		if err := recalculate(r, s.settings.TaxRate); err != nil {
			return err
		}
		record(r, nil, now, historyEntry{
			action:  ActionServicesUpdated,
			actor:   updatedBy,
			details: fmt.Sprintf("%d service lines, total %s", len(next), r.Total.StringFixed(moneyPlaces)),
		})
		return nil
	})
}

// UpdateDiscount sets the flat discount of a draft report.
func (s *Service) UpdateDiscount(ctx context.Context, id uuid.UUID, discount decimal.Decimal, updatedBy string) (*BillingReport, error) {
	if discount.IsNegative() {
		return nil, apperr.Validationf("discount must not be negative")
	}
	return s.mutate(ctx, "update discount", id, updatedBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if err := requireStatus(r, "change discount of", StatusDraft); err != nil {
			return err
		}
		r.Discount = discount
		if err := recalculate(r, s.settings.TaxRate); err != nil {
			return err
		}
		d := r.Discount
		record(r, nil, now, historyEntry{action: ActionDiscountUpdated, actor: updatedBy, amount: &d})
		return nil
	})
}

// UpdateDetails edits the descriptive fields of a draft report.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, d ReportDetails, updatedBy string) (*BillingReport, error) {
	if d.ReportType != nil && !d.ReportType.Valid() {
		return nil, apperr.Validationf("unknown report type %q", *d.ReportType)
	}
	if err := validateStruct(d); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "update details", id, updatedBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if err := requireStatus(r, "edit details of", StatusDraft); err != nil {
			return err
		}
		if d.ReportTitle != nil {
			r.ReportTitle = *d.ReportTitle
		}
		if d.ReportDescription != nil {
			r.ReportDescription = clonePtr(d.ReportDescription)
		}
		if d.ReportType != nil {
			r.ReportType = *d.ReportType
		}
		if d.DueDate != nil {
			r.DueDate = clonePtr(d.DueDate)
		}
		record(r, nil, now, historyEntry{action: ActionDetailsUpdated, actor: updatedBy})
		return nil
	})
}

// CompleteReport finalizes a draft, assigning its invoice number and dates.
func (s *Service) CompleteReport(ctx context.Context, id uuid.UUID, completedBy, notes string) (*BillingReport, error) {
	return s.mutate(ctx, "complete report", id, completedBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if err := requireStatus(r, "complete", StatusDraft); err != nil {
			return err
		}
		if err := recalculate(r, s.settings.TaxRate); err != nil {
			return err
		}
		if r.InvoiceNumber == nil {
			num, err := s.invoices.NextInvoiceNumber(ctx, now)
			if err != nil {
				return err
			}
			r.InvoiceNumber = &num
		}
		invoiceDate := now
		r.InvoiceDate = &invoiceDate
		if r.DueDate == nil {
			due := now.AddDate(0, 0, s.settings.PaymentTermDays)
			r.DueDate = &due
		}
		details := notes
		if details == "" {
			details = "invoice " + *r.InvoiceNumber
		}
		// Payments copied onto a duplicate already count toward the balance.
		return transition(r, settlementStatus(r), now, historyEntry{action: ActionCompleted, actor: completedBy, details: details})
	})
}

func (s *Service) GetReport(ctx context.Context, id uuid.UUID) (*BillingReport, error) {
	return s.reports.GetByID(ctx, id)
}

// ListByAppointment returns every report of the appointment, including
// soft-deleted ones, ordered by sequence.
func (s *Service) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*BillingReport, error) {
	return s.reports.ListByAppointment(ctx, appointmentID)
}

func (s *Service) SearchReports(ctx context.Context, f ReportFilter, limit, offset int) ([]*BillingReport, int, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, apperr.Validationf("unknown status %q", *f.Status)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, 0, apperr.Validationf("date range end is before its start")
	}
	return s.reports.Search(ctx, f, limit, offset)
}
