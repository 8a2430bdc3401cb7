package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReportStatus string

const (
	StatusDraft         ReportStatus = "draft"
	StatusCompleted     ReportStatus = "completed"
	StatusPaid          ReportStatus = "paid"
	StatusPartiallyPaid ReportStatus = "partially_paid"
	StatusOverdue       ReportStatus = "overdue"
	StatusCancelled     ReportStatus = "cancelled"
	StatusArchived      ReportStatus = "archived"
	StatusDeleted       ReportStatus = "deleted"
)

var validStatuses = map[ReportStatus]bool{
	StatusDraft: true, StatusCompleted: true, StatusPaid: true, StatusPartiallyPaid: true,
	StatusOverdue: true, StatusCancelled: true, StatusArchived: true, StatusDeleted: true,
}

func (s ReportStatus) Valid() bool { return validStatuses[s] }

type ReportType string

const (
	ReportCompleteVisit     ReportType = "complete_visit"
	ReportPartialTreatment  ReportType = "partial_treatment"
	ReportProductSale       ReportType = "product_sale"
	ReportAdditionalService ReportType = "additional_service"
	ReportEmergencyAddon    ReportType = "emergency_addon"
	ReportInsuranceClaim    ReportType = "insurance_claim"
)

var validReportTypes = map[ReportType]bool{
	ReportCompleteVisit: true, ReportPartialTreatment: true, ReportProductSale: true,
	ReportAdditionalService: true, ReportEmergencyAddon: true, ReportInsuranceClaim: true,
}

func (t ReportType) Valid() bool { return validReportTypes[t] }

type LinkType string

const (
	LinkRelated      LinkType = "related"
	LinkConsolidated LinkType = "consolidated"
	LinkSplit        LinkType = "split"
)

func (t LinkType) Valid() bool {
	return t == LinkRelated || t == LinkConsolidated || t == LinkSplit
}

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentCard      PaymentMethod = "card"
	PaymentTransfer  PaymentMethod = "transfer"
	PaymentCheck     PaymentMethod = "check"
	PaymentInsurance PaymentMethod = "insurance"
	PaymentOther     PaymentMethod = "other"
)

type HistoryAction string

const (
	ActionCreated         HistoryAction = "created"
	ActionDetailsUpdated  HistoryAction = "details_updated"
	ActionServicesUpdated HistoryAction = "services_updated"
	ActionDiscountUpdated HistoryAction = "discount_updated"
	ActionCompleted       HistoryAction = "completed"
	ActionPaymentAdded    HistoryAction = "payment_added"
	ActionPaymentVoided   HistoryAction = "payment_voided"
	ActionPaymentVerified HistoryAction = "payment_verified"
	ActionDuplicated      HistoryAction = "duplicated"
	ActionLinked          HistoryAction = "linked"
	ActionUnlinked        HistoryAction = "unlinked"
	ActionMarkedOverdue   HistoryAction = "marked_overdue"
	ActionCancelled       HistoryAction = "cancelled"
	ActionArchived        HistoryAction = "archived"
	ActionUnarchived      HistoryAction = "unarchived"
	ActionDeleted         HistoryAction = "deleted"
	ActionRestored        HistoryAction = "restored"
)

// BillingService is one invoiced line.
type BillingService struct {
	ID            string          `json:"id"`
	Description   string          `json:"description" validate:"required,max=500"`
	Quantity      decimal.Decimal `json:"quantity" validate:"gte=0"`
	UnitPrice     decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Total         decimal.Decimal `json:"total"`
	Category      string          `json:"category" validate:"max=100"`
	ProcedureCode *string         `json:"procedure_code,omitempty" validate:"omitempty,max=50"`
	Tooth         []string        `json:"tooth,omitempty" validate:"omitempty,dive,required,max=10"`
}

type BillingPayment struct {
	ID         string          `json:"id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method"`
	Reference  *string         `json:"reference,omitempty"`
	Notes      *string         `json:"notes,omitempty"`
	Date       time.Time       `json:"date"`
	Verified   bool            `json:"verified"`
	RecordedBy string          `json:"recorded_by"`
}

// BillingStatusHistory is one audit entry. Entries are only ever appended.
type BillingStatusHistory struct {
	Action         HistoryAction    `json:"action"`
	PreviousStatus *ReportStatus    `json:"previous_status,omitempty"`
	NewStatus      ReportStatus     `json:"new_status"`
	PerformedBy    string           `json:"performed_by"`
	PerformedAt    time.Time        `json:"performed_at"`
	Details        string           `json:"details,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	PaymentID      *string          `json:"payment_id,omitempty"`
}

// BillingReport is the aggregate root: one invoiceable unit of work for an
// appointment.
type BillingReport struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	DoctorID      *uuid.UUID `json:"doctor_id,omitempty"`

	ReportType        ReportType `json:"report_type"`
	ReportTitle       string     `json:"report_title"`
	ReportDescription *string    `json:"report_description,omitempty"`
	IsPartialReport   bool       `json:"is_partial_report"`
	ReportSequence    int        `json:"report_sequence"`

	ParentReportID *uuid.UUID  `json:"parent_report_id,omitempty"`
	LinkID         *uuid.UUID  `json:"link_id,omitempty"`
	LinkedReports  []uuid.UUID `json:"linked_reports,omitempty"`
	LinkType       *LinkType   `json:"link_type,omitempty"`
	LinkNotes      *string     `json:"link_notes,omitempty"`
	LinkedBy       *string     `json:"linked_by,omitempty"`
	LinkedAt       *time.Time  `json:"linked_at,omitempty"`

	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PendingAmount decimal.Decimal `json:"pending_amount"`

	Services []BillingService `json:"services"`
	Payments []BillingPayment `json:"payments"`

	Status        ReportStatus `json:"status"`
	InvoiceNumber *string      `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time   `json:"invoice_date,omitempty"`
	DueDate       *time.Time   `json:"due_date,omitempty"`
	PDFGenerated  bool         `json:"pdf_generated"`
	PDFURL        *string      `json:"pdf_url,omitempty"`

	StatusHistory []BillingStatusHistory `json:"status_history"`

	ArchivedAt         *time.Time    `json:"archived_at,omitempty"`
	ArchivedBy         *string       `json:"archived_by,omitempty"`
	ArchiveReason      *string       `json:"archive_reason,omitempty"`
	ArchivedFromStatus *ReportStatus `json:"archived_from_status,omitempty"`

	IsDeleted         bool          `json:"is_deleted"`
	DeletedAt         *time.Time    `json:"deleted_at,omitempty"`
	DeletedBy         *string       `json:"deleted_by,omitempty"`
	DeleteReason      *string       `json:"delete_reason,omitempty"`
	DeletedFromStatus *ReportStatus `json:"deleted_from_status,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedBy      string    `json:"created_by"`
	LastModifiedBy string    `json:"last_modified_by"`
	VersionID      int       `json:"version_id"`
}

// Clone returns a deep copy; mutating it never affects r.
func (r *BillingReport) Clone() *BillingReport {
	if r == nil {
		return nil
	}
	c := *r
	c.DoctorID = clonePtr(r.DoctorID)
	c.ReportDescription = clonePtr(r.ReportDescription)
	c.ParentReportID = clonePtr(r.ParentReportID)
	c.LinkID = clonePtr(r.LinkID)
	c.LinkType = clonePtr(r.LinkType)
	c.LinkNotes = clonePtr(r.LinkNotes)
	c.LinkedBy = clonePtr(r.LinkedBy)
	c.LinkedAt = clonePtr(r.LinkedAt)
	c.InvoiceNumber = clonePtr(r.InvoiceNumber)
	c.InvoiceDate = clonePtr(r.InvoiceDate)
	c.DueDate = clonePtr(r.DueDate)
	c.PDFURL = clonePtr(r.PDFURL)
	c.ArchivedAt = clonePtr(r.ArchivedAt)
	c.ArchivedBy = clonePtr(r.ArchivedBy)
	c.ArchiveReason = clonePtr(r.ArchiveReason)
	c.ArchivedFromStatus = clonePtr(r.ArchivedFromStatus)
	c.DeletedAt = clonePtr(r.DeletedAt)
	c.DeletedBy = clonePtr(r.DeletedBy)
	c.DeleteReason = clonePtr(r.DeleteReason)
	c.DeletedFromStatus = clonePtr(r.DeletedFromStatus)

	if r.LinkedReports != nil {
		c.LinkedReports = append([]uuid.UUID(nil), r.LinkedReports...)
	}
	if r.Services != nil {
		c.Services = make([]BillingService, len(r.Services))
		for i, s := range r.Services {
			c.Services[i] = s.clone()
		}
	}
	if r.Payments != nil {
		c.Payments = make([]BillingPayment, len(r.Payments))
		for i, p := range r.Payments {
			c.Payments[i] = p.clone()
		}
	}
	if r.StatusHistory != nil {
		c.StatusHistory = make([]BillingStatusHistory, len(r.StatusHistory))
		for i, h := range r.StatusHistory {
			h.PreviousStatus = clonePtr(h.PreviousStatus)
			h.Amount = clonePtr(h.Amount)
			h.PaymentID = clonePtr(h.PaymentID)
			c.StatusHistory[i] = h
		}
	}
	return &c
}

func (s BillingService) clone() BillingService {
	s.ProcedureCode = clonePtr(s.ProcedureCode)
	if s.Tooth != nil {
		s.Tooth = append([]string(nil), s.Tooth...)
	}
	return s
}

func (p BillingPayment) clone() BillingPayment {
	p.Reference = clonePtr(p.Reference)
	p.Notes = clonePtr(p.Notes)
	return p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Appointment is the read-only view of a clinical visit this engine bills.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  *uuid.UUID
	StartTime *time.Time
	Status    string
}

// CreateReportOptions tunes CreateReport.
type CreateReportOptions struct {
	ReportType              ReportType      `json:"report_type"`
	ReportTitle             string          `json:"report_title" validate:"max=200"`
	ReportDescription       *string         `json:"report_description,omitempty" validate:"omitempty,max=2000"`
	IsPartialReport         bool            `json:"is_partial_report"`
	ParentReportID          *uuid.UUID      `json:"parent_report_id,omitempty"`
	IncludePreviousServices bool            `json:"include_previous_services"`
	Discount                decimal.Decimal `json:"discount" validate:"gte=0"`
	DueDate                 *time.Time      `json:"due_date,omitempty"`
	Notes                   string          `json:"notes,omitempty" validate:"max=1000"`
}

// ReportDetails carries the optional descriptive fields editable on a draft.
type ReportDetails struct {
	ReportTitle       *string     `json:"report_title,omitempty" validate:"omitempty,min=1,max=200"`
	ReportDescription *string     `json:"report_description,omitempty" validate:"omitempty,max=2000"`
	ReportType        *ReportType `json:"report_type,omitempty"`
	DueDate           *time.Time  `json:"due_date,omitempty"`
}

// DuplicateOptions tunes DuplicateReport.
type DuplicateOptions struct {
	IncludeServices   bool        `json:"include_services"`
	IncludePayments   bool        `json:"include_payments"`
	ReportType        *ReportType `json:"report_type,omitempty"`
	ReportTitle       string      `json:"report_title,omitempty" validate:"max=200"`
	ReportDescription *string     `json:"report_description,omitempty" validate:"omitempty,max=2000"`
	Notes             string      `json:"notes,omitempty" validate:"max=1000"`
}

// PaymentInput is a payment as submitted by a caller. ID may be supplied to
// make resubmission of the same payment a no-op.
type PaymentInput struct {
	ID        string          `json:"id,omitempty" validate:"omitempty,max=64"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Method    PaymentMethod   `json:"method" validate:"required,oneof=cash card transfer check insurance other"`
	Reference *string         `json:"reference,omitempty" validate:"omitempty,max=100"`
	Notes     *string         `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Date      *time.Time      `json:"date,omitempty"`
	Verified  bool            `json:"verified"`
}

// QuickPaymentOption is a suggested amount derived from the pending balance.
type QuickPaymentOption struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// AppointmentBillingSummary rolls up the non-deleted reports of one
// appointment.
type AppointmentBillingSummary struct {
	AppointmentID       uuid.UUID        `json:"appointment_id"`
	ReportCount         int              `json:"report_count"`
	TotalAmount         decimal.Decimal  `json:"total_amount"`
	TotalPaid           decimal.Decimal  `json:"total_paid"`
	TotalPending        decimal.Decimal  `json:"total_pending"`
	HasDraftReports     bool             `json:"has_draft_reports"`
	HasCompletedReports bool             `json:"has_completed_reports"`
	ReportTypes         []ReportType     `json:"report_types"`
	Reports             []*BillingReport `json:"reports"`
}

// ReportFilter selects reports for Search. Zero fields match everything.
type ReportFilter struct {
	Status         *ReportStatus
	DoctorID       *uuid.UUID
	PatientID      *uuid.UUID
	AppointmentID  *uuid.UUID
	From           *time.Time
	To             *time.Time
	IncludeDeleted bool
}
