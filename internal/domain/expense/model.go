package expense

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Category string

const (
	CategorySupplies  Category = "supplies"
	CategoryLab       Category = "lab"
	CategoryEquipment Category = "equipment"
	CategoryRent      Category = "rent"
	CategoryUtilities Category = "utilities"
	CategoryPayroll   Category = "payroll"
	CategoryMarketing Category = "marketing"
	CategoryOther     Category = "other"
)

// Expense is money the clinic spends. It is approved or rejected once.
type Expense struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description" validate:"required,max=500"`
	Category    Category        `json:"category" validate:"required,oneof=supplies lab equipment rent utilities payroll marketing other"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate time.Time       `json:"expense_date"`
	Vendor      *string         `json:"vendor,omitempty" validate:"omitempty,max=200"`
	ReceiptURL  *string         `json:"receipt_url,omitempty" validate:"omitempty,url"`
	Status      Status          `json:"status"`
	SubmittedBy string          `json:"submitted_by"`
	ReviewedBy  *string         `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNotes *string         `json:"review_notes,omitempty"`
	VersionID   int             `json:"version_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Filter selects expenses. Zero fields match everything.
type Filter struct {
	Status   *Status
	Category *Category
	From     *time.Time
	To       *time.Time
}

// Totals sums expense amounts per status.
type Totals struct {
	Pending  decimal.Decimal `json:"pending"`
	Approved decimal.Decimal `json:"approved"`
	Rejected decimal.Decimal `json:"rejected"`
}
