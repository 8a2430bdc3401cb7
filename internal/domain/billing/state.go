package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
)

var restorable = []ReportStatus{
	StatusDraft, StatusCompleted, StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusCancelled,
}

// transitions lists the legal targets of each status. Archived and deleted
// reports may only return to the status recorded when they left it.
var transitions = map[ReportStatus][]ReportStatus{
	StatusDraft:         {StatusCompleted, StatusPartiallyPaid, StatusPaid, StatusCancelled, StatusArchived, StatusDeleted},
	StatusCompleted:     {StatusPartiallyPaid, StatusPaid, StatusOverdue, StatusCancelled, StatusArchived, StatusDeleted},
	StatusPartiallyPaid: {StatusPartiallyPaid, StatusPaid, StatusCompleted, StatusOverdue, StatusArchived, StatusDeleted},
	StatusPaid:          {StatusPartiallyPaid, StatusCompleted, StatusArchived, StatusDeleted},
	StatusOverdue:       {StatusPartiallyPaid, StatusPaid, StatusCompleted, StatusCancelled, StatusArchived, StatusDeleted},
	StatusCancelled:     {StatusArchived, StatusDeleted},
	StatusArchived:      append(append([]ReportStatus{}, restorable...), StatusDeleted),
	StatusDeleted:       append(append([]ReportStatus{}, restorable...), StatusArchived),
}

// CanTransition reports whether a report may move from one status to another.
func CanTransition(from, to ReportStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func requireStatus(r *BillingReport, op string, allowed ...ReportStatus) error {
	for _, s := range allowed {
		if r.Status == s {
			return nil
		}
	}
	return apperr.InvalidStatef("cannot %s report %s in status %s", op, r.ID, r.Status)
}

// settlementStatus derives the payment-driven status from the amounts.
func settlementStatus(r *BillingReport) ReportStatus {
	switch {
	case r.PaidAmount.IsZero():
		return StatusCompleted
	case r.PendingAmount.IsZero():
		return StatusPaid
	default:
		return StatusPartiallyPaid
	}
}

type historyEntry struct {
	action    HistoryAction
	actor     string
	details   string
	amount    *decimal.Decimal
	paymentID *string
}

// transition moves r to the target status and records the move.
func transition(r *BillingReport, to ReportStatus, now time.Time, e historyEntry) error {
	if !CanTransition(r.Status, to) {
		return apperr.InvalidStatef("report %s cannot move from %s to %s", r.ID, r.Status, to)
	}
	from := r.Status
	r.Status = to
	record(r, &from, now, e)
	return nil
}

// record appends an audit entry without changing status.
func record(r *BillingReport, prev *ReportStatus, now time.Time, e historyEntry) {
	if prev == nil {
		p := r.Status
		prev = &p
	}
	if n := len(r.StatusHistory); n > 0 && now.Before(r.StatusHistory[n-1].PerformedAt) {
		now = r.StatusHistory[n-1].PerformedAt
	}
	r.StatusHistory = append(r.StatusHistory, BillingStatusHistory{
		Action:         e.action,
		PreviousStatus: prev,
		NewStatus:      r.Status,
		PerformedBy:    e.actor,
		PerformedAt:    now,
		Details:        e.details,
		Amount:         e.amount,
		PaymentID:      e.paymentID,
	})
	r.LastModifiedBy = e.actor
}
