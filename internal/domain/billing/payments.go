package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
)

// AddPayment records a payment against a finalized report. The amount may
// not exceed the pending balance. Resubmitting a payment with an ID that is
// already recorded, for the same amount, returns the report unchanged.
func (s *Service) AddPayment(ctx context.Context, id uuid.UUID, in PaymentInput, recordedBy string) (*BillingReport, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.Validationf("payment amount must be greater than zero")
	}
	if !Round2(in.Amount).Equal(in.Amount) {
		return nil, apperr.Validationf("payment amount %s has more than two decimal places", in.Amount)
	}
	var replay bool
	r, err := s.mutate(ctx, "add payment", id, recordedBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if err := requireStatus(r, "add a payment to", StatusCompleted, StatusPartiallyPaid, StatusOverdue, StatusPaid); err != nil {
			return err
		}
		if in.ID != "" {
			for _, p := range r.Payments {
				if p.ID != in.ID {
					continue
				}
				if !p.Amount.Equal(in.Amount) {
					return apperr.Validationf("payment %s already recorded with amount %s", in.ID, p.Amount.StringFixed(moneyPlaces))
				}
				replay = true
				return errReplay
			}
		}
		if in.Amount.GreaterThan(r.PendingAmount) {
			return apperr.WithHint(
				apperr.Overpaymentf("payment %s exceeds pending balance %s",
					in.Amount.StringFixed(moneyPlaces), r.PendingAmount.StringFixed(moneyPlaces)),
				"pay the remaining balance of "+r.PendingAmount.StringFixed(moneyPlaces))
		}
		payment := BillingPayment{
			ID:         in.ID,
			Amount:     in.Amount,
			Method:     in.Method,
			Reference:  clonePtr(in.Reference),
			Notes:      clonePtr(in.Notes),
			Date:       now,
			Verified:   in.Verified,
			RecordedBy: recordedBy,
		}
		if payment.ID == "" {
			payment.ID = uuid.NewString()
		}
		if in.Date != nil {
			payment.Date = *in.Date
		}
		r.Payments = append(r.Payments, payment)
		if err := recalculate(r, s.settings.TaxRate); err != nil {
			return err
		}
		amount := payment.Amount
		pid := payment.ID
		return transition(r, settlementStatus(r), now, historyEntry{
			action:    ActionPaymentAdded,
			actor:     recordedBy,
			details:   string(payment.Method),
			amount:    &amount,
			paymentID: &pid,
		})
	})
	if replay {
		return s.reports.GetByID(ctx, id)
	}
	return r, err
}

// errReplay aborts the transaction of an already applied payment.
var errReplay = apperr.InvalidStatef("payment already applied")

// VoidPayment removes a recorded payment and re-derives the status.
func (s *Service) VoidPayment(ctx context.Context, id uuid.UUID, paymentID, voidedBy, reason string) (*BillingReport, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validationf("a reason is required to void a payment")
	}
	return s.mutate(ctx, "void payment", id, voidedBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if err := requireStatus(r, "void a payment of", StatusPartiallyPaid, StatusPaid, StatusOverdue); err != nil {
			return err
		}
		idx := -1
		for i, p := range r.Payments {
			if p.ID == paymentID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperr.NotFoundf("payment %s not found on report %s", paymentID, r.ID)
		}
		voided := r.Payments[idx]
		r.Payments = append(r.Payments[:idx:idx], r.Payments[idx+1:]...)
		if err := recalculate(r, s.settings.TaxRate); err != nil {
			return err
		}
		amount := voided.Amount
		pid := voided.ID
		e := historyEntry{action: ActionPaymentVoided, actor: voidedBy, details: reason, amount: &amount, paymentID: &pid}
		// An overdue report still owes money after a void.
		if r.Status == StatusOverdue {
			record(r, nil, now, e)
			return nil
		}
		return transition(r, settlementStatus(r), now, e)
	})
}

// VerifyPayment marks a recorded payment as verified.
func (s *Service) VerifyPayment(ctx context.Context, id uuid.UUID, paymentID, verifiedBy string) (*BillingReport, error) {
	return s.mutate(ctx, "verify payment", id, verifiedBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if r.Status == StatusDeleted || r.Status == StatusArchived {
			return apperr.InvalidStatef("cannot verify a payment of report %s in status %s", r.ID, r.Status)
		}
		for i := range r.Payments {
			if r.Payments[i].ID != paymentID {
				continue
			}
			if r.Payments[i].Verified {
				return apperr.InvalidStatef("payment %s is already verified", paymentID)
			}
			r.Payments[i].Verified = true
			pid := paymentID
			record(r, nil, now, historyEntry{action: ActionPaymentVerified, actor: verifiedBy, paymentID: &pid})
			return nil
		}
		return apperr.NotFoundf("payment %s not found on report %s", paymentID, r.ID)
	})
}

// QuickPaymentOptions suggests payment amounts for the report's pending
// balance.
func (s *Service) QuickPaymentOptions(ctx context.Context, id uuid.UUID) ([]QuickPaymentOption, error) {
	r, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusCompleted, StatusPartiallyPaid, StatusOverdue:
		return SuggestQuickPayments(r.PendingAmount, s.settings.QuickPayHalfThreshold, s.settings.QuickPayIncrement), nil
	default:
		return []QuickPaymentOption{}, nil
	}
}
