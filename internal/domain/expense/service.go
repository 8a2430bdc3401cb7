package expense

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/clock"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/retry"
)

var validate = validator.New()

type Service struct {
	expenses ExpenseRepository
	uow      UnitOfWork
	clock    clock.Clock
	retry    retry.Policy
	log      zerolog.Logger
}

func NewService(expenses ExpenseRepository, uow UnitOfWork, clk clock.Clock, policy retry.Policy, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}
	return &Service{
		expenses: expenses,
		uow:      uow,
		clock:    clk,
		retry:    policy,
		log:      logger.With().Str("component", "expense").Logger(),
	}
}

func (s *Service) CreateExpense(ctx context.Context, e *Expense, submittedBy string) error {
	if strings.TrimSpace(submittedBy) == "" {
		return apperr.Validationf("actor is required")
	}
	if err := validate.Struct(e); err != nil {
		return apperr.Validationf("invalid expense: %v", err)
	}
	if !e.Amount.IsPositive() {
		return apperr.Validationf("amount must be positive")
	}
	if !e.Amount.Round(2).Equal(e.Amount) {
		return apperr.Validationf("amount has more than two decimal places")
	}
	now := s.clock.Now()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ExpenseDate.IsZero() {
		e.ExpenseDate = now
	}
	e.Status = StatusPending
	e.SubmittedBy = submittedBy
	e.ReviewedBy, e.ReviewedAt, e.ReviewNotes = nil, nil, nil
	e.VersionID = 1
	e.CreatedAt, e.UpdatedAt = now, now

	err := retry.Do(ctx, s.retry, s.log, "create expense", func(ctx context.Context) error {
		return s.expenses.Create(ctx, e)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("expense_id", e.ID.String()).Str("category", string(e.Category)).
		Str("amount", e.Amount.StringFixed(2)).Msg("expense submitted")
	return nil
}

func (s *Service) ApproveExpense(ctx context.Context, id uuid.UUID, by string, notes *string) (*Expense, error) {
	return s.review(ctx, id, by, StatusApproved, notes)
}

// RejectExpense requires a reason, stored as the review notes.
func (s *Service) RejectExpense(ctx context.Context, id uuid.UUID, by, reason string) (*Expense, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validationf("a rejection reason is required")
	}
	return s.review(ctx, id, by, StatusRejected, &reason)
}

func (s *Service) review(ctx context.Context, id uuid.UUID, by string, to Status, notes *string) (*Expense, error) {
	if strings.TrimSpace(by) == "" {
		return nil, apperr.Validationf("actor is required")
	}
	var out *Expense
	err := retry.Do(ctx, s.retry, s.log, "review expense", func(ctx context.Context) error {
		return s.uow.WithinTx(ctx, func(ctx context.Context) error {
			e, err := s.expenses.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if e.Status != StatusPending {
				return apperr.InvalidStatef("expense %s is already %s", id, e.Status)
			}
			now := s.clock.Now()
			e.Status = to
			e.ReviewedBy = &by
			e.ReviewedAt = &now
			e.ReviewNotes = notes
			e.UpdatedAt = now
			if err := s.expenses.Update(ctx, e); err != nil {
				return err
			}
			out = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("expense_id", id.String()).Str("status", string(to)).Str("by", by).Msg("expense reviewed")
	return out, nil
}

func (s *Service) GetExpense(ctx context.Context, id uuid.UUID) (*Expense, error) {
	return s.expenses.GetByID(ctx, id)
}

func (s *Service) checkFilter(f Filter) error {
	if f.Status != nil {
		switch *f.Status {
		case StatusPending, StatusApproved, StatusRejected:
		default:
			return apperr.Validationf("unknown expense status %q", *f.Status)
		}
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return apperr.Validationf("date range end is before its start")
	}
	return nil
}

func (s *Service) ListExpenses(ctx context.Context, f Filter, limit, offset int) ([]*Expense, int, error) {
	if err := s.checkFilter(f); err != nil {
		return nil, 0, err
	}
	return s.expenses.Search(ctx, f, limit, offset)
}

// ExpenseTotals sums amounts per status for the filter's category and range.
func (s *Service) ExpenseTotals(ctx context.Context, f Filter) (*Totals, error) {
	if err := s.checkFilter(f); err != nil {
		return nil, err
	}
	return s.expenses.SumByStatus(ctx, f)
}
