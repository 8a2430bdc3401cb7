package expense

import (
	"context"

	"github.com/google/uuid"
)

type ExpenseRepository interface {
	Create(ctx context.Context, e *Expense) error
	GetByID(ctx context.Context, id uuid.UUID) (*Expense, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Expense, error)
	// Update writes e if its VersionID matches the stored one and bumps it.
	Update(ctx context.Context, e *Expense) error
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Expense, int, error)
	SumByStatus(ctx context.Context, f Filter) (*Totals, error)
}

type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
