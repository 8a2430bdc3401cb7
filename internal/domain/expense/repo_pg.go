package expense

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type expenseRepoPG struct{ pool *pgxpool.Pool }

func NewExpenseRepoPG(pool *pgxpool.Pool) ExpenseRepository { return &expenseRepoPG{pool: pool} }

func (r *expenseRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const expenseCols = `id, description, category, amount, expense_date, vendor, receipt_url,
	status, submitted_by, reviewed_by, reviewed_at, review_notes, version_id, created_at, updated_at`

func (r *expenseRepoPG) scanExpense(row pgx.Row) (*Expense, error) {
	var (
		e      Expense
		amount string
	)
	err := row.Scan(&e.ID, &e.Description, &e.Category, &amount, &e.ExpenseDate, &e.Vendor, &e.ReceiptURL,
		&e.Status, &e.SubmittedBy, &e.ReviewedBy, &e.ReviewedAt, &e.ReviewNotes, &e.VersionID,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Amount, err = decimal.NewFromString(amount)
	return &e, err
}

func wrap(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFoundf("%s: not found", op)
	}
	return apperr.Persistence(err, op)
}

func (r *expenseRepoPG) Create(ctx context.Context, e *Expense) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO expenses (id, description, category, amount, expense_date, vendor, receipt_url,
			status, submitted_by, version_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.Description, e.Category, e.Amount.String(), e.ExpenseDate, e.Vendor, e.ReceiptURL,
		e.Status, e.SubmittedBy, e.VersionID, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return wrap(err, "create expense")
	}
	return nil
}

func (r *expenseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Expense, error) {
	e, err := r.scanExpense(r.conn(ctx).QueryRow(ctx, `SELECT `+expenseCols+` FROM expenses WHERE id = $1`, id))
	if err != nil {
		return nil, wrap(err, "expense "+id.String())
	}
	return e, nil
}

func (r *expenseRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Expense, error) {
	e, err := r.scanExpense(r.conn(ctx).QueryRow(ctx, `SELECT `+expenseCols+` FROM expenses WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wrap(err, "expense "+id.String())
	}
	return e, nil
}

func (r *expenseRepoPG) Update(ctx context.Context, e *Expense) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE expenses SET status=$3, reviewed_by=$4, reviewed_at=$5, review_notes=$6,
			version_id = version_id + 1, updated_at=$7
		WHERE id = $1 AND version_id = $2`,
		e.ID, e.VersionID, e.Status, e.ReviewedBy, e.ReviewedAt, e.ReviewNotes, e.UpdatedAt)
	if err != nil {
		return wrap(err, "update expense")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Concurrencyf("expense %s was modified concurrently", e.ID)
	}
	e.VersionID++
	return nil
}

func applyFilter(q *db.Query, f Filter) {
	if f.Status != nil {
		q.Where("status = ?", *f.Status)
	}
	if f.Category != nil {
		q.Where("category = ?", *f.Category)
	}
	if f.From != nil {
		q.Where("expense_date >= ?", *f.From)
	}
	if f.To != nil {
		q.Where("expense_date < ?", *f.To)
	}
}

func (r *expenseRepoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Expense, int, error) {
	q := db.NewQuery("expenses", expenseCols).OrderBy("expense_date DESC, created_at DESC")
	applyFilter(q, f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, wrap(err, "count expenses")
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, wrap(err, "search expenses")
	}
	defer rows.Close()
	var items []*Expense
	for rows.Next() {
		e, err := r.scanExpense(rows)
		if err != nil {
			return nil, 0, wrap(err, "scan expense")
		}
		items = append(items, e)
	}
	return items, total, nil
}

func (r *expenseRepoPG) SumByStatus(ctx context.Context, f Filter) (*Totals, error) {
	q := db.NewQuery("expenses", "status, COALESCE(SUM(amount), 0)::text")
	f.Status = nil
	applyFilter(q, f)
	rows, err := r.conn(ctx).Query(ctx, q.GroupSQL("status"), q.Args()...)
	if err != nil {
		return nil, wrap(err, "sum expenses")
	}
	defer rows.Close()
	t := &Totals{Pending: decimal.Zero, Approved: decimal.Zero, Rejected: decimal.Zero}
	for rows.Next() {
		var (
			status Status
			raw    string
		)
		if err := rows.Scan(&status, &raw); err != nil {
			return nil, wrap(err, "scan expense sum")
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, wrap(err, "parse expense sum")
		}
		switch status {
		case StatusPending:
			t.Pending = amount
		case StatusApproved:
			t.Approved = amount
		case StatusRejected:
			t.Rejected = amount
		}
	}
	return t, nil
}
