package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// classify maps driver errors onto the engine's error kinds.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFoundf("%s: not found", op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return apperr.Mark(errors.Wrap(err, op), apperr.ErrConcurrency)
		case "23505":
			return apperr.Mark(errors.Wrapf(err, "%s: %s", op, pgErr.ConstraintName), apperr.ErrConcurrency)
		case "23503":
			return apperr.Mark(errors.Wrapf(err, "%s: still referenced", op), apperr.ErrInvalidState)
		}
	}
	return apperr.Persistence(err, op)
}

// =========== Report Repository ===========

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository { return &reportRepoPG{pool: pool} }

func (r *reportRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const reportCols = `doc, version_id`

func scanReport(row pgx.Row) (*BillingReport, error) {
	var (
		raw     []byte
		version int
	)
	if err := row.Scan(&raw, &version); err != nil {
		return nil, err
	}
	var rep BillingReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("decode report document: %w", err)
	}
	rep.VersionID = version
	return &rep, nil
}

func (r *reportRepoPG) collect(rows pgx.Rows, op string) ([]*BillingReport, error) {
	defer rows.Close()
	var items []*BillingReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, classify(err, op)
		}
		items = append(items, rep)
	}
	return items, classify(rows.Err(), op)
}

func (r *reportRepoPG) Create(ctx context.Context, rep *BillingReport) error {
	if rep.VersionID == 0 {
		rep.VersionID = 1
	}
	doc, err := json.Marshal(rep)
	if err != nil {
		return apperr.Persistence(err, "encode report")
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO billing_reports (id, appointment_id, patient_id, doctor_id, report_sequence,
			report_type, status, parent_report_id, link_id, invoice_number, due_date,
			total, pending_amount, is_deleted, doc, version_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::numeric,$13::numeric,$14,$15,$16,$17,$18)`,
		rep.ID, rep.AppointmentID, rep.PatientID, rep.DoctorID, rep.ReportSequence,
		rep.ReportType, rep.Status, rep.ParentReportID, rep.LinkID, rep.InvoiceNumber, rep.DueDate,
		rep.Total.String(), rep.PendingAmount.String(), rep.IsDeleted, doc, rep.VersionID,
		rep.CreatedAt, rep.UpdatedAt)
	return classify(err, "create report")
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BillingReport, error) {
	rep, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM billing_reports WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, "report "+id.String())
	}
	return rep, nil
}

func (r *reportRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*BillingReport, error) {
	rep, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM billing_reports WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, classify(err, "report "+id.String())
	}
	return rep, nil
}

func (r *reportRepoPG) Update(ctx context.Context, rep *BillingReport) error {
	expected := rep.VersionID
	rep.VersionID = expected + 1
	doc, err := json.Marshal(rep)
	if err != nil {
		rep.VersionID = expected
		return apperr.Persistence(err, "encode report")
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE billing_reports SET report_type=$3, status=$4, link_id=$5, invoice_number=$6,
			due_date=$7, total=$8::numeric, pending_amount=$9::numeric, is_deleted=$10, doc=$11,
			version_id=$12, updated_at=$13
		WHERE id = $1 AND version_id = $2`,
		rep.ID, expected, rep.ReportType, rep.Status, rep.LinkID, rep.InvoiceNumber,
		rep.DueDate, rep.Total.String(), rep.PendingAmount.String(), rep.IsDeleted, doc,
		rep.VersionID, rep.UpdatedAt)
	if err != nil {
		rep.VersionID = expected
		return classify(err, "update report")
	}
	if tag.RowsAffected() == 0 {
		rep.VersionID = expected
		return apperr.Concurrencyf("report %s was modified concurrently (version %d)", rep.ID, expected)
	}
	return nil
}

func (r *reportRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM billing_reports WHERE id = $1`, id)
	if err != nil {
		return classify(err, "delete report")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("report %s not found", id)
	}
	return nil
}

func (r *reportRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*BillingReport, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM billing_reports
		WHERE appointment_id = $1 ORDER BY report_sequence`, appointmentID)
	if err != nil {
		return nil, classify(err, "list reports by appointment")
	}
	return r.collect(rows, "list reports by appointment")
}

func (r *reportRepoPG) ListByLink(ctx context.Context, linkID uuid.UUID) ([]*BillingReport, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM billing_reports
		WHERE link_id = $1 ORDER BY id`, linkID)
	if err != nil {
		return nil, classify(err, "list linked reports")
	}
	return r.collect(rows, "list linked reports")
}

func (r *reportRepoPG) CountChildren(ctx context.Context, parentID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM billing_reports WHERE parent_report_id = $1`, parentID).Scan(&n)
	return n, classify(err, "count child reports")
}

func (r *reportRepoPG) Search(ctx context.Context, f ReportFilter, limit, offset int) ([]*BillingReport, int, error) {
	q := db.NewQuery("billing_reports", reportCols).OrderBy("created_at DESC, id")
	if f.Status != nil {
		q.Where("status = ?", *f.Status)
	}
	if f.DoctorID != nil {
		q.Where("doctor_id = ?", *f.DoctorID)
	}
	if f.PatientID != nil {
		q.Where("patient_id = ?", *f.PatientID)
	}
	if f.AppointmentID != nil {
		q.Where("appointment_id = ?", *f.AppointmentID)
	}
	if f.From != nil {
		q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q.Where("created_at < ?", *f.To)
	}
	if !f.IncludeDeleted {
		q.Where("is_deleted = FALSE")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.Args()...).Scan(&total); err != nil {
		return nil, 0, classify(err, "count reports")
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, classify(err, "search reports")
	}
	items, err := r.collect(rows, "search reports")
	return items, total, err
}

func (r *reportRepoPG) ListOverdueCandidates(ctx context.Context, asOf time.Time, limit int) ([]*BillingReport, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM billing_reports
		WHERE status IN ('completed', 'partially_paid') AND due_date < $1 AND pending_amount > 0
		ORDER BY due_date LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, classify(err, "list overdue candidates")
	}
	return r.collect(rows, "list overdue candidates")
}

// =========== Counters ===========

type sequenceRepoPG struct{ pool *pgxpool.Pool }

func NewSequenceRepoPG(pool *pgxpool.Pool) SequenceAllocator { return &sequenceRepoPG{pool: pool} }

// NextReportSequence bumps the appointment's counter row, seeding it from the
// highest sequence already stored so the first allocation is always one past
// any existing report.
func (r *sequenceRepoPG) NextReportSequence(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	var next int
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO report_sequences (appointment_id, last_value, updated_at)
		VALUES ($1, (SELECT COALESCE(MAX(report_sequence), 0) + 1 FROM billing_reports WHERE appointment_id = $1), NOW())
		ON CONFLICT (appointment_id)
		DO UPDATE SET last_value = report_sequences.last_value + 1, updated_at = NOW()
		RETURNING last_value`, appointmentID).Scan(&next)
	if err != nil {
		return 0, classify(err, "allocate report sequence")
	}
	return next, nil
}

type invoiceCounterPG struct {
	pool   *pgxpool.Pool
	prefix string
}

func NewInvoiceCounterPG(pool *pgxpool.Pool, prefix string) InvoiceNumberAllocator {
	return &invoiceCounterPG{pool: pool, prefix: prefix}
}

// NextInvoiceNumber returns PREFIX-YYYYMM-NNNNN from a per-month counter.
func (r *invoiceCounterPG) NextInvoiceNumber(ctx context.Context, at time.Time) (string, error) {
	period := at.UTC().Format("200601")
	var next int64
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO invoice_sequences (prefix, year_month, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, year_month)
		DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value`, r.prefix, period).Scan(&next)
	if err != nil {
		return "", classify(err, "allocate invoice number")
	}
	return FormatInvoiceNumber(r.prefix, at, next), nil
}

func FormatInvoiceNumber(prefix string, at time.Time, n int64) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, at.UTC().Format("200601"), n)
}
