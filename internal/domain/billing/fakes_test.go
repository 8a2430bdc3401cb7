package billing

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/clock"
	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/retry"
)

// memStore is an in-memory ReportRepository, SequenceAllocator,
// InvoiceNumberAllocator and UnitOfWork. Transactions are serialized and
// roll back by restoring a snapshot.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	reports  map[uuid.UUID]*BillingReport
	seqs     map[uuid.UUID]int
	invoices map[string]int64

	// updateErrs are returned, in order, by the next Update calls.
	updateErrs []error
	updates    int
}

func newMemStore() *memStore {
	return &memStore{
		reports:  make(map[uuid.UUID]*BillingReport),
		seqs:     make(map[uuid.UUID]int),
		invoices: make(map[string]int64),
	}
}

type memSnapshot struct {
	reports  map[uuid.UUID]*BillingReport
	seqs     map[uuid.UUID]int
	invoices map[string]int64
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		reports:  make(map[uuid.UUID]*BillingReport, len(m.reports)),
		seqs:     make(map[uuid.UUID]int, len(m.seqs)),
		invoices: make(map[string]int64, len(m.invoices)),
	}
	for k, v := range m.reports {
		s.reports[k] = v.Clone()
	}
	for k, v := range m.seqs {
		s.seqs[k] = v
	}
	for k, v := range m.invoices {
		s.invoices[k] = v
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports, m.seqs, m.invoices = s.reports, s.seqs, s.invoices
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) Create(_ context.Context, r *BillingReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; ok {
		return apperr.Concurrencyf("report %s already exists", r.ID)
	}
	for _, existing := range m.reports {
		if existing.AppointmentID == r.AppointmentID && existing.ReportSequence == r.ReportSequence {
			return apperr.Concurrencyf("sequence %d already used", r.ReportSequence)
		}
	}
	if r.VersionID == 0 {
		r.VersionID = 1
	}
	m.reports[r.ID] = r.Clone()
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*BillingReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, apperr.NotFoundf("report %s not found", id)
	}
	return r.Clone(), nil
}

func (m *memStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*BillingReport, error) {
	return m.GetByID(ctx, id)
}

func (m *memStore) Update(_ context.Context, r *BillingReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if len(m.updateErrs) > 0 {
		err := m.updateErrs[0]
		m.updateErrs = m.updateErrs[1:]
		return err
	}
	cur, ok := m.reports[r.ID]
	if !ok {
		return apperr.NotFoundf("report %s not found", r.ID)
	}
	if cur.VersionID != r.VersionID {
		return apperr.Concurrencyf("report %s version %d is stale", r.ID, r.VersionID)
	}
	r.VersionID++
	m.reports[r.ID] = r.Clone()
	return nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[id]; !ok {
		return apperr.NotFoundf("report %s not found", id)
	}
	delete(m.reports, id)
	return nil
}

func (m *memStore) filter(keep func(*BillingReport) bool) []*BillingReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*BillingReport
	for _, r := range m.reports {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (m *memStore) ListByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*BillingReport, error) {
	out := m.filter(func(r *BillingReport) bool { return r.AppointmentID == appointmentID })
	sort.Slice(out, func(i, j int) bool { return out[i].ReportSequence < out[j].ReportSequence })
	return out, nil
}

func (m *memStore) ListByLink(_ context.Context, linkID uuid.UUID) ([]*BillingReport, error) {
	return m.filter(func(r *BillingReport) bool { return r.LinkID != nil && *r.LinkID == linkID }), nil
}

func (m *memStore) CountChildren(_ context.Context, parentID uuid.UUID) (int, error) {
	return len(m.filter(func(r *BillingReport) bool { return r.ParentReportID != nil && *r.ParentReportID == parentID })), nil
}

func (m *memStore) Search(_ context.Context, f ReportFilter, limit, offset int) ([]*BillingReport, int, error) {
	out := m.filter(func(r *BillingReport) bool {
		switch {
		case f.Status != nil && r.Status != *f.Status:
			return false
		case f.DoctorID != nil && (r.DoctorID == nil || *r.DoctorID != *f.DoctorID):
			return false
		case f.PatientID != nil && r.PatientID != *f.PatientID:
			return false
		case f.AppointmentID != nil && r.AppointmentID != *f.AppointmentID:
			return false
		case f.From != nil && r.CreatedAt.Before(*f.From):
			return false
		case f.To != nil && !r.CreatedAt.Before(*f.To):
			return false
		case !f.IncludeDeleted && r.IsDeleted:
			return false
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *memStore) ListOverdueCandidates(_ context.Context, asOf time.Time, limit int) ([]*BillingReport, error) {
	out := m.filter(func(r *BillingReport) bool { return overdueAt(r, asOf) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) NextReportSequence(_ context.Context, appointmentID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seqs[appointmentID]; !ok {
		for _, r := range m.reports {
			if r.AppointmentID == appointmentID && r.ReportSequence > m.seqs[appointmentID] {
				m.seqs[appointmentID] = r.ReportSequence
			}
		}
	}
	m.seqs[appointmentID]++
	return m.seqs[appointmentID], nil
}

func (m *memStore) NextInvoiceNumber(_ context.Context, at time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	period := at.UTC().Format("200601")
	m.invoices[period]++
	return FormatInvoiceNumber("INV", at, m.invoices[period]), nil
}

func (m *memStore) stored(t *testing.T, id uuid.UUID) *BillingReport {
	t.Helper()
	r, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load report %s: %v", id, err)
	}
	return r
}

type fakeAppointments struct {
	appts map[uuid.UUID]*Appointment
	calls int
}

func (f *fakeAppointments) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.calls++
	a, ok := f.appts[id]
	if !ok {
		return nil, apperr.NotFoundf("appointment %s not found", id)
	}
	return a, nil
}

type testEnv struct {
	svc   *Service
	store *memStore
	appts *fakeAppointments
	clock *clock.Fake
	appt  *Appointment
}

var testStart = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	doctor := uuid.New()
	appt := &Appointment{ID: uuid.New(), PatientID: uuid.New(), DoctorID: &doctor, Status: "completed"}
	appts := &fakeAppointments{appts: map[uuid.UUID]*Appointment{appt.ID: appt}}
	store := newMemStore()
	clk := clock.NewFake(testStart)
	settings := DefaultSettings()
	settings.Retry = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	svc := NewService(Deps{
		Reports:      store,
		Sequences:    store,
		Invoices:     store,
		UnitOfWork:   store,
		Appointments: appts,
		Clock:        clk,
	}, settings, zerolog.Nop())
	return &testEnv{svc: svc, store: store, appts: appts, clock: clk, appt: appt}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(desc, qty, price string) BillingService {
	return BillingService{Description: desc, Quantity: dec(qty), UnitPrice: dec(price), Category: "treatment"}
}

func assertDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

// createDraft creates a draft for the env's appointment.
func (e *testEnv) createDraft(t *testing.T, services ...BillingService) *BillingReport {
	t.Helper()
	r, err := e.svc.CreateReport(context.Background(), e.appt.ID, "front-desk-1", CreateReportOptions{}, services)
	if err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
	return r
}

// createCompleted creates and completes a report with the given services.
func (e *testEnv) createCompleted(t *testing.T, services ...BillingService) *BillingReport {
	t.Helper()
	r := e.createDraft(t, services...)
	r, err := e.svc.CompleteReport(context.Background(), r.ID, "billing-1", "")
	if err != nil {
		t.Fatalf("CompleteReport: %v", err)
	}
	return r
}

// checkInvariants verifies the monetary and history invariants of r.
func checkInvariants(t *testing.T, r *BillingReport, rate decimal.Decimal) {
	t.Helper()
	sub := decimal.Zero
	for _, s := range r.Services {
		if !s.Total.Equal(LineTotal(s.Quantity, s.UnitPrice)) {
			t.Errorf("line %s total %s != qty*price", s.Description, s.Total)
		}
		sub = sub.Add(s.Total)
	}
	if !r.Subtotal.Equal(sub) {
		t.Errorf("subtotal %s != sum of lines %s", r.Subtotal, sub)
	}
	if !r.Tax.Equal(Round2(r.Subtotal.Mul(rate))) {
		t.Errorf("tax %s != round(subtotal*rate)", r.Tax)
	}
	if !r.Total.Equal(r.Subtotal.Add(r.Tax).Sub(r.Discount)) {
		t.Errorf("total %s != subtotal+tax-discount", r.Total)
	}
	if !r.PaidAmount.Equal(sumPayments(r.Payments)) {
		t.Errorf("paid %s != sum of payments", r.PaidAmount)
	}
	if !r.PaidAmount.Add(r.PendingAmount).Equal(r.Total) {
		t.Errorf("paid %s + pending %s != total %s", r.PaidAmount, r.PendingAmount, r.Total)
	}
	if r.PendingAmount.IsNegative() || r.Total.IsNegative() {
		t.Errorf("negative amounts: total %s pending %s", r.Total, r.PendingAmount)
	}
	for i := 1; i < len(r.StatusHistory); i++ {
		if r.StatusHistory[i].PerformedAt.Before(r.StatusHistory[i-1].PerformedAt) {
			t.Errorf("history entry %d goes back in time", i)
		}
	}
	if r.IsDeleted != (r.Status == StatusDeleted) {
		t.Errorf("is_deleted %v inconsistent with status %s", r.IsDeleted, r.Status)
	}
}
