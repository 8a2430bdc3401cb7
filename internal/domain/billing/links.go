package billing

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
)

// DuplicateReport creates a new draft for the same appointment from an
// existing report. The source is left untouched.
func (s *Service) DuplicateReport(ctx context.Context, sourceID uuid.UUID, duplicatedBy string, opts DuplicateOptions) (*BillingReport, error) {
	if err := requireActor(duplicatedBy); err != nil {
		return nil, err
	}
	if opts.ReportType != nil && !opts.ReportType.Valid() {
		return nil, apperr.Validationf("unknown report type %q", *opts.ReportType)
	}
	if err := validateStruct(opts); err != nil {
		return nil, err
	}

	var dup *BillingReport
	err := s.atomically(ctx, "duplicate report", func(ctx context.Context) error {
		src, err := s.reports.GetByID(ctx, sourceID)
		if err != nil {
			return err
		}
		if src.IsDeleted {
			return apperr.InvalidStatef("cannot duplicate deleted report %s", src.ID)
		}
		seq, err := s.sequences.NextReportSequence(ctx, src.AppointmentID)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		r := &BillingReport{
			ID:                uuid.New(),
			AppointmentID:     src.AppointmentID,
			PatientID:         src.PatientID,
			DoctorID:          clonePtr(src.DoctorID),
			ReportType:        src.ReportType,
			ReportTitle:       opts.ReportTitle,
			ReportDescription: clonePtr(src.ReportDescription),
			IsPartialReport:   true,
			ReportSequence:    seq,
			ParentReportID:    &src.ID,
			Services:          []BillingService{},
			Payments:          []BillingPayment{},
			Status:            StatusDraft,
			CreatedAt:         now,
			UpdatedAt:         now,
			CreatedBy:         duplicatedBy,
			VersionID:         1,
		}
		if opts.ReportType != nil {
			r.ReportType = *opts.ReportType
		}
		if r.ReportTitle == "" {
			r.ReportTitle = fmt.Sprintf("%s (copy %d)", src.ReportTitle, seq)
		}
		if opts.ReportDescription != nil {
			r.ReportDescription = clonePtr(opts.ReportDescription)
		}
		if opts.IncludeServices {
			r.Services = freshServices(src.Services)
			r.Discount = src.Discount
		}
		if opts.IncludePayments {
			for _, p := range src.Payments {
				p = p.clone()
				p.ID = uuid.NewString()
				r.Payments = append(r.Payments, p)
			}
		}
		if err := recalculate(r, s.settings.TaxRate); err != nil {
			return err
		}
		if r.PaidAmount.GreaterThan(r.Total) {
			return apperr.WithHint(
				apperr.Validationf("copied payments %s exceed the duplicate's total %s",
					r.PaidAmount.StringFixed(moneyPlaces), r.Total.StringFixed(moneyPlaces)),
				"include services when copying payments")
		}
		details := fmt.Sprintf("duplicated from report %d (%s)", src.ReportSequence, src.ID)
		if opts.Notes != "" {
			details += ": " + opts.Notes
		}
		r.StatusHistory = []BillingStatusHistory{{
			Action:      ActionDuplicated,
			NewStatus:   StatusDraft,
			PerformedBy: duplicatedBy,
			PerformedAt: now,
			Details:     details,
		}}
		r.LastModifiedBy = duplicatedBy
		if err := s.reports.Create(ctx, r); err != nil {
			return err
		}
		dup = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("report_id", dup.ID.String()).Str("source_id", sourceID.String()).
		Str("actor", duplicatedBy).Msg("billing report duplicated")
	return dup, nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
}

func clearLink(r *BillingReport) {
	r.LinkID = nil
	r.LinkedReports = nil
	r.LinkType = nil
	r.LinkNotes = nil
	r.LinkedBy = nil
	r.LinkedAt = nil
}

func withoutID(ids []uuid.UUID, drop map[uuid.UUID]bool) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

// detach removes the given members from the link group they currently
// belong to. A group left with a single member is dissolved.
func (s *Service) detach(ctx context.Context, linkID uuid.UUID, members map[uuid.UUID]bool, actor string, now time.Time) error {
	group, err := s.reports.ListByLink(ctx, linkID)
	if err != nil {
		return err
	}
	var remaining []*BillingReport
	for _, g := range group {
		if !members[g.ID] {
			remaining = append(remaining, g)
		}
	}
	for _, g := range remaining {
		locked, err := s.reports.GetForUpdate(ctx, g.ID)
		if err != nil {
			return err
		}
		if len(remaining) < 2 {
			clearLink(locked)
		} else {
			locked.LinkedReports = withoutID(locked.LinkedReports, members)
		}
		record(locked, nil, now, historyEntry{action: ActionUnlinked, actor: actor, details: "link group changed"})
		locked.UpdatedAt = now
		if err := s.reports.Update(ctx, locked); err != nil {
			return err
		}
	}
	return nil
}

// LinkReports joins the given reports into one symmetric link group.
// Reports already linked elsewhere leave their previous group.
func (s *Service) LinkReports(ctx context.Context, ids []uuid.UUID, linkType LinkType, linkedBy, notes string) ([]*BillingReport, error) {
	if err := requireActor(linkedBy); err != nil {
		return nil, err
	}
	if !linkType.Valid() {
		return nil, apperr.Validationf("unknown link type %q", linkType)
	}
	set := make(map[uuid.UUID]bool, len(ids))
	var unique []uuid.UUID
	for _, id := range ids {
		if !set[id] {
			set[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) < 2 {
		return nil, apperr.Validationf("linking requires at least two distinct reports")
	}
	sortIDs(unique)

	var linked []*BillingReport
	err := s.atomically(ctx, "link reports", func(ctx context.Context) error {
		linked = linked[:0]
		now := s.clock.Now()
		members := make([]*BillingReport, 0, len(unique))
		oldGroups := map[uuid.UUID]bool{}
		for _, id := range unique {
			r, err := s.reports.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if r.IsDeleted {
				return apperr.InvalidStatef("cannot link deleted report %s", r.ID)
			}
			if r.LinkID != nil {
				oldGroups[*r.LinkID] = true
			}
			members = append(members, r)
		}
		for linkID := range oldGroups {
			if err := s.detach(ctx, linkID, set, linkedBy, now); err != nil {
				return err
			}
		}

		linkID := uuid.New()
		lt := linkType
		for _, cur := range members {
			others := withoutID(unique, map[uuid.UUID]bool{cur.ID: true})
			cur.LinkID = &linkID
			cur.LinkedReports = others
			cur.LinkType = &lt
			cur.LinkNotes = nil
			if notes != "" {
				n := notes
				cur.LinkNotes = &n
			}
			by := linkedBy
			cur.LinkedBy = &by
			at := now
			cur.LinkedAt = &at
			cur.UpdatedAt = now
			record(cur, nil, now, historyEntry{
				action:  ActionLinked,
				actor:   linkedBy,
				details: fmt.Sprintf("%s link with %d reports", linkType, len(others)),
			})
			if err := s.reports.Update(ctx, cur); err != nil {
				return err
			}
			linked = append(linked, cur)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Int("count", len(linked)).Str("link_type", string(linkType)).
		Str("actor", linkedBy).Msg("billing reports linked")
	return linked, nil
}

// UnlinkReport removes one report from its link group.
func (s *Service) UnlinkReport(ctx context.Context, id uuid.UUID, unlinkedBy string) (*BillingReport, error) {
	if err := requireActor(unlinkedBy); err != nil {
		return nil, err
	}
	var out *BillingReport
	err := s.atomically(ctx, "unlink report", func(ctx context.Context) error {
		r, err := s.reports.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if r.LinkID == nil {
			return apperr.InvalidStatef("report %s is not linked", r.ID)
		}
		now := s.clock.Now()
		if err := s.detach(ctx, *r.LinkID, map[uuid.UUID]bool{r.ID: true}, unlinkedBy, now); err != nil {
			return err
		}
		clearLink(r)
		r.UpdatedAt = now
		record(r, nil, now, historyEntry{action: ActionUnlinked, actor: unlinkedBy})
		if err := s.reports.Update(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// GetAppointmentBillingSummary aggregates the appointment's non-deleted
// reports.
func (s *Service) GetAppointmentBillingSummary(ctx context.Context, appointmentID uuid.UUID) (*AppointmentBillingSummary, error) {
	all, err := s.reports.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	sum := &AppointmentBillingSummary{
		AppointmentID: appointmentID,
		TotalAmount:   decimal.Zero,
		TotalPaid:     decimal.Zero,
		TotalPending:  decimal.Zero,
		ReportTypes:   []ReportType{},
		Reports:       []*BillingReport{},
	}
	seen := map[ReportType]bool{}
	for _, r := range all {
		if r.IsDeleted {
			continue
		}
		sum.Reports = append(sum.Reports, r)
		sum.TotalAmount = sum.TotalAmount.Add(r.Total)
		sum.TotalPaid = sum.TotalPaid.Add(r.PaidAmount)
		sum.TotalPending = sum.TotalPending.Add(r.PendingAmount)
		switch r.Status {
		case StatusDraft:
			sum.HasDraftReports = true
		case StatusCompleted, StatusPartiallyPaid, StatusPaid, StatusOverdue:
			sum.HasCompletedReports = true
		}
		if !seen[r.ReportType] {
			seen[r.ReportType] = true
			sum.ReportTypes = append(sum.ReportTypes, r.ReportType)
		}
	}
	sum.ReportCount = len(sum.Reports)
	sort.Slice(sum.ReportTypes, func(i, j int) bool { return sum.ReportTypes[i] < sum.ReportTypes[j] })
	return sum, nil
}
