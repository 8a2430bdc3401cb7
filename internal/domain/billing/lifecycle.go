package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
)

// priorStatus finds the status a report held before it entered the given
// holding status, preferring the recorded field over the history.
func priorStatus(r *BillingReport, recorded *ReportStatus, holding ReportStatus) ReportStatus {
	if recorded != nil && *recorded != holding {
		return *recorded
	}
	for i := len(r.StatusHistory) - 1; i >= 0; i-- {
		h := r.StatusHistory[i]
		if h.NewStatus == holding && h.PreviousStatus != nil && *h.PreviousStatus != holding {
			return *h.PreviousStatus
		}
	}
	return StatusDraft
}

// ArchiveReport moves a report out of the active lists.
func (s *Service) ArchiveReport(ctx context.Context, id uuid.UUID, archivedBy string, reason *string) (*BillingReport, error) {
	return s.mutate(ctx, "archive report", id, archivedBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if r.Status == StatusArchived || r.Status == StatusDeleted {
			return apperr.InvalidStatef("cannot archive report %s in status %s", r.ID, r.Status)
		}
		from := r.Status
		r.ArchivedFromStatus = &from
		at := now
		r.ArchivedAt = &at
		by := archivedBy
		r.ArchivedBy = &by
		r.ArchiveReason = clonePtr(reason)
		e := historyEntry{action: ActionArchived, actor: archivedBy}
		if reason != nil {
			e.details = *reason
		}
		return transition(r, StatusArchived, now, e)
	})
}

// UnarchiveReport returns an archived report to the status it was archived
// from.
func (s *Service) UnarchiveReport(ctx context.Context, id uuid.UUID, unarchivedBy string) (*BillingReport, error) {
	return s.mutate(ctx, "unarchive report", id, unarchivedBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if err := requireStatus(r, "unarchive", StatusArchived); err != nil {
			return err
		}
		to := priorStatus(r, r.ArchivedFromStatus, StatusArchived)
		r.ArchivedAt = nil
		r.ArchivedBy = nil
		r.ArchiveReason = nil
		r.ArchivedFromStatus = nil
		return transition(r, to, now, historyEntry{action: ActionUnarchived, actor: unarchivedBy})
	})
}

// SoftDelete hides a report while keeping it restorable.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID, deletedBy string, reason *string) (*BillingReport, error) {
	return s.mutate(ctx, "delete report", id, deletedBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if r.Status == StatusDeleted {
			return apperr.InvalidStatef("report %s is already deleted", r.ID)
		}
		from := r.Status
		r.DeletedFromStatus = &from
		r.IsDeleted = true
		at := now
		r.DeletedAt = &at
		by := deletedBy
		r.DeletedBy = &by
		r.DeleteReason = clonePtr(reason)
		e := historyEntry{action: ActionDeleted, actor: deletedBy}
		if reason != nil {
			e.details = *reason
		}
		return transition(r, StatusDeleted, now, e)
	})
}

// RestoreReport undoes a soft delete.
func (s *Service) RestoreReport(ctx context.Context, id uuid.UUID, restoredBy string) (*BillingReport, error) {
	return s.mutate(ctx, "restore report", id, restoredBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if err := requireStatus(r, "restore", StatusDeleted); err != nil {
			return err
		}
		to := priorStatus(r, r.DeletedFromStatus, StatusDeleted)
		r.IsDeleted = false
		r.DeletedAt = nil
		r.DeletedBy = nil
		r.DeleteReason = nil
		r.DeletedFromStatus = nil
		return transition(r, to, now, historyEntry{action: ActionRestored, actor: restoredBy})
	})
}

// CancelReport voids a report that has not received any payment.
func (s *Service) CancelReport(ctx context.Context, id uuid.UUID, cancelledBy, reason string) (*BillingReport, error) {
	return s.mutate(ctx, "cancel report", id, cancelledBy, func(ctx context.Context, r *BillingReport, now time.Time) error {
		if err := requireStatus(r, "cancel", StatusDraft, StatusCompleted, StatusOverdue); err != nil {
			return err
		}
		if r.PaidAmount.IsPositive() {
			return apperr.WithHint(
				apperr.InvalidStatef("report %s has recorded payments", r.ID),
				"void the payments before cancelling")
		}
		return transition(r, StatusCancelled, now, historyEntry{action: ActionCancelled, actor: cancelledBy, details: reason})
	})
}

// HardDelete permanently removes a draft or soft-deleted report. confirm
// must be true. Link partners are detached in the same transaction.
func (s *Service) HardDelete(ctx context.Context, id uuid.UUID, deletedBy string, confirm bool) error {
	if err := requireActor(deletedBy); err != nil {
		return err
	}
	if !confirm {
		return apperr.WithHint(apperr.Validationf("hard delete of report %s was not confirmed", id),
			"pass confirm=true to delete permanently")
	}
	err := s.atomically(ctx, "hard delete report", func(ctx context.Context) error {
		r, err := s.reports.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := requireStatus(r, "permanently delete", StatusDraft, StatusDeleted); err != nil {
			return err
		}
		children, err := s.reports.CountChildren(ctx, id)
		if err != nil {
			return err
		}
		if children > 0 {
			return apperr.InvalidStatef("report %s is the parent of %d reports", id, children)
		}
		if r.LinkID != nil {
			if err := s.detach(ctx, *r.LinkID, map[uuid.UUID]bool{id: true}, deletedBy, s.clock.Now()); err != nil {
				return err
			}
		}
		return s.reports.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.Warn().Str("report_id", id.String()).Str("actor", deletedBy).Msg("billing report permanently deleted")
	return nil
}
