package billing

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/Br4ndonP0nce/clinic-crm-sub000/internal/platform/apperr"
)

// OverdueActor is recorded as the performer of automatic overdue marking.
const OverdueActor = "system:overdue-reconciler"

// MarkOverdue moves completed or partially paid reports whose due date has
// passed into overdue. Reports that changed since they were listed are
// skipped. It returns how many reports were marked.
func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	candidates, err := s.reports.ListOverdueCandidates(ctx, asOf, batchSize)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, c := range candidates {
		_, err := s.mutate(ctx, "mark overdue", c.ID, OverdueActor, func(ctx context.Context, r *BillingReport, now time.Time) error {
			if !overdueAt(r, asOf) {
				return errNotOverdue
			}
			return transition(r, StatusOverdue, now, historyEntry{
				action:  ActionMarkedOverdue,
				actor:   OverdueActor,
				details: "due " + r.DueDate.UTC().Format("2006-01-02"),
			})
		})
		switch {
		case err == nil:
			marked++
		case errors.Is(err, errNotOverdue), apperr.IsNotFound(err):
		default:
			return marked, err
		}
	}
	return marked, nil
}

var errNotOverdue = apperr.InvalidStatef("report is no longer overdue")

func overdueAt(r *BillingReport, asOf time.Time) bool {
	if r.Status != StatusCompleted && r.Status != StatusPartiallyPaid {
		return false
	}
	return r.DueDate != nil && r.DueDate.Before(asOf) && r.PendingAmount.IsPositive()
}

// ScopeFunc prepares a context for background work, typically binding a
// clinic connection. The returned release func is always called.
type ScopeFunc func(ctx context.Context) (context.Context, func(), error)

// OverdueReconciler periodically runs MarkOverdue.
type OverdueReconciler struct {
	svc       *Service
	scope     ScopeFunc
	logger    zerolog.Logger
	Interval  time.Duration
	BatchSize int
}

func NewOverdueReconciler(svc *Service, scope ScopeFunc, logger zerolog.Logger) *OverdueReconciler {
	return &OverdueReconciler{
		svc:       svc,
		scope:     scope,
		logger:    logger.With().Str("component", "overdue-reconciler").Logger(),
		Interval:  time.Hour,
		BatchSize: 100,
	}
}

// RunOnce marks every overdue report as of now, batch by batch.
func (o *OverdueReconciler) RunOnce(ctx context.Context) (int, error) {
	if o.scope != nil {
		scoped, release, err := o.scope(ctx)
		if err != nil {
			return 0, err
		}
		defer release()
		ctx = scoped
	}
	asOf := o.svc.clock.Now()
	total := 0
	for {
		n, err := o.svc.MarkOverdue(ctx, asOf, o.BatchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < o.BatchSize {
			return total, nil
		}
	}
}

// Start runs the reconciler until ctx is cancelled.
func (o *OverdueReconciler) Start(ctx context.Context) {
	o.tick(ctx)
	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *OverdueReconciler) tick(ctx context.Context) {
	n, err := o.RunOnce(ctx)
	if err != nil {
		o.logger.Error().Err(err).Int("marked", n).Msg("overdue reconciliation failed")
		return
	}
	if n > 0 {
		o.logger.Info().Int("marked", n).Msg("reports marked overdue")
	}
}
