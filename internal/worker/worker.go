package worker

import (
	"context"
	"time"

	"ComandaPay/internal/models"
	"ComandaPay/internal/reconcile"

	"go.uber.org/zap"
)

type Store interface {
	ListSweepCandidates(ctx context.Context, createdAfter, createdBefore time.Time, limit int) ([]*models.PendingPayment, error)
	ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.PendingPayment, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, in reconcile.Input) (reconcile.Result, error)
}

// Worker re-runs reconciliation for pending payments nobody is polling
// anymore: closed browsers and lost webhooks.
type Worker struct {
	Store      Store
	Reconciler Reconciler
	Log        *zap.Logger

	Interval   time.Duration
	MinAge     time.Duration
	MaxAge     time.Duration
	StuckAfter time.Duration
	BatchSize  int

	Now func() time.Time
}

type Stats struct {
	Checked   int
	Approved  int
	Cancelled int
	Failed    int
	Stuck     int
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		stats, err := w.SyncOnce(ctx)
		if err != nil {
			w.Log.Error("sweep error", zap.Error(err))
		} else if stats.Checked > 0 || stats.Stuck > 0 {
			w.Log.Info("sweep done",
				zap.Int("checked", stats.Checked),
				zap.Int("approved", stats.Approved),
				zap.Int("cancelled", stats.Cancelled),
				zap.Int("failed", stats.Failed),
				zap.Int("stuck", stats.Stuck),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce runs one sweep. Per-row reconcile errors are counted, not returned.
func (w *Worker) SyncOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	now := w.now()

	candidates, err := w.Store.ListSweepCandidates(ctx, now.Add(-w.MaxAge), now.Add(-w.MinAge), w.limit())
	if err != nil {
		return stats, err
	}
	for _, p := range candidates {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Checked++
		res, err := w.Reconciler.Reconcile(ctx, reconcile.Input{
			PendingID:         p.ID,
			CompanyID:         p.CompanyID,
			ProviderReference: p.ProviderReference,
		})
		if err != nil {
			stats.Failed++
			w.Log.Warn("sweep reconcile failed",
				zap.String("pending_id", p.ID),
				zap.String("company_id", p.CompanyID),
				zap.Error(err),
			)
			continue
		}
		switch {
		case res.Approved:
			stats.Approved++
		case res.Done:
			stats.Cancelled++
		}
	}

	stuck, err := w.Stuck(ctx)
	if err != nil {
		return stats, err
	}
	stats.Stuck = len(stuck)
	for _, p := range stuck {
		w.Log.Warn("pending payment stuck in processing",
			zap.String("pending_id", p.ID),
			zap.String("company_id", p.CompanyID),
			zap.String("provider", string(p.Provider)),
			zap.Time("updated_at", p.UpdatedAt),
		)
	}
	return stats, nil
}

// Stuck lists claimed rows whose materialization never finished.
func (w *Worker) Stuck(ctx context.Context) ([]*models.PendingPayment, error) {
	return w.Store.ListStuckProcessing(ctx, w.now().Add(-w.StuckAfter), w.limit())
}

func (w *Worker) limit() int {
	if w.BatchSize <= 0 {
		return 100
	}
	return w.BatchSize
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}
