package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"ComandaPay/internal/models"
	"ComandaPay/internal/reconcile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	candidates []*models.PendingPayment
	stuck      []*models.PendingPayment
	listErr    error

	after, before, stuckBefore time.Time
	limit                      int
}

func (f *fakeStore) ListSweepCandidates(ctx context.Context, createdAfter, createdBefore time.Time, limit int) ([]*models.PendingPayment, error) {
	f.after, f.before, f.limit = createdAfter, createdBefore, limit
	return f.candidates, f.listErr
}

func (f *fakeStore) ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.PendingPayment, error) {
	f.stuckBefore = updatedBefore
	return f.stuck, nil
}

type fakeReconciler struct {
	results map[string]reconcile.Result
	errs    map[string]error
	inputs  []reconcile.Input
}

func (f *fakeReconciler) Reconcile(ctx context.Context, in reconcile.Input) (reconcile.Result, error) {
	f.inputs = append(f.inputs, in)
	if err := f.errs[in.PendingID]; err != nil {
		return reconcile.Result{}, err
	}
	return f.results[in.PendingID], nil
}

func newWorker(st *fakeStore, rec *fakeReconciler) *Worker {
	return &Worker{
		Store:      st,
		Reconciler: rec,
		Log:        zap.NewNop(),
		Interval:   time.Minute,
		MinAge:     2 * time.Minute,
		MaxAge:     24 * time.Hour,
		StuckAfter: 15 * time.Minute,
		BatchSize:  50,
		Now:        func() time.Time { return now },
	}
}

func TestSyncOnceReconcilesCandidates(t *testing.T) {
	st := &fakeStore{
		candidates: []*models.PendingPayment{
			{ID: "p-1", CompanyID: "c-1", ProviderReference: "111"},
			{ID: "p-2", CompanyID: "c-1", ProviderReference: "picpay_222"},
			{ID: "p-3", CompanyID: "c-2"},
			{ID: "p-4", CompanyID: "c-2"},
		},
		stuck: []*models.PendingPayment{{ID: "p-9", CompanyID: "c-3", Status: models.PendingStatusProcessing}},
	}
	rec := &fakeReconciler{
		results: map[string]reconcile.Result{
			"p-1": {Approved: true, OrderID: "o-1", Status: "approved", Done: true},
			"p-2": {Status: "expired", Done: true},
			"p-3": {Status: "pending"},
		},
		errs: map[string]error{"p-4": errors.New("boom")},
	}
	w := newWorker(st, rec)

	stats, err := w.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Checked: 4, Approved: 1, Cancelled: 1, Failed: 1, Stuck: 1}, stats)

	assert.Equal(t, now.Add(-24*time.Hour), st.after)
	assert.Equal(t, now.Add(-2*time.Minute), st.before)
	assert.Equal(t, now.Add(-15*time.Minute), st.stuckBefore)
	assert.Equal(t, 50, st.limit)

	require.Len(t, rec.inputs, 4)
	assert.Equal(t, reconcile.Input{PendingID: "p-2", CompanyID: "c-1", ProviderReference: "picpay_222"}, rec.inputs[1])
}

func TestSyncOnceListError(t *testing.T) {
	st := &fakeStore{listErr: errors.New("db down")}
	rec := &fakeReconciler{}
	_, err := newWorker(st, rec).SyncOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, rec.inputs)
}

func TestSyncOnceStopsOnCancel(t *testing.T) {
	st := &fakeStore{candidates: []*models.PendingPayment{{ID: "p-1", CompanyID: "c-1"}}}
	rec := &fakeReconciler{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newWorker(st, rec).SyncOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.inputs)
}

func TestDefaultBatchSize(t *testing.T) {
	st := &fakeStore{}
	w := newWorker(st, &fakeReconciler{})
	w.BatchSize = 0
	_, err := w.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, st.limit)
}
