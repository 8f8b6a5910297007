package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ComandaPay/internal/models"
	"ComandaPay/internal/provider"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func anaPayload() models.OrderPayload {
	return models.OrderPayload{
		CustomerName: "Ana",
		Items: []models.PayloadItem{{
			ProductID:  "p1",
			Quantity:   2,
			UnitPrice:  decimal.NewFromInt(10),
			TotalPrice: decimal.NewFromInt(20),
		}},
		Subtotal:    decimal.NewFromInt(20),
		DeliveryFee: decimal.NewFromInt(5),
		Total:       decimal.NewFromInt(25),
	}
}

func newEngine(st *memStore, clients ...provider.Client) Engine {
	return Engine{
		Store:             st,
		Providers:         provider.NewRegistry(clients...),
		PrepWindow:        40 * time.Minute,
		ClaimWait:         5 * time.Millisecond,
		ClaimWaitAttempts: 100,
		Now:               func() time.Time { return fixedNow },
	}
}

func seed(st *memStore, kind models.Provider) {
	st.addCredential(models.Credential{CompanyID: "c1", Provider: kind, AccessToken: "secret", ClientID: "id", ClientSecret: "s"})
	st.addPending(models.PendingPayment{
		ID:                "pend-1",
		CompanyID:         "c1",
		Provider:          kind,
		Status:            models.PendingStatusPending,
		ProviderReference: "ref-1",
		OrderPayload:      anaPayload(),
	})
}

func TestReconcileMaterializesOrder(t *testing.T) {
	st := newMemStore()
	seed(st, models.ProviderMercadoPago)
	client := &fakeClient{kind: models.ProviderMercadoPago, status: "paid"}
	eng := newEngine(st, client)

	res, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "c1"})
	require.NoError(t, err)
	require.True(t, res.Approved)
	require.NotEmpty(t, res.OrderID)
	assert.True(t, res.Done)

	p, err := st.GetPendingPayment(context.Background(), "pend-1")
	require.NoError(t, err)
	assert.Equal(t, models.PendingStatusCompleted, p.Status)
	require.NotNil(t, p.OrderID)
	assert.Equal(t, res.OrderID, *p.OrderID)
	require.NotNil(t, p.CompletedAt)

	order := st.orders[res.OrderID]
	require.NotNil(t, order)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, models.ProviderMercadoPago, order.PaymentProvider)
	assert.Equal(t, "ref-1", order.PaymentReference)
	assert.Equal(t, "Ana", order.CustomerName)
	assert.Equal(t, fixedNow.Add(40*time.Minute), order.EstimatedDeliveryTime)

	items := st.items[res.OrderID]
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
	assert.True(t, items[0].TotalPrice.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, res.OrderID, items[0].OrderID)
}

func TestReconcileIsIdempotent(t *testing.T) {
	st := newMemStore()
	seed(st, models.ProviderMercadoPago)
	client := &fakeClient{kind: models.ProviderMercadoPago, status: "approved"}
	eng := newEngine(st, client)
	in := Input{PendingID: "pend-1", CompanyID: "c1"}

	first, err := eng.Reconcile(context.Background(), in)
	require.NoError(t, err)
	second, err := eng.Reconcile(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, second.Approved)
	assert.Equal(t, 1, st.orderCount())
	assert.Equal(t, int32(1), client.lookups.Load(), "completed rows must not hit the provider")
}

func TestReconcileConcurrentClaim(t *testing.T) {
	st := newMemStore()
	seed(st, models.ProviderMercadoPago)
	client := &fakeClient{kind: models.ProviderMercadoPago, status: "paid", gate: make(chan struct{})}
	eng := newEngine(st, client)
	in := Input{PendingID: "pend-1", CompanyID: "c1"}

	var wg sync.WaitGroup
	results := make([]Result, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = eng.Reconcile(context.Background(), in)
		}(i)
	}
	require.Eventually(t, func() bool { return client.lookups.Load() == 2 }, time.Second, time.Millisecond)
	close(client.gate)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Approved)
	}
	assert.Equal(t, results[0].OrderID, results[1].OrderID)
	assert.Equal(t, 1, st.orderCount())
}

func TestReconcilePicPayPrefixesReference(t *testing.T) {
	st := newMemStore()
	seed(st, models.ProviderPicPay)
	eng := newEngine(st, &fakeClient{kind: models.ProviderPicPay, status: "PAID "})

	res, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "c1"})
	require.NoError(t, err)
	require.True(t, res.Approved)
	order := st.orders[res.OrderID]
	assert.Equal(t, "picpay_ref-1", order.PaymentReference)
	assert.Equal(t, models.ProviderPicPay, order.PaymentProvider)
}

func TestReconcileLegacyPrefixedReference(t *testing.T) {
	st := newMemStore()
	st.addCredential(models.Credential{CompanyID: "c1", Provider: models.ProviderPicPay, ClientID: "id", ClientSecret: "s"})
	st.addPending(models.PendingPayment{
		ID: "pend-1", CompanyID: "c1", Status: models.PendingStatusPending,
		ProviderReference: "picpay_link-9", OrderPayload: anaPayload(),
	})
	client := &fakeClient{kind: models.ProviderPicPay, status: "completed"}
	eng := newEngine(st, client)

	res, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "c1"})
	require.NoError(t, err)
	require.True(t, res.Approved)
	assert.Equal(t, "picpay_link-9", st.orders[res.OrderID].PaymentReference)
}

func TestReconcileNonApprovedOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		status   string
		wantStat string
		wantDone bool
	}{
		{"pending", "in_process", "pending", false},
		{"unknown", "foobar", "pending", false},
		{"cancelled is only reported", "Expired", "expired", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMemStore()
			seed(st, models.ProviderMercadoPago)
			eng := newEngine(st, &fakeClient{kind: models.ProviderMercadoPago, status: tc.status})

			res, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "c1"})
			require.NoError(t, err)
			assert.False(t, res.Approved)
			assert.Equal(t, tc.wantStat, res.Status)
			assert.Equal(t, tc.wantDone, res.Done)
			assert.Equal(t, models.PendingStatusPending, st.pendingStatus("pend-1"))
		})
	}
}

func TestReconcileShortCircuits(t *testing.T) {
	st := newMemStore()
	orderID := "order-7"
	st.addPending(models.PendingPayment{ID: "done", CompanyID: "c1", Status: models.PendingStatusCompleted, OrderID: &orderID})
	st.addPending(models.PendingPayment{ID: "gone", CompanyID: "c1", Status: models.PendingStatusCancelled})
	client := &fakeClient{kind: models.ProviderMercadoPago, status: "paid"}
	eng := newEngine(st, client)

	res, err := eng.Reconcile(context.Background(), Input{PendingID: "done", CompanyID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, Result{Approved: true, OrderID: "order-7", Status: "completed", Done: true}, res)

	res, err = eng.Reconcile(context.Background(), Input{PendingID: "gone", CompanyID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, Result{Status: "cancelled", Done: true}, res)

	assert.Zero(t, client.lookups.Load())
}

func TestReconcileScopesToCompany(t *testing.T) {
	st := newMemStore()
	seed(st, models.ProviderMercadoPago)
	eng := newEngine(st, &fakeClient{kind: models.ProviderMercadoPago, status: "paid"})

	_, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "other"})
	assert.ErrorIs(t, err, ErrPendingNotFound)

	_, err = eng.Reconcile(context.Background(), Input{PendingID: "missing", CompanyID: "c1"})
	assert.ErrorIs(t, err, ErrPendingNotFound)

	_, err = eng.Reconcile(context.Background(), Input{CompanyID: "c1"})
	assert.ErrorIs(t, err, ErrMissingPendingID)
}

func TestReconcileMissingCredentialIsPending(t *testing.T) {
	st := newMemStore()
	seed(st, models.ProviderMercadoPago)
	client := &fakeClient{kind: models.ProviderMercadoPago, status: "paid"}
	eng := newEngine(st, client)

	res, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "c1"})
	require.NoError(t, err)
	require.True(t, res.Approved)

	st.addPending(models.PendingPayment{ID: "pend-2", CompanyID: "c2", Provider: models.ProviderMercadoPago, Status: models.PendingStatusPending})
	res, err = eng.Reconcile(context.Background(), Input{PendingID: "pend-2", CompanyID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, Result{Status: "pending"}, res)
}

func TestReconcileAuthErrorPropagates(t *testing.T) {
	st := newMemStore()
	seed(st, models.ProviderPicPay)
	authErr := &provider.AuthError{Provider: models.ProviderPicPay, StatusCode: 401, Message: "invalid_client"}
	eng := newEngine(st, &fakeClient{kind: models.ProviderPicPay, authErr: authErr})

	_, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "c1"})
	var got *provider.AuthError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 401, got.StatusCode)
	assert.Equal(t, models.PendingStatusPending, st.pendingStatus("pend-1"))
}

func TestReconcileProviderErrorIsPending(t *testing.T) {
	st := newMemStore()
	seed(st, models.ProviderMercadoPago)
	eng := newEngine(st, &fakeClient{kind: models.ProviderMercadoPago, statusErr: provider.ErrPaymentNotFound})

	res, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, Result{Status: "pending"}, res)
}

func TestReconcileMaterializationFailureLeavesProcessing(t *testing.T) {
	st := newMemStore()
	seed(st, models.ProviderMercadoPago)
	st.completeErr = errors.New("insert order: connection reset")
	eng := newEngine(st, &fakeClient{kind: models.ProviderMercadoPago, status: "paid"})

	_, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "c1"})
	require.ErrorIs(t, err, ErrMaterializationFailed)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, models.PendingStatusProcessing, st.pendingStatus("pend-1"))
	assert.Zero(t, st.orderCount())

	// A later attempt must not re-claim the stuck row.
	st.completeErr = nil
	eng.ClaimWaitAttempts = 2
	res, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, Result{Status: "processing"}, res)
	assert.Zero(t, st.orderCount())
}

func TestLineTotalUsesUnitPrice(t *testing.T) {
	it := models.PayloadItem{Quantity: 3, UnitPrice: decimal.RequireFromString("4.50"), TotalPrice: decimal.NewFromInt(1)}
	assert.Equal(t, "13.5", lineTotal(it).String())

	it = models.PayloadItem{Quantity: 3, TotalPrice: decimal.NewFromInt(9)}
	assert.Equal(t, "9", lineTotal(it).String())
}

func TestReconcileMercadoPagoRetriesByPendingID(t *testing.T) {
	var mu sync.Mutex
	var searched []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Query().Get("external_reference")
		mu.Lock()
		searched = append(searched, ref)
		mu.Unlock()
		if r.URL.Path != "/v1/payments/search" || ref != "pend-1" {
			_, _ = w.Write([]byte(`{"results": []}`))
			return
		}
		_, _ = w.Write([]byte(`{"results": [{"id": 555, "status": "approved", "external_reference": "pend-1"}]}`))
	}))
	defer srv.Close()

	st := newMemStore()
	seed(st, models.ProviderMercadoPago)
	st.pending["pend-1"].ProviderReference = "123456-pref-abc"
	eng := newEngine(st)
	eng.Providers = provider.NewRegistry(provider.NewMercadoPago(srv.URL, time.Second))

	res, err := eng.Reconcile(context.Background(), Input{PendingID: "pend-1", CompanyID: "c1"})
	require.NoError(t, err)
	require.True(t, res.Approved)
	assert.Equal(t, "555", st.orders[res.OrderID].PaymentReference)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"123456-pref-abc", "pend-1"}, searched)
}
