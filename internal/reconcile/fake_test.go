package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ComandaPay/internal/models"
	"ComandaPay/internal/provider"
	"ComandaPay/internal/store"
)

type memStore struct {
	mu          sync.Mutex
	pending     map[string]*models.PendingPayment
	orders      map[string]*models.Order
	items       map[string][]models.OrderItem
	creds       map[string]*models.Credential
	subs        map[string]*models.SubscriptionPayment
	activations int
	completeErr error
}

func newMemStore() *memStore {
	return &memStore{
		pending: map[string]*models.PendingPayment{},
		orders:  map[string]*models.Order{},
		items:   map[string][]models.OrderItem{},
		creds:   map[string]*models.Credential{},
		subs:    map[string]*models.SubscriptionPayment{},
	}
}

func credKey(companyID string, p models.Provider) string { return companyID + "/" + string(p) }

func (m *memStore) addCredential(c models.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[credKey(c.CompanyID, c.Provider)] = &c
}

func (m *memStore) addPending(p models.PendingPayment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[p.ID] = &p
}

func (m *memStore) pendingStatus(id string) models.PendingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[id].Status
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) GetPendingPayment(_ context.Context, id string) (*models.PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetPendingPaymentByReference(_ context.Context, kind models.Provider, ref string) (*models.PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.Provider == kind && p.ProviderReference == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) transition(id string, from, to models.PendingStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	if !ok || p.Status != from {
		return false
	}
	p.Status = to
	return true
}

func (m *memStore) ClaimPendingPayment(_ context.Context, id string) (bool, error) {
	return m.transition(id, models.PendingStatusPending, models.PendingStatusProcessing), nil
}

func (m *memStore) CancelPendingPayment(_ context.Context, id string) (bool, error) {
	return m.transition(id, models.PendingStatusPending, models.PendingStatusCancelled), nil
}

func (m *memStore) CompletePendingPayment(_ context.Context, id string, order *models.Order, items []models.OrderItem, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	p := m.pending[id]
	if p.Status != models.PendingStatusProcessing {
		return errors.New("row is no longer processing")
	}
	m.orders[order.ID] = order
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	orderID := order.ID
	p.OrderID = &orderID
	p.CompletedAt = &completedAt
	p.Status = models.PendingStatusCompleted
	return nil
}

func (m *memStore) GetCredential(_ context.Context, companyID string, kind models.Provider) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[credKey(companyID, kind)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetSubscriptionPaymentByReference(_ context.Context, companyID, ref string) (*models.SubscriptionPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.subs[ref]
	if !ok || sp.CompanyID != companyID {
		return nil, store.ErrNotFound
	}
	cp := *sp
	return &cp, nil
}

func (m *memStore) ActivateSubscription(_ context.Context, sp *models.SubscriptionPayment, paidAt, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.subs[sp.ProviderReference]
	if cur.Status != models.SubscriptionPaymentPending {
		return false, nil
	}
	cur.Status = models.SubscriptionPaymentPaid
	cur.PaidAt = &paidAt
	m.activations++
	return true, nil
}

// fakeClient answers every lookup with the same status.
type fakeClient struct {
	kind      models.Provider
	status    string
	extRef    string
	authErr   error
	statusErr error
	lookups   atomic.Int32
	// gate, when set, blocks lookups until closed.
	gate chan struct{}
}

func (f *fakeClient) Kind() models.Provider { return f.kind }

func (f *fakeClient) Authenticate(_ context.Context, cred models.Credential) (provider.Token, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	if cred.AccessToken == "" && cred.ClientID == "" {
		return "", provider.ErrCredentialsMissing
	}
	return provider.Token("tok"), nil
}

func (f *fakeClient) GetPaymentStatus(_ context.Context, _ provider.Token, ref string) (provider.RawStatus, error) {
	f.lookups.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.statusErr != nil {
		return provider.RawStatus{}, f.statusErr
	}
	return provider.RawStatus{Status: f.status, Source: "status", PaymentID: ref, ExternalReference: f.extRef}, nil
}

func (f *fakeClient) IssueRefund(context.Context, provider.Token, provider.RefundParams) (provider.RefundResult, error) {
	return provider.RefundResult{}, errors.New("not used")
}
