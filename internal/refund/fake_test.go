package refund

import (
	"context"
	"errors"
	"sync"

	"ComandaPay/internal/models"
	"ComandaPay/internal/provider"
	"ComandaPay/internal/store"
)

type memStore struct {
	mu            sync.Mutex
	requests      map[string]*models.RefundRequest
	orders        map[string]*models.Order
	creds         map[string]*models.Credential
	subRefunded   []string
	audits        []*models.AuditEntry
	applyOrderErr error
	createErr     error
}

func newMemStore() *memStore {
	return &memStore{
		requests: map[string]*models.RefundRequest{},
		orders:   map[string]*models.Order{},
		creds:    map[string]*models.Credential{},
	}
}

func (m *memStore) request(id string) models.RefundRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.requests[id]
}

func (m *memStore) order(id string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memStore) GetRefundRequest(_ context.Context, id string) (*models.RefundRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) TransitionRefund(_ context.Context, id string, from, to models.RefundStatus, u store.RefundUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	if u.ReviewedBy != nil {
		r.ReviewedBy = u.ReviewedBy
	}
	if u.ReviewedAt != nil {
		r.ReviewedAt = u.ReviewedAt
	}
	if u.RejectionReason != nil {
		r.RejectionReason = u.RejectionReason
	}
	if u.RefundID != nil {
		r.RefundID = u.RefundID
	}
	if u.ErrorMessage != nil {
		r.ErrorMessage = u.ErrorMessage
	}
	if u.ProcessedAt != nil {
		r.ProcessedAt = u.ProcessedAt
	}
	return true, nil
}

func (m *memStore) GetCredential(_ context.Context, companyID string, kind models.Provider) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[companyID+"/"+string(kind)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ApplyOrderRefund(_ context.Context, orderID string, status models.OrderPaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyOrderErr != nil {
		return m.applyOrderErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.PaymentStatus = status
	o.Status = models.OrderStatusCancelled
	return nil
}

func (m *memStore) MarkSubscriptionPaymentRefunded(_ context.Context, _, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subRefunded = append(m.subRefunded, reference)
	return nil
}

func (m *memStore) InsertAuditEntry(_ context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

func (m *memStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) CreateRefundRequest(_ context.Context, r *models.RefundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *memStore) HasBlockingRefund(_ context.Context, companyID, paymentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.CompanyID != companyID || r.PaymentID != paymentID {
			continue
		}
		switch r.Status {
		case models.RefundStatusPending, models.RefundStatusProcessing, models.RefundStatusCompleted:
			return true, nil
		}
	}
	return false, nil
}

type ownerNote struct {
	CompanyID, Type, Message string
}

type fakeNotifier struct {
	mu         sync.Mutex
	owner      []ownerNote
	receipts   []string
	receiptErr error
}

func (f *fakeNotifier) NotifyOwner(_ context.Context, companyID, typ, _, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = append(f.owner, ownerNote{companyID, typ, message})
	return nil
}

func (f *fakeNotifier) SendRefundReceipt(_ context.Context, r *models.RefundRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, r.ID)
	return f.receiptErr
}

type fakeClient struct {
	kind    models.Provider
	mu      sync.Mutex
	calls   []provider.RefundParams
	tokens  []models.Credential
	result  provider.RefundResult
	err     error
	authErr error
}

func (f *fakeClient) Kind() models.Provider { return f.kind }

func (f *fakeClient) Authenticate(_ context.Context, cred models.Credential) (provider.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, cred)
	if f.authErr != nil {
		return "", f.authErr
	}
	return provider.Token(cred.AccessToken + cred.ClientID), nil
}

func (f *fakeClient) GetPaymentStatus(context.Context, provider.Token, string) (provider.RawStatus, error) {
	return provider.RawStatus{}, errors.New("not used")
}

func (f *fakeClient) IssueRefund(_ context.Context, _ provider.Token, p provider.RefundParams) (provider.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return f.result, f.err
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
