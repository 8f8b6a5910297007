package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ComandaPay/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

type recorder struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (r *recorder) record(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, recordedRequest{
		Method:  req.Method,
		Path:    req.URL.Path,
		Query:   req.URL.RawQuery,
		Headers: req.Header.Clone(),
		Body:    body,
	})
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.reqs...)
}

func TestMercadoPagoAuthenticate(t *testing.T) {
	mp := NewMercadoPago("http://unused", time.Second)

	_, err := mp.Authenticate(context.Background(), models.Credential{AccessToken: "  "})
	require.ErrorIs(t, err, ErrCredentialsMissing)

	tok, err := mp.Authenticate(context.Background(), models.Credential{AccessToken: "APP_USR-1"})
	require.NoError(t, err)
	assert.Equal(t, Token("APP_USR-1"), tok)
}

func TestMercadoPagoGetPaymentStatusByID(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		_, _ = w.Write([]byte(`{"id": 987, "status": "approved", "external_reference": "pend-1"}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(srv.URL, time.Second)
	raw, err := mp.GetPaymentStatus(context.Background(), "tok", "987")
	require.NoError(t, err)

	assert.Equal(t, "approved", raw.Status)
	assert.Equal(t, "987", raw.PaymentID)
	assert.Equal(t, "pend-1", raw.ExternalReference)

	reqs := rec.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/payments/987", reqs[0].Path)
	assert.Equal(t, "Bearer tok", reqs[0].Headers.Get("Authorization"))
}

func TestMercadoPagoGetPaymentStatusByExternalReference(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		_, _ = w.Write([]byte(`{"results": [{"id": 2, "status": "pending"}, {"id": 1, "status": "rejected"}]}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(srv.URL, time.Second)
	raw, err := mp.GetPaymentStatus(context.Background(), "tok", "pend-abc")
	require.NoError(t, err)
	assert.Equal(t, "pending", raw.Status)
	assert.Equal(t, "2", raw.PaymentID)

	reqs := rec.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/payments/search", reqs[0].Path)
	assert.Contains(t, reqs[0].Query, "external_reference=pend-abc")
}

func TestMercadoPagoErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, check: func(t *testing.T, err error) {
			var ae *AuthError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, http.StatusUnauthorized, ae.StatusCode)
		}},
		{name: "not found", status: http.StatusNotFound, check: func(t *testing.T, err error) {
			require.ErrorIs(t, err, ErrPaymentNotFound)
		}},
		{name: "bad request", status: http.StatusBadRequest, check: func(t *testing.T, err error) {
			var re *RejectedError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, "invalid payment", re.Message)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message": "invalid payment"}`))
			}))
			defer srv.Close()

			mp := NewMercadoPago(srv.URL, time.Second)
			_, err := mp.GetPaymentStatus(context.Background(), "tok", "1")
			tt.check(t, err)
		})
	}
}

func TestMercadoPagoPartialRefundSendsAmount(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 5551, "status": "approved"}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(srv.URL, time.Second)
	res, err := mp.IssueRefund(context.Background(), "tok", RefundParams{
		Reference:      "123",
		Amount:         decimal.RequireFromString("40.00"),
		OriginalAmount: decimal.RequireFromString("100.00"),
		IdempotencyKey: "refund-r1-1700000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "5551", res.RefundID)

	reqs := rec.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/v1/payments/123/refunds", reqs[0].Path)
	assert.Equal(t, "refund-r1-1700000000", reqs[0].Headers.Get("Idempotency-Key"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	require.Contains(t, body, "amount")
	assert.InDelta(t, 40.00, body["amount"], 0.0001)
	assert.JSONEq(t, `{"amount": 40.00}`, string(reqs[0].Body))
}

func TestMercadoPagoFullRefundOmitsAmount(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		_, _ = w.Write([]byte(`{"id": 5552, "status": "approved"}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(srv.URL, time.Second)
	_, err := mp.IssueRefund(context.Background(), "tok", RefundParams{
		Reference:      "123",
		Amount:         decimal.RequireFromString("100.00"),
		OriginalAmount: decimal.RequireFromString("100.00"),
		IdempotencyKey: "k",
	})
	require.NoError(t, err)

	reqs := rec.all()
	require.Len(t, reqs, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.NotContains(t, body, "amount")
}

func TestMercadoPagoRefundRequiresIdempotencyKey(t *testing.T) {
	mp := NewMercadoPago("http://unused", time.Second)
	_, err := mp.IssueRefund(context.Background(), "tok", RefundParams{Reference: "1"})
	require.Error(t, err)
}

func TestMercadoPagoRefundRejectedKeepsProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "Payment too old to be refunded", "status": 400}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(srv.URL, time.Second)
	_, err := mp.IssueRefund(context.Background(), "tok", RefundParams{Reference: "1", IdempotencyKey: "k"})
	require.Error(t, err)
	assert.Equal(t, "Payment too old to be refunded", ProviderMessage(err))
	assert.Equal(t, "plain", ProviderMessage(errors.New("plain")))
}
