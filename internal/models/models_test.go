package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProviderFromReference(t *testing.T) {
	p, ref := ProviderFromReference("picpay_abc-123")
	assert.Equal(t, ProviderPicPay, p)
	assert.Equal(t, "abc-123", ref)

	p, ref = ProviderFromReference("1234567")
	assert.Equal(t, ProviderMercadoPago, p)
	assert.Equal(t, "1234567", ref)
}

func TestRefundRequestEffectiveKind(t *testing.T) {
	tests := []struct {
		name string
		req  RefundRequest
		want RefundKind
	}{
		{name: "explicit order wins over name", req: RefundRequest{Kind: RefundKindOrder, CustomerName: "Subscription - Ana"}, want: RefundKindOrder},
		{name: "explicit subscription", req: RefundRequest{Kind: RefundKindSubscription, CustomerName: "Ana"}, want: RefundKindSubscription},
		{name: "legacy prefix", req: RefundRequest{CustomerName: "Subscription - Plano Pro"}, want: RefundKindSubscription},
		{name: "legacy plain", req: RefundRequest{CustomerName: "Ana"}, want: RefundKindOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.EffectiveKind())
		})
	}
}

func TestRefundRequestEffectiveProvider(t *testing.T) {
	r := RefundRequest{Provider: ProviderPicPay, PaymentID: "picpay_link-1"}
	p, ref := r.EffectiveProvider()
	assert.Equal(t, ProviderPicPay, p)
	assert.Equal(t, "link-1", ref)

	legacy := RefundRequest{PaymentID: "picpay_link-2"}
	p, ref = legacy.EffectiveProvider()
	assert.Equal(t, ProviderPicPay, p)
	assert.Equal(t, "link-2", ref)
}

func TestRefundRequestIsFull(t *testing.T) {
	r := RefundRequest{RequestedAmount: decimal.NewFromInt(40), OriginalAmount: decimal.NewFromInt(100)}
	assert.False(t, r.IsFull())
	r.RequestedAmount = decimal.NewFromInt(100)
	assert.True(t, r.IsFull())
}
