package provider

import (
	"context"
	"fmt"

	"ComandaPay/internal/models"

	"github.com/shopspring/decimal"
)

// Token is a bearer token ready to be sent to a provider.
type Token string

// RawStatus is what a provider reported, before normalization.
type RawStatus struct {
	Status            string
	Source            string
	PaymentID         string
	ExternalReference string
}

type RefundParams struct {
	Reference      string
	Amount         decimal.Decimal
	OriginalAmount decimal.Decimal
	IdempotencyKey string
}

// Partial reports whether only part of the original charge is refunded.
func (p RefundParams) Partial() bool {
	return p.Amount.IsPositive() && p.Amount.LessThan(p.OriginalAmount)
}

type RefundResult struct {
	RefundID string
	Status   string
}

// Client talks to exactly one payment provider.
type Client interface {
	Kind() models.Provider
	Authenticate(ctx context.Context, cred models.Credential) (Token, error)
	GetPaymentStatus(ctx context.Context, token Token, reference string) (RawStatus, error)
	IssueRefund(ctx context.Context, token Token, params RefundParams) (RefundResult, error)
}

type Registry map[models.Provider]Client

func NewRegistry(clients ...Client) Registry {
	r := make(Registry, len(clients))
	for _, c := range clients {
		r[c.Kind()] = c
	}
	return r
}

func (r Registry) Get(kind models.Provider) (Client, error) {
	c, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
	return c, nil
}
