package reconcile

import (
	"context"
	"errors"
	"fmt"

	"ComandaPay/internal/models"
	"ComandaPay/internal/provider"
	"ComandaPay/internal/store"

	"go.uber.org/zap"
)

var (
	ErrMissingReference     = errors.New("missing provider reference")
	ErrSubscriptionNotFound = errors.New("subscription payment not found")
)

type SubscriptionInput struct {
	CompanyID         string
	ProviderReference string
}

type SubscriptionResult struct {
	Approved bool
	Status   string
	// ClearReference tells the client to drop its stored polling reference
	// because the cycle is settled one way or the other.
	ClearReference bool
}

// ReconcileSubscription settles a subscription charge. Subscriptions are
// always billed through the platform Mercado Pago account.
func (e Engine) ReconcileSubscription(ctx context.Context, in SubscriptionInput) (SubscriptionResult, error) {
	if in.CompanyID == "" {
		return SubscriptionResult{}, ErrMissingCompanyID
	}
	if in.ProviderReference == "" {
		return SubscriptionResult{}, ErrMissingReference
	}

	sp, err := e.Store.GetSubscriptionPaymentByReference(ctx, in.CompanyID, in.ProviderReference)
	if errors.Is(err, store.ErrNotFound) {
		return SubscriptionResult{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return SubscriptionResult{}, err
	}

	switch sp.Status {
	case models.SubscriptionPaymentPaid:
		return SubscriptionResult{Approved: true, Status: string(sp.Status), ClearReference: true}, nil
	case models.SubscriptionPaymentCancelled, models.SubscriptionPaymentRefunded:
		return SubscriptionResult{Status: string(sp.Status), ClearReference: true}, nil
	}

	log := e.log().With(zap.String("company_id", in.CompanyID), zap.String("reference", in.ProviderReference))
	pending := SubscriptionResult{Status: string(models.SubscriptionPaymentPending)}

	if e.PlatformToken == "" {
		log.Warn("platform credential not configured, subscription left pending")
		return pending, nil
	}
	client, err := e.Providers.Get(models.ProviderMercadoPago)
	if err != nil {
		log.Warn("no client for platform provider", zap.Error(err))
		return pending, nil
	}
	cred := models.Credential{Provider: models.ProviderMercadoPago, AccessToken: e.PlatformToken}
	raw, ok, err := e.queryProvider(ctx, log, client, cred, in.ProviderReference)
	if err != nil || !ok {
		return pending, err
	}

	switch provider.Normalize(models.ProviderMercadoPago, raw) {
	case provider.Pending:
		return pending, nil
	case provider.Cancelled:
		return SubscriptionResult{Status: string(models.SubscriptionPaymentCancelled), ClearReference: true}, nil
	}

	now := e.now()
	activated, err := e.Store.ActivateSubscription(ctx, sp, now, now.Add(e.SubscriptionPeriod))
	if err != nil {
		return SubscriptionResult{}, fmt.Errorf("activate subscription %s: %w", sp.ID, err)
	}
	if activated {
		log.Info("subscription activated", zap.String("plan_id", sp.PlanID), zap.Time("period_end", now.Add(e.SubscriptionPeriod)))
	}
	return SubscriptionResult{Approved: true, Status: string(models.SubscriptionPaymentPaid), ClearReference: true}, nil
}
