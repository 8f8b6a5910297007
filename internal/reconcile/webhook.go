package reconcile

import (
	"context"
	"errors"
	"strings"

	"ComandaPay/internal/models"
	"ComandaPay/internal/provider"
	"ComandaPay/internal/store"

	"go.uber.org/zap"
)

var ErrWebhookUnmatched = errors.New("webhook does not match a pending payment")

// HandleMercadoPagoWebhook re-fetches the notified payment and settles the
// pending payment named by its external_reference. The notification body is
// never trusted for status.
func (e Engine) HandleMercadoPagoWebhook(ctx context.Context, companyID, paymentID string) (Result, error) {
	if companyID == "" {
		return Result{}, ErrMissingCompanyID
	}
	if paymentID == "" {
		return Result{}, ErrMissingReference
	}

	raw, ok, err := e.fetchStatus(ctx, companyID, models.ProviderMercadoPago, paymentID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Status: string(models.PendingStatusPending)}, nil
	}
	if raw.ExternalReference == "" {
		return Result{}, ErrWebhookUnmatched
	}

	p, err := e.Store.GetPendingPayment(ctx, raw.ExternalReference)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, ErrWebhookUnmatched
	}
	if err != nil {
		return Result{}, err
	}
	return e.settleWebhook(ctx, p, companyID, paymentID, raw)
}

// HandlePicPayWebhook settles the pending payment whose payment link was
// notified.
func (e Engine) HandlePicPayWebhook(ctx context.Context, companyID, linkID string) (Result, error) {
	if companyID == "" {
		return Result{}, ErrMissingCompanyID
	}
	linkID = strings.TrimPrefix(linkID, models.PicPayReferencePrefix)
	if linkID == "" {
		return Result{}, ErrMissingReference
	}

	p, err := e.Store.GetPendingPaymentByReference(ctx, models.ProviderPicPay, linkID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, ErrWebhookUnmatched
	}
	if err != nil {
		return Result{}, err
	}
	if r, done := shortCircuit(p); done {
		return r, nil
	}

	raw, ok, err := e.fetchStatus(ctx, companyID, models.ProviderPicPay, linkID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Status: string(models.PendingStatusPending)}, nil
	}
	return e.settleWebhook(ctx, p, companyID, linkID, raw)
}

func (e Engine) settleWebhook(ctx context.Context, p *models.PendingPayment, companyID, ref string, raw provider.RawStatus) (Result, error) {
	if p.CompanyID != companyID {
		e.log().Warn("webhook company mismatch",
			zap.String("pending_id", p.ID), zap.String("company_id", companyID), zap.String("owner", p.CompanyID))
		return Result{}, ErrWebhookUnmatched
	}
	if r, done := shortCircuit(p); done {
		return r, nil
	}
	if p.Status == models.PendingStatusProcessing {
		return e.awaitWinner(ctx, p.ID)
	}
	kind := p.Provider
	if !kind.Valid() {
		kind, _ = models.ProviderFromReference(p.ProviderReference)
	}
	return e.settle(ctx, p, kind, ref, raw, true)
}
