package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ComandaPay/internal/models"
	"ComandaPay/internal/provider"
	"ComandaPay/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrMissingPendingID      = errors.New("missing pending id")
	ErrMissingCompanyID      = errors.New("missing company id")
	ErrPendingNotFound       = errors.New("pending payment not found")
	ErrMaterializationFailed = errors.New("order materialization failed")
)

// Store is the persistence the engine needs. *store.Store satisfies it.
type Store interface {
	GetPendingPayment(ctx context.Context, id string) (*models.PendingPayment, error)
	GetPendingPaymentByReference(ctx context.Context, p models.Provider, reference string) (*models.PendingPayment, error)
	ClaimPendingPayment(ctx context.Context, id string) (bool, error)
	CancelPendingPayment(ctx context.Context, id string) (bool, error)
	CompletePendingPayment(ctx context.Context, pendingID string, order *models.Order, items []models.OrderItem, completedAt time.Time) error
	GetCredential(ctx context.Context, companyID string, p models.Provider) (*models.Credential, error)

	GetSubscriptionPaymentByReference(ctx context.Context, companyID, reference string) (*models.SubscriptionPayment, error)
	ActivateSubscription(ctx context.Context, p *models.SubscriptionPayment, paidAt, periodEnd time.Time) (bool, error)
}

type Input struct {
	PendingID         string
	CompanyID         string
	ProviderReference string
}

type Result struct {
	Approved bool
	OrderID  string
	Status   string
	// Done is set once polling this record can stop.
	Done bool
}

type Engine struct {
	Store     Store
	Providers provider.Registry
	Log       *zap.Logger

	PrepWindow        time.Duration
	ClaimWait         time.Duration
	ClaimWaitAttempts int

	// PlatformToken is the platform Mercado Pago credential used for
	// subscription charges.
	PlatformToken      string
	SubscriptionPeriod time.Duration

	Now func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

// Pending loads a pending payment scoped to the company.
func (e Engine) Pending(ctx context.Context, pendingID, companyID string) (*models.PendingPayment, error) {
	if pendingID == "" {
		return nil, ErrMissingPendingID
	}
	if companyID == "" {
		return nil, ErrMissingCompanyID
	}
	p, err := e.Store.GetPendingPayment(ctx, pendingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.CompanyID != companyID {
		return nil, ErrPendingNotFound
	}
	return p, nil
}

// Reconcile asks the provider for the truth about one pending payment and
// materializes the order exactly once when it is approved. Only auth failures
// and failures after a won claim are returned as errors; everything else on
// the read path reports a non-approved result so the caller polls again.
func (e Engine) Reconcile(ctx context.Context, in Input) (Result, error) {
	p, err := e.Pending(ctx, in.PendingID, in.CompanyID)
	if err != nil {
		return Result{}, err
	}
	if r, ok := shortCircuit(p); ok {
		return r, nil
	}
	if p.Status == models.PendingStatusProcessing {
		return e.awaitWinner(ctx, p.ID)
	}

	kind, ref := pendingTarget(p, in.ProviderReference)
	var fallbacks []string
	if kind == models.ProviderMercadoPago && ref != p.ID {
		// Checkout sets external_reference to the pending id, so a stored
		// preference or checkout id that finds nothing is retried by it.
		fallbacks = append(fallbacks, p.ID)
	}
	raw, ok, err := e.fetchStatus(ctx, p.CompanyID, kind, ref, fallbacks...)
	if err != nil || !ok {
		return Result{Status: string(models.PendingStatusPending)}, err
	}
	return e.settle(ctx, p, kind, ref, raw, false)
}

func shortCircuit(p *models.PendingPayment) (Result, bool) {
	switch p.Status {
	case models.PendingStatusCompleted:
		r := Result{Approved: true, Status: string(models.PendingStatusCompleted), Done: true}
		if p.OrderID != nil {
			r.OrderID = *p.OrderID
		}
		return r, true
	case models.PendingStatusCancelled:
		return Result{Status: string(models.PendingStatusCancelled), Done: true}, true
	}
	return Result{}, false
}

// pendingTarget resolves which provider and reference to query. Rows written
// before the provider column existed carry the provider in the reference
// prefix. Mercado Pago can be searched by the pending id itself, which is
// sent as external_reference at checkout.
func pendingTarget(p *models.PendingPayment, fallbackRef string) (models.Provider, string) {
	ref := p.ProviderReference
	if ref == "" {
		ref = fallbackRef
	}
	kind := p.Provider
	if !kind.Valid() {
		kind, ref = models.ProviderFromReference(ref)
	} else {
		ref = strings.TrimPrefix(ref, kind.ReferencePrefix())
	}
	if ref == "" && kind == models.ProviderMercadoPago {
		ref = p.ID
	}
	return kind, ref
}

// fetchStatus returns ok=false when the provider could not be asked and the
// caller should report pending. Fallback references are tried in order when
// the provider does not know the previous one.
func (e Engine) fetchStatus(ctx context.Context, companyID string, kind models.Provider, ref string, fallbacks ...string) (provider.RawStatus, bool, error) {
	log := e.log().With(zap.String("company_id", companyID), zap.String("provider", string(kind)), zap.String("reference", ref))

	client, err := e.Providers.Get(kind)
	if err != nil {
		log.Warn("no client for provider", zap.Error(err))
		return provider.RawStatus{}, false, nil
	}
	cred, err := e.Store.GetCredential(ctx, companyID, kind)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("provider credential not configured")
		return provider.RawStatus{}, false, nil
	}
	if err != nil {
		log.Error("load credential", zap.Error(err))
		return provider.RawStatus{}, false, nil
	}
	return e.queryProvider(ctx, log, client, *cred, ref, fallbacks...)
}

func (e Engine) queryProvider(ctx context.Context, log *zap.Logger, client provider.Client, cred models.Credential, ref string, fallbacks ...string) (provider.RawStatus, bool, error) {
	token, err := client.Authenticate(ctx, cred)
	if err != nil {
		var authErr *provider.AuthError
		if errors.As(err, &authErr) {
			return provider.RawStatus{}, false, err
		}
		log.Info("provider authentication unavailable", zap.Error(err))
		return provider.RawStatus{}, false, nil
	}
	raw, err := client.GetPaymentStatus(ctx, token, ref)
	for _, next := range fallbacks {
		if !errors.Is(err, provider.ErrPaymentNotFound) {
			break
		}
		log.Debug("payment not found by reference, retrying", zap.String("retry_reference", next))
		raw, err = client.GetPaymentStatus(ctx, token, next)
	}
	if err != nil {
		var authErr *provider.AuthError
		if errors.As(err, &authErr) {
			return provider.RawStatus{}, false, err
		}
		log.Warn("provider status lookup failed", zap.Error(err))
		return provider.RawStatus{}, false, nil
	}
	log.Debug("provider status", zap.String("status", raw.Status), zap.String("source", raw.Source))
	return raw, true, nil
}

// settle acts on a normalized provider status. Only authoritative callers
// (webhooks) write cancellations; polling only reports them.
func (e Engine) settle(ctx context.Context, p *models.PendingPayment, kind models.Provider, ref string, raw provider.RawStatus, authoritative bool) (Result, error) {
	switch provider.Normalize(kind, raw) {
	case provider.Pending:
		return Result{Status: string(models.PendingStatusPending)}, nil
	case provider.Cancelled:
		status := strings.ToLower(strings.TrimSpace(raw.Status))
		if authoritative {
			ok, err := e.Store.CancelPendingPayment(ctx, p.ID)
			if err != nil {
				return Result{}, fmt.Errorf("cancel pending payment %s: %w", p.ID, err)
			}
			if !ok {
				cur, err := e.Store.GetPendingPayment(ctx, p.ID)
				if err == nil {
					if r, done := shortCircuit(cur); done {
						return r, nil
					}
				}
			}
			e.log().Info("pending payment cancelled", zap.String("pending_id", p.ID), zap.String("status", status))
		}
		return Result{Status: status, Done: true}, nil
	}

	won, err := e.Store.ClaimPendingPayment(ctx, p.ID)
	if err != nil {
		e.log().Error("claim pending payment", zap.String("pending_id", p.ID), zap.Error(err))
		return Result{Status: string(models.PendingStatusPending)}, nil
	}
	if !won {
		return e.awaitWinner(ctx, p.ID)
	}

	orderID, err := e.materialize(ctx, p, kind, ref, raw)
	if err != nil {
		e.log().Error("order materialization failed, pending payment left processing",
			zap.String("pending_id", p.ID), zap.String("company_id", p.CompanyID), zap.Error(err))
		return Result{}, fmt.Errorf("%w: pending %s: %w", ErrMaterializationFailed, p.ID, err)
	}
	e.log().Info("order materialized", zap.String("pending_id", p.ID), zap.String("order_id", orderID), zap.String("provider", string(kind)))
	return Result{Approved: true, OrderID: orderID, Status: string(models.PendingStatusCompleted), Done: true}, nil
}

// awaitWinner re-reads a row another caller has claimed. If the winner has
// not finished within the wait budget the caller gets a transient
// non-approved result and polls again.
func (e Engine) awaitWinner(ctx context.Context, pendingID string) (Result, error) {
	attempts := e.ClaimWaitAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 || e.ClaimWait > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(e.ClaimWait):
			}
		}
		p, err := e.Store.GetPendingPayment(ctx, pendingID)
		if err != nil {
			return Result{}, err
		}
		if r, ok := shortCircuit(p); ok {
			return r, nil
		}
	}
	return Result{Status: string(models.PendingStatusProcessing)}, nil
}

func (e Engine) materialize(ctx context.Context, p *models.PendingPayment, kind models.Provider, ref string, raw provider.RawStatus) (string, error) {
	now := e.now()
	order, items := buildOrder(p, kind, paymentReference(kind, ref, raw), now, e.PrepWindow)
	if err := e.Store.CompletePendingPayment(ctx, p.ID, order, items, now); err != nil {
		return "", err
	}
	return order.ID, nil
}

// paymentReference prefers the provider's own payment id over the reference
// the lookup was made with.
func paymentReference(kind models.Provider, ref string, raw provider.RawStatus) string {
	id := ref
	if raw.PaymentID != "" {
		id = raw.PaymentID
	}
	return kind.ReferencePrefix() + id
}

func buildOrder(p *models.PendingPayment, kind models.Provider, reference string, now time.Time, prep time.Duration) (*models.Order, []models.OrderItem) {
	pl := p.OrderPayload
	method := pl.PaymentMethod
	if method == "" {
		method = string(kind)
	}
	order := &models.Order{
		ID:                    uuid.NewString(),
		CompanyID:             p.CompanyID,
		CustomerName:          pl.CustomerName,
		CustomerPhone:         pl.CustomerPhone,
		CustomerEmail:         pl.CustomerEmail,
		DeliveryType:          pl.DeliveryType,
		DeliveryAddress:       pl.DeliveryAddress,
		TableNumber:           pl.TableNumber,
		Notes:                 pl.Notes,
		CouponID:              pl.CouponID,
		Status:                models.OrderStatusPending,
		PaymentStatus:         models.PaymentStatusPaid,
		PaymentMethod:         method,
		PaymentProvider:       kind,
		PaymentReference:      reference,
		Subtotal:              pl.Subtotal,
		DeliveryFee:           pl.DeliveryFee,
		Discount:              pl.Discount,
		Total:                 pl.Total,
		EstimatedDeliveryTime: now.Add(prep),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	items := make([]models.OrderItem, 0, len(pl.Items))
	for _, it := range pl.Items {
		items = append(items, models.OrderItem{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			TotalPrice:      lineTotal(it),
			SelectedOptions: it.SelectedOptions,
			Notes:           it.Notes,
		})
	}
	return order, items
}

// lineTotal is unit price times quantity; the payload total is used only when
// no unit price was captured.
func lineTotal(it models.PayloadItem) decimal.Decimal {
	if it.UnitPrice.IsZero() {
		return it.TotalPrice
	}
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}
