package refund

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"ComandaPay/internal/models"
	"ComandaPay/internal/notify"
	"ComandaPay/internal/provider"
	"ComandaPay/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrMissingRequestID = errors.New("missing refund request id")
	ErrInvalidAction    = errors.New("action must be approve or reject")
	ErrReasonRequired   = errors.New("rejection reason is required")
	ErrRequestNotFound  = errors.New("refund request not found")
	ErrAlreadyProcessed = errors.New("refund request already processed")
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

type Store interface {
	GetRefundRequest(ctx context.Context, id string) (*models.RefundRequest, error)
	TransitionRefund(ctx context.Context, id string, from, to models.RefundStatus, u store.RefundUpdate) (bool, error)
	GetCredential(ctx context.Context, companyID string, p models.Provider) (*models.Credential, error)
	ApplyOrderRefund(ctx context.Context, orderID string, paymentStatus models.OrderPaymentStatus) error
	MarkSubscriptionPaymentRefunded(ctx context.Context, companyID, reference string) error
	InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	CreateRefundRequest(ctx context.Context, r *models.RefundRequest) error
	HasBlockingRefund(ctx context.Context, companyID, paymentID string) (bool, error)
}

type Notifier interface {
	NotifyOwner(ctx context.Context, companyID, typ, title, message string) error
	SendRefundReceipt(ctx context.Context, r *models.RefundRequest) error
}

type Actor struct {
	ID   string
	Role string
}

type ProcessInput struct {
	RequestID       string
	Action          Action
	RejectionReason string
	Actor           Actor
}

type ProcessResult struct {
	Status   models.RefundStatus
	RefundID string
	Amount   decimal.Decimal
	Provider models.Provider
	Message  string
}

type Orchestrator struct {
	Store     Store
	Providers provider.Registry
	Notifier  Notifier
	Log       *zap.Logger

	AdminRoles []string
	// PlatformToken is the platform Mercado Pago credential. Subscription
	// charges are always issued through it.
	PlatformToken string

	Now func() time.Time
}

func (o Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o Orchestrator) log() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}

func (o Orchestrator) isAdmin(role string) bool {
	return role != "" && slices.Contains(o.AdminRoles, role)
}

// ProcessRefundRequest applies an admin decision to a pending refund request.
func (o Orchestrator) ProcessRefundRequest(ctx context.Context, in ProcessInput) (ProcessResult, error) {
	if !o.isAdmin(in.Actor.Role) {
		return ProcessResult{}, ErrForbidden
	}
	if in.RequestID == "" {
		return ProcessResult{}, ErrMissingRequestID
	}
	if in.Action != ActionApprove && in.Action != ActionReject {
		return ProcessResult{}, ErrInvalidAction
	}

	req, err := o.Store.GetRefundRequest(ctx, in.RequestID)
	if errors.Is(err, store.ErrNotFound) {
		return ProcessResult{}, ErrRequestNotFound
	}
	if err != nil {
		return ProcessResult{}, err
	}
	if req.Status != models.RefundStatusPending {
		return ProcessResult{}, ErrAlreadyProcessed
	}

	if in.Action == ActionReject {
		return o.reject(ctx, req, in)
	}
	return o.approve(ctx, req, in)
}

func (o Orchestrator) reject(ctx context.Context, req *models.RefundRequest, in ProcessInput) (ProcessResult, error) {
	reason := strings.TrimSpace(in.RejectionReason)
	if reason == "" {
		return ProcessResult{}, ErrReasonRequired
	}
	now := o.now()
	ok, err := o.Store.TransitionRefund(ctx, req.ID, models.RefundStatusPending, models.RefundStatusRejected, store.RefundUpdate{
		ReviewedBy:      &in.Actor.ID,
		ReviewedAt:      &now,
		RejectionReason: &reason,
	})
	if err != nil {
		return ProcessResult{}, err
	}
	if !ok {
		return ProcessResult{}, ErrAlreadyProcessed
	}

	o.audit(ctx, "refund_rejected", req, in.Actor.ID, map[string]any{"rejection_reason": reason})
	o.notifyOwner(ctx, req.CompanyID, notify.TypeRefundRejected, "Reembolso recusado",
		fmt.Sprintf("A solicitação de reembolso de R$ %s foi recusada: %s", req.RequestedAmount.StringFixed(2), reason))

	return ProcessResult{Status: models.RefundStatusRejected, Message: "refund request rejected"}, nil
}

type route struct {
	kind      models.RefundKind
	provider  models.Provider
	reference string
	client    provider.Client
	cred      models.Credential
}

func (o Orchestrator) approve(ctx context.Context, req *models.RefundRequest, in ProcessInput) (ProcessResult, error) {
	reviewedAt := o.now()
	ok, err := o.Store.TransitionRefund(ctx, req.ID, models.RefundStatusPending, models.RefundStatusProcessing, store.RefundUpdate{
		ReviewedBy: &in.Actor.ID,
		ReviewedAt: &reviewedAt,
	})
	if err != nil {
		return ProcessResult{}, err
	}
	if !ok {
		return ProcessResult{}, ErrAlreadyProcessed
	}

	rt, err := o.resolveRoute(ctx, req)
	if err != nil {
		return ProcessResult{}, o.fail(ctx, req, in.Actor.ID, err)
	}

	token, err := rt.client.Authenticate(ctx, rt.cred)
	if err != nil {
		return ProcessResult{}, o.fail(ctx, req, in.Actor.ID, err)
	}
	res, err := rt.client.IssueRefund(ctx, token, provider.RefundParams{
		Reference:      rt.reference,
		Amount:         req.RequestedAmount,
		OriginalAmount: req.OriginalAmount,
		IdempotencyKey: idempotencyKey(req.ID, reviewedAt),
	})
	if err != nil {
		return ProcessResult{}, o.fail(ctx, req, in.Actor.ID, err)
	}

	// The provider has refunded. Nothing below may undo or fail the refund.
	processedAt := o.now()
	refundID := res.RefundID
	ok, err = o.Store.TransitionRefund(ctx, req.ID, models.RefundStatusProcessing, models.RefundStatusCompleted, store.RefundUpdate{
		RefundID:    &refundID,
		ProcessedAt: &processedAt,
	})
	if err != nil || !ok {
		o.log().Error("refund issued but request not marked completed",
			zap.String("refund_request_id", req.ID), zap.String("refund_id", refundID), zap.Bool("updated", ok), zap.Error(err))
	}

	o.applyDownstream(ctx, req, rt)

	o.audit(ctx, "refund_completed", req, in.Actor.ID, map[string]any{
		"payment_id":      req.PaymentID,
		"order_id":        deref(req.OrderID),
		"refund_id":       refundID,
		"amount":          req.RequestedAmount.StringFixed(2),
		"provider":        string(rt.provider),
		"is_subscription": rt.kind == models.RefundKindSubscription,
	})
	o.notifyOwner(ctx, req.CompanyID, notify.TypeRefundCompleted, "Reembolso processado",
		fmt.Sprintf("O reembolso de R$ %s foi processado com sucesso.", req.RequestedAmount.StringFixed(2)))

	if rt.kind == models.RefundKindOrder && o.Notifier != nil {
		if err := o.Notifier.SendRefundReceipt(ctx, req); err != nil {
			o.log().Warn("refund receipt email failed", zap.String("refund_request_id", req.ID), zap.Error(err))
		}
	}

	return ProcessResult{
		Status:   models.RefundStatusCompleted,
		RefundID: refundID,
		Amount:   req.RequestedAmount,
		Provider: rt.provider,
		Message:  "refund processed",
	}, nil
}

func (o Orchestrator) resolveRoute(ctx context.Context, req *models.RefundRequest) (route, error) {
	if req.EffectiveKind() == models.RefundKindSubscription {
		if o.PlatformToken == "" {
			return route{}, fmt.Errorf("%w: platform mercadopago credential not configured", provider.ErrCredentialsMissing)
		}
		client, err := o.Providers.Get(models.ProviderMercadoPago)
		if err != nil {
			return route{}, err
		}
		return route{
			kind:      models.RefundKindSubscription,
			provider:  models.ProviderMercadoPago,
			reference: req.PaymentID,
			client:    client,
			cred:      models.Credential{Provider: models.ProviderMercadoPago, AccessToken: o.PlatformToken},
		}, nil
	}

	kind, ref := req.EffectiveProvider()
	client, err := o.Providers.Get(kind)
	if err != nil {
		return route{}, err
	}
	cred, err := o.Store.GetCredential(ctx, req.CompanyID, kind)
	if errors.Is(err, store.ErrNotFound) {
		return route{}, fmt.Errorf("%w: no %s credential configured for this store", provider.ErrCredentialsMissing, kind)
	}
	if err != nil {
		return route{}, err
	}
	return route{kind: models.RefundKindOrder, provider: kind, reference: ref, client: client, cred: *cred}, nil
}

// fail records the failure on the request before handing the error back.
func (o Orchestrator) fail(ctx context.Context, req *models.RefundRequest, actorID string, cause error) error {
	msg := provider.ProviderMessage(cause)
	ok, err := o.Store.TransitionRefund(ctx, req.ID, models.RefundStatusProcessing, models.RefundStatusFailed, store.RefundUpdate{
		ErrorMessage: &msg,
	})
	if err != nil || !ok {
		o.log().Error("mark refund request failed", zap.String("refund_request_id", req.ID), zap.Bool("updated", ok), zap.Error(err))
	}
	o.log().Warn("refund failed", zap.String("refund_request_id", req.ID), zap.String("payment_id", req.PaymentID), zap.Error(cause))

	o.audit(ctx, "refund_failed", req, actorID, map[string]any{"error": msg})
	o.notifyOwner(ctx, req.CompanyID, notify.TypeRefundFailed, "Falha no reembolso",
		fmt.Sprintf("O reembolso de R$ %s não pôde ser processado: %s", req.RequestedAmount.StringFixed(2), msg))
	return cause
}

func (o Orchestrator) applyDownstream(ctx context.Context, req *models.RefundRequest, rt route) {
	log := o.log().With(zap.String("refund_request_id", req.ID))
	if rt.kind == models.RefundKindSubscription {
		if err := o.Store.MarkSubscriptionPaymentRefunded(ctx, req.CompanyID, req.PaymentID); err != nil {
			log.Error("mark subscription payment refunded", zap.Error(err))
		}
		return
	}
	if req.OrderID == nil || *req.OrderID == "" {
		log.Warn("order refund without order id")
		return
	}
	status := models.PaymentStatusRefunded
	if !req.IsFull() {
		status = models.PaymentStatusPartiallyRefunded
	}
	if err := o.Store.ApplyOrderRefund(ctx, *req.OrderID, status); err != nil {
		log.Error("apply order refund", zap.String("order_id", *req.OrderID), zap.Error(err))
	}
}

func (o Orchestrator) audit(ctx context.Context, action string, req *models.RefundRequest, actorID string, details map[string]any) {
	e := &models.AuditEntry{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: "refund_request",
		EntityID:   req.ID,
		ActorID:    actorID,
		Details:    details,
		CreatedAt:  o.now(),
	}
	o.log().Info("audit", zap.String("action", action), zap.String("refund_request_id", req.ID),
		zap.String("actor_id", actorID), zap.Any("details", details))
	if err := o.Store.InsertAuditEntry(ctx, e); err != nil {
		o.log().Error("write audit entry", zap.String("action", action), zap.Error(err))
	}
}

func (o Orchestrator) notifyOwner(ctx context.Context, companyID, typ, title, message string) {
	if o.Notifier == nil {
		return
	}
	if err := o.Notifier.NotifyOwner(ctx, companyID, typ, title, message); err != nil {
		o.log().Warn("owner notification failed", zap.String("company_id", companyID), zap.String("type", typ), zap.Error(err))
	}
}

func idempotencyKey(requestID string, reviewedAt time.Time) string {
	return fmt.Sprintf("refund-%s-%d", requestID, reviewedAt.Unix())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
