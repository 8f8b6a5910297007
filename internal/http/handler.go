package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ComandaPay/internal/models"
	"ComandaPay/internal/provider"
	"ComandaPay/internal/reconcile"
	"ComandaPay/internal/refund"

	"go.uber.org/zap"
)

type Reconciler interface {
	Pending(ctx context.Context, pendingID, companyID string) (*models.PendingPayment, error)
	Reconcile(ctx context.Context, in reconcile.Input) (reconcile.Result, error)
	ReconcileSubscription(ctx context.Context, in reconcile.SubscriptionInput) (reconcile.SubscriptionResult, error)
	HandleMercadoPagoWebhook(ctx context.Context, companyID, paymentID string) (reconcile.Result, error)
	HandlePicPayWebhook(ctx context.Context, companyID, linkID string) (reconcile.Result, error)
}

type Refunds interface {
	ProcessRefundRequest(ctx context.Context, in refund.ProcessInput) (refund.ProcessResult, error)
	CreateRefundRequest(ctx context.Context, in refund.IntakeInput) (*models.RefundRequest, error)
}

type Handler struct {
	Payments Reconciler
	Refunds  Refunds
	Log      *zap.Logger

	MercadoPagoWebhookSecret string
	StreamInterval           time.Duration
	MaxPollAge               time.Duration
	// AllowedOrigins lists browser origins that may open a payment stream.
	// Empty falls back to the same-host check.
	AllowedOrigins []string
}

func NewHandler(payments Reconciler, refunds Refunds, log *zap.Logger) *Handler {
	return &Handler{
		Payments:       payments,
		Refunds:        refunds,
		Log:            log,
		StreamInterval: 3 * time.Second,
		MaxPollAge:     24 * time.Hour,
	}
}

type reconcileRequest struct {
	PendingID         string `json:"pendingId" validate:"required"`
	CompanyID         string `json:"companyId" validate:"required"`
	ProviderReference string `json:"providerReference,omitempty"`
}

type reconcileResponse struct {
	Approved bool   `json:"approved"`
	OrderID  string `json:"orderId,omitempty"`
	Status   string `json:"status"`
}

type reconcileError struct {
	Error    string `json:"error"`
	Approved bool   `json:"approved"`
}

func (h *Handler) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, reconcileError{Error: err.Error()})
		return
	}

	res, err := h.Payments.Reconcile(r.Context(), reconcile.Input{
		PendingID:         req.PendingID,
		CompanyID:         req.CompanyID,
		ProviderReference: req.ProviderReference,
	})
	if err != nil {
		status, msg := reconcileErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.Log.Error("reconcile failed", zap.String("pending_id", req.PendingID), zap.Error(err))
		}
		writeJSON(w, status, reconcileError{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Approved: res.Approved, OrderID: res.OrderID, Status: res.Status})
}

func reconcileErrorStatus(err error) (int, string) {
	var authErr *provider.AuthError
	switch {
	case errors.Is(err, reconcile.ErrMissingPendingID):
		return http.StatusBadRequest, "missing pending id"
	case errors.Is(err, reconcile.ErrMissingCompanyID):
		return http.StatusBadRequest, "missing company id"
	case errors.Is(err, reconcile.ErrMissingReference):
		return http.StatusBadRequest, "missing provider reference"
	case errors.Is(err, reconcile.ErrPendingNotFound):
		return http.StatusNotFound, "pending payment not found"
	case errors.Is(err, reconcile.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription payment not found"
	case errors.As(err, &authErr):
		return http.StatusBadGateway, "payment provider rejected the store credentials"
	case errors.Is(err, reconcile.ErrMaterializationFailed):
		return http.StatusInternalServerError, "payment approved but order creation failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "reconcile timed out"
	default:
		return http.StatusInternalServerError, "reconcile failed"
	}
}

type subscriptionRequest struct {
	CompanyID         string `json:"companyId" validate:"required"`
	ProviderReference string `json:"providerReference" validate:"required"`
}

type subscriptionResponse struct {
	Approved       bool   `json:"approved"`
	Status         string `json:"status"`
	ClearReference bool   `json:"clearReference"`
}

func (h *Handler) ReconcileSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, reconcileError{Error: err.Error()})
		return
	}
	if c := claimsFrom(r.Context()); c == nil || c.CompanyID != req.CompanyID {
		writeJSON(w, http.StatusForbidden, reconcileError{Error: "company mismatch"})
		return
	}

	res, err := h.Payments.ReconcileSubscription(r.Context(), reconcile.SubscriptionInput{
		CompanyID:         req.CompanyID,
		ProviderReference: req.ProviderReference,
	})
	if err != nil {
		status, msg := reconcileErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.Log.Error("subscription reconcile failed", zap.String("company_id", req.CompanyID), zap.Error(err))
		}
		writeJSON(w, status, reconcileError{Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse{Approved: res.Approved, Status: res.Status, ClearReference: res.ClearReference})
}
