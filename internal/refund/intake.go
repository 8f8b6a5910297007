package refund

import (
	"context"
	"errors"
	"strings"

	"ComandaPay/internal/models"
	"ComandaPay/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrMissingCompanyID      = errors.New("missing company id")
	ErrMissingPaymentID      = errors.New("missing payment id")
	ErrOrderRequired         = errors.New("order refunds need an order id")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidAmount         = errors.New("requested amount must be positive")
	ErrAmountExceedsOriginal = errors.New("requested amount exceeds original amount")
	ErrRefundExists          = errors.New("a refund for this payment is already open or completed")
)

type IntakeInput struct {
	CompanyID       string
	Kind            models.RefundKind
	OrderID         string
	PaymentID       string
	Provider        models.Provider
	CustomerName    string
	CustomerEmail   string
	RequestedAmount decimal.Decimal
	OriginalAmount  decimal.Decimal
	Reason          string
}

// CreateRefundRequest files a pending refund request for admin review.
func (o Orchestrator) CreateRefundRequest(ctx context.Context, in IntakeInput) (*models.RefundRequest, error) {
	if in.CompanyID == "" {
		return nil, ErrMissingCompanyID
	}
	kind := in.Kind
	if kind == "" {
		kind = models.RefundKindOrder
	}

	req := &models.RefundRequest{
		ID:              uuid.NewString(),
		CompanyID:       in.CompanyID,
		Kind:            kind,
		PaymentID:       strings.TrimSpace(in.PaymentID),
		Provider:        in.Provider,
		CustomerName:    in.CustomerName,
		CustomerEmail:   in.CustomerEmail,
		RequestedAmount: in.RequestedAmount,
		OriginalAmount:  in.OriginalAmount,
		Reason:          strings.TrimSpace(in.Reason),
		Status:          models.RefundStatusPending,
	}

	switch kind {
	case models.RefundKindSubscription:
		req.Provider = models.ProviderMercadoPago
	case models.RefundKindOrder:
		if in.OrderID == "" {
			return nil, ErrOrderRequired
		}
		order, err := o.Store.GetOrder(ctx, in.OrderID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		if err != nil {
			return nil, err
		}
		if order.CompanyID != in.CompanyID {
			return nil, ErrOrderNotFound
		}
		orderID := order.ID
		req.OrderID = &orderID
		if req.PaymentID == "" {
			req.PaymentID = order.PaymentReference
		}
		if !req.Provider.Valid() {
			req.Provider = order.PaymentProvider
		}
		if !req.Provider.Valid() {
			req.Provider, _ = models.ProviderFromReference(req.PaymentID)
		}
		if req.OriginalAmount.IsZero() {
			req.OriginalAmount = order.Total
		}
		if req.CustomerName == "" {
			req.CustomerName = order.CustomerName
		}
		if req.CustomerEmail == "" {
			req.CustomerEmail = order.CustomerEmail
		}
	default:
		return nil, errors.New("unknown refund kind " + string(kind))
	}

	if req.PaymentID == "" {
		return nil, ErrMissingPaymentID
	}
	if !req.RequestedAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.RequestedAmount.GreaterThan(req.OriginalAmount) {
		return nil, ErrAmountExceedsOriginal
	}

	blocked, err := o.Store.HasBlockingRefund(ctx, req.CompanyID, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrRefundExists
	}

	if err := o.Store.CreateRefundRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrRefundExists
		}
		return nil, err
	}
	o.log().Info("refund request created",
		zap.String("refund_request_id", req.ID),
		zap.String("company_id", req.CompanyID),
		zap.String("kind", string(req.Kind)),
		zap.String("provider", string(req.Provider)),
		zap.String("amount", req.RequestedAmount.StringFixed(2)))
	return req, nil
}
