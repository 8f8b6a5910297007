package http

import (
	"errors"
	"net/http"

	"ComandaPay/internal/models"
	"ComandaPay/internal/provider"
	"ComandaPay/internal/refund"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type processRefundRequest struct {
	RequestID       string `json:"request_id" validate:"required"`
	Action          string `json:"action" validate:"required,oneof=approve reject"`
	RejectionReason string `json:"rejection_reason,omitempty" validate:"max=1000"`
}

type processRefundResponse struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refund_id,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Provider string `json:"provider,omitempty"`
	Message  string `json:"message"`
}

func (h *Handler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing session")
		return
	}
	var req processRefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Refunds.ProcessRefundRequest(r.Context(), refund.ProcessInput{
		RequestID:       req.RequestID,
		Action:          refund.Action(req.Action),
		RejectionReason: req.RejectionReason,
		Actor:           refund.Actor{ID: claims.Subject, Role: claims.Role},
	})
	if err != nil {
		status, msg := refundErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.Log.Error("process refund failed", zap.String("refund_request_id", req.RequestID), zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}

	resp := processRefundResponse{Success: true, Message: res.Message}
	if res.Status == models.RefundStatusCompleted {
		resp.RefundID = res.RefundID
		resp.Amount = res.Amount.StringFixed(2)
		resp.Provider = string(res.Provider)
	}
	writeJSON(w, http.StatusOK, resp)
}

func refundErrorStatus(err error) (int, string) {
	var authErr *provider.AuthError
	var rejected *provider.RejectedError
	var notRefundable *provider.NotRefundableError
	switch {
	case errors.Is(err, refund.ErrForbidden):
		return http.StatusForbidden, "admin role required"
	case errors.Is(err, refund.ErrMissingRequestID), errors.Is(err, refund.ErrInvalidAction),
		errors.Is(err, refund.ErrReasonRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, refund.ErrRequestNotFound):
		return http.StatusNotFound, "refund request not found"
	case errors.Is(err, refund.ErrAlreadyProcessed):
		return http.StatusConflict, "refund request already processed"
	case errors.Is(err, provider.ErrCredentialsMissing):
		return http.StatusPreconditionFailed, "payment credentials not configured"
	case errors.As(err, &notRefundable):
		return http.StatusUnprocessableEntity, notRefundable.Error()
	case errors.Is(err, provider.ErrAlreadyRefunded):
		return http.StatusUnprocessableEntity, "payment already refunded"
	case errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusUnprocessableEntity, "unsupported payment provider"
	case errors.Is(err, provider.ErrPaymentNotFound):
		return http.StatusUnprocessableEntity, "payment not found at provider"
	case errors.As(err, &authErr):
		return http.StatusBadGateway, "payment provider rejected the credentials"
	case errors.As(err, &rejected):
		return http.StatusBadGateway, rejected.Message
	default:
		return http.StatusInternalServerError, "refund processing failed"
	}
}

type createRefundRequest struct {
	Kind            string          `json:"kind,omitempty" validate:"omitempty,oneof=order subscription"`
	OrderID         string          `json:"order_id,omitempty"`
	PaymentID       string          `json:"payment_id,omitempty"`
	Provider        string          `json:"provider,omitempty" validate:"omitempty,oneof=mercadopago picpay"`
	CustomerName    string          `json:"customer_name,omitempty" validate:"max=200"`
	CustomerEmail   string          `json:"customer_email,omitempty" validate:"omitempty,email"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	Reason          string          `json:"reason" validate:"required,max=1000"`
}

type createRefundResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	Kind            string `json:"kind"`
	Provider        string `json:"provider"`
	PaymentID       string `json:"payment_id"`
	RequestedAmount string `json:"requested_amount"`
	OriginalAmount  string `json:"original_amount"`
}

func (h *Handler) CreateRefundRequest(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil || claims.CompanyID == "" {
		writeError(w, http.StatusForbidden, "session has no company")
		return
	}
	var req createRefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.Refunds.CreateRefundRequest(r.Context(), refund.IntakeInput{
		CompanyID:       claims.CompanyID,
		Kind:            models.RefundKind(req.Kind),
		OrderID:         req.OrderID,
		PaymentID:       req.PaymentID,
		Provider:        models.Provider(req.Provider),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		RequestedAmount: req.RequestedAmount,
		OriginalAmount:  req.OriginalAmount,
		Reason:          req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, refund.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, refund.ErrRefundExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, refund.ErrMissingCompanyID), errors.Is(err, refund.ErrMissingPaymentID),
			errors.Is(err, refund.ErrOrderRequired), errors.Is(err, refund.ErrInvalidAmount),
			errors.Is(err, refund.ErrAmountExceedsOriginal):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.Log.Error("create refund request failed", zap.String("company_id", claims.CompanyID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "create refund request failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, createRefundResponse{
		ID:              created.ID,
		Status:          string(created.Status),
		Kind:            string(created.Kind),
		Provider:        string(created.Provider),
		PaymentID:       created.PaymentID,
		RequestedAmount: created.RequestedAmount.StringFixed(2),
		OriginalAmount:  created.OriginalAmount.StringFixed(2),
	})
}
