package store

import (
	"context"
	"time"

	"ComandaPay/internal/models"
)

// RefundUpdate lists the columns a status transition may set. Nil fields are
// left untouched.
type RefundUpdate struct {
	ReviewedBy      *string
	ReviewedAt      *time.Time
	RejectionReason *string
	RefundID        *string
	ErrorMessage    *string
	ProcessedAt     *time.Time
}

const refundColumns = `
	id, company_id, kind, order_id, payment_id, provider, customer_name, customer_email,
	requested_amount, original_amount, reason, status, reviewed_by, reviewed_at,
	rejection_reason, refund_id, error_message, processed_at, created_at, updated_at`

func (s *Store) CreateRefundRequest(ctx context.Context, r *models.RefundRequest) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO refund_requests (
			id, company_id, kind, order_id, payment_id, provider, customer_name,
			customer_email, requested_amount, original_amount, reason, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		r.ID,
		r.CompanyID,
		r.Kind,
		r.OrderID,
		r.PaymentID,
		r.Provider,
		r.CustomerName,
		r.CustomerEmail,
		r.RequestedAmount,
		r.OriginalAmount,
		r.Reason,
		r.Status,
	)
	// uq_refund_requests_open rejects a second open refund for one payment.
	return duplicate(err)
}

func (s *Store) GetRefundRequest(ctx context.Context, id string) (*models.RefundRequest, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+refundColumns+` FROM refund_requests WHERE id=$1`, id)

	var r models.RefundRequest
	err := row.Scan(
		&r.ID,
		&r.CompanyID,
		&r.Kind,
		&r.OrderID,
		&r.PaymentID,
		&r.Provider,
		&r.CustomerName,
		&r.CustomerEmail,
		&r.RequestedAmount,
		&r.OriginalAmount,
		&r.Reason,
		&r.Status,
		&r.ReviewedBy,
		&r.ReviewedAt,
		&r.RejectionReason,
		&r.RefundID,
		&r.ErrorMessage,
		&r.ProcessedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// HasBlockingRefund reports whether a refund for the payment is open or done.
// Failed and rejected requests do not block a new one.
func (s *Store) HasBlockingRefund(ctx context.Context, companyID, paymentID string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM refund_requests
			WHERE company_id=$1 AND payment_id=$2
				AND status IN ('pending','processing','completed')
		)
	`, companyID, paymentID).Scan(&exists)
	return exists, err
}

// TransitionRefund moves a request from one status to another only if it is
// still in the expected status.
func (s *Store) TransitionRefund(ctx context.Context, id string, from, to models.RefundStatus, u RefundUpdate) (bool, error) {
	return affected(s.Pool.Exec(ctx, `
		UPDATE refund_requests
		SET status=$3,
			reviewed_by=COALESCE($4, reviewed_by),
			reviewed_at=COALESCE($5, reviewed_at),
			rejection_reason=COALESCE($6, rejection_reason),
			refund_id=COALESCE($7, refund_id),
			error_message=COALESCE($8, error_message),
			processed_at=COALESCE($9, processed_at),
			updated_at=now()
		WHERE id=$1 AND status=$2
	`, id, from, to, u.ReviewedBy, u.ReviewedAt, u.RejectionReason, u.RefundID, u.ErrorMessage, u.ProcessedAt))
}
