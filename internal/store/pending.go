package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ComandaPay/internal/models"

	"github.com/jackc/pgx/v5"
)

const pendingColumns = `
	id, company_id, provider, status, provider_reference, order_payload,
	order_id, completed_at, created_at, updated_at`

func scanPending(row rowScanner) (*models.PendingPayment, error) {
	var p models.PendingPayment
	var payload []byte
	if err := row.Scan(
		&p.ID,
		&p.CompanyID,
		&p.Provider,
		&p.Status,
		&p.ProviderReference,
		&payload,
		&p.OrderID,
		&p.CompletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p.OrderPayload); err != nil {
			return nil, fmt.Errorf("decode order payload for %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (s *Store) CreatePendingPayment(ctx context.Context, p *models.PendingPayment) error {
	payload, err := json.Marshal(p.OrderPayload)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO pending_payments (
			id, company_id, provider, status, provider_reference, order_payload
		) VALUES ($1,$2,$3,$4,$5,$6)
	`, p.ID, p.CompanyID, p.Provider, p.Status, p.ProviderReference, payload)
	return err
}

func (s *Store) GetPendingPayment(ctx context.Context, id string) (*models.PendingPayment, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_payments WHERE id=$1`, id)
	p, err := scanPending(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (s *Store) GetPendingPaymentByReference(ctx context.Context, provider models.Provider, reference string) (*models.PendingPayment, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_payments
		WHERE provider=$1 AND provider_reference=$2
		ORDER BY created_at DESC
		LIMIT 1
	`, provider, reference)
	p, err := scanPending(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// ClaimPendingPayment is the idempotency guard: exactly one concurrent caller
// moves the row out of pending.
func (s *Store) ClaimPendingPayment(ctx context.Context, id string) (bool, error) {
	return affected(s.Pool.Exec(ctx, `
		UPDATE pending_payments
		SET status='processing', updated_at=now()
		WHERE id=$1 AND status='pending'
	`, id))
}

func (s *Store) CancelPendingPayment(ctx context.Context, id string) (bool, error) {
	return affected(s.Pool.Exec(ctx, `
		UPDATE pending_payments
		SET status='cancelled', updated_at=now()
		WHERE id=$1 AND status='pending'
	`, id))
}

// CompletePendingPayment inserts the order with its items and marks the
// claimed row completed in one transaction. On error nothing is written and
// the row stays processing.
func (s *Store) CompletePendingPayment(ctx context.Context, pendingID string, order *models.Order, items []models.OrderItem, completedAt time.Time) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if err := insertOrder(ctx, tx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i := range items {
			if err := insertOrderItem(ctx, tx, &items[i]); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE pending_payments
			SET status='completed', order_id=$2, completed_at=$3, updated_at=now()
			WHERE id=$1 AND status='processing'
		`, pendingID, order.ID, completedAt)
		if err != nil {
			return fmt.Errorf("complete pending payment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("complete pending payment %s: row is no longer processing", pendingID)
		}
		return nil
	})
}

// ListSweepCandidates returns pending rows created inside [createdAfter, createdBefore).
func (s *Store) ListSweepCandidates(ctx context.Context, createdAfter, createdBefore time.Time, limit int) ([]*models.PendingPayment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_payments
		WHERE status='pending' AND created_at >= $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, createdAfter, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectPending(rows)
}

func (s *Store) ListStuckProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.PendingPayment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_payments
		WHERE status='processing' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectPending(rows)
}

func collectPending(rows pgx.Rows) ([]*models.PendingPayment, error) {
	defer rows.Close()
	var out []*models.PendingPayment
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
