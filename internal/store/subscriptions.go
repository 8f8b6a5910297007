package store

import (
	"context"
	"time"

	"ComandaPay/internal/models"

	"github.com/jackc/pgx/v5"
)

func (s *Store) GetCredential(ctx context.Context, companyID string, provider models.Provider) (*models.Credential, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT company_id, provider, COALESCE(access_token,''), COALESCE(client_id,''), COALESCE(client_secret,'')
		FROM payment_credentials
		WHERE company_id=$1 AND provider=$2 AND is_active
	`, companyID, provider)

	var c models.Credential
	if err := row.Scan(&c.CompanyID, &c.Provider, &c.AccessToken, &c.ClientID, &c.ClientSecret); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) GetSubscriptionPaymentByReference(ctx context.Context, companyID, reference string) (*models.SubscriptionPayment, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, company_id, plan_id, provider_reference, amount, status, paid_at, created_at
		FROM subscription_payments
		WHERE company_id=$1 AND provider_reference=$2
		ORDER BY created_at DESC
		LIMIT 1
	`, companyID, reference)

	var p models.SubscriptionPayment
	if err := row.Scan(&p.ID, &p.CompanyID, &p.PlanID, &p.ProviderReference, &p.Amount, &p.Status, &p.PaidAt, &p.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ActivateSubscription marks the cycle paid and activates the plan. Only the
// caller that moves the payment out of pending activates.
func (s *Store) ActivateSubscription(ctx context.Context, p *models.SubscriptionPayment, paidAt, periodEnd time.Time) (bool, error) {
	activated := false
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscription_payments
			SET status='paid', paid_at=$2
			WHERE id=$1 AND status='pending'
		`, p.ID, paidAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO company_subscriptions (company_id, plan_id, status, current_period_end, updated_at)
			VALUES ($1,$2,'active',$3,now())
			ON CONFLICT (company_id) DO UPDATE
			SET plan_id=EXCLUDED.plan_id, status='active',
				current_period_end=EXCLUDED.current_period_end, updated_at=now()
		`, p.CompanyID, p.PlanID, periodEnd); err != nil {
			return err
		}
		activated = true
		return nil
	})
	return activated, err
}

func (s *Store) MarkSubscriptionPaymentRefunded(ctx context.Context, companyID, reference string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE subscription_payments SET status='refunded'
		WHERE company_id=$1 AND provider_reference=$2
	`, companyID, reference)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
