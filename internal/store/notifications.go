package store

import (
	"context"
	"encoding/json"

	"ComandaPay/internal/models"
)

func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO notifications (id, company_id, type, title, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, n.ID, n.CompanyID, n.Type, n.Title, n.Message, n.CreatedAt)
	return err
}

func (s *Store) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO audit_logs (id, action, entity_type, entity_id, actor_id, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.Action, e.EntityType, e.EntityID, e.ActorID, details, e.CreatedAt)
	return err
}
