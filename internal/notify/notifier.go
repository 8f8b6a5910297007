package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"ComandaPay/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TypeRefundCompleted = "refund_completed"
	TypeRefundRejected  = "refund_rejected"
	TypeRefundFailed    = "refund_failed"
)

type NotificationStore interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
}

// Notifier writes in-app notifications for store owners and sends customer
// receipts.
type Notifier struct {
	Store  NotificationStore
	Mailer Mailer
	Log    *zap.Logger
	Now    func() time.Time
}

func (n Notifier) NotifyOwner(ctx context.Context, companyID, typ, title, message string) error {
	now := time.Now().UTC()
	if n.Now != nil {
		now = n.Now().UTC()
	}
	return n.Store.InsertNotification(ctx, &models.Notification{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: now,
	})
}

// SendRefundReceipt emails the customer. A disabled mailer is not an error.
func (n Notifier) SendRefundReceipt(ctx context.Context, r *models.RefundRequest) error {
	if r.CustomerEmail == "" {
		return nil
	}
	if n.Mailer == nil {
		return nil
	}
	amount := r.RequestedAmount.StringFixed(2)
	e := Email{
		To:      []string{r.CustomerEmail},
		Subject: "Seu reembolso foi processado",
		Text: fmt.Sprintf("Olá %s,\n\nSeu reembolso de R$ %s foi aprovado e processado.\nO valor pode levar alguns dias para aparecer no seu extrato.\n",
			r.CustomerName, amount),
		HTML: fmt.Sprintf("<p>Olá %s,</p><p>Seu reembolso de <strong>R$ %s</strong> foi aprovado e processado.</p><p>O valor pode levar alguns dias para aparecer no seu extrato.</p>",
			html.EscapeString(r.CustomerName), amount),
	}
	err := n.Mailer.Send(ctx, e)
	if errors.Is(err, ErrMailDisabled) {
		if n.Log != nil {
			n.Log.Info("mail disabled, refund receipt skipped", zap.String("refund_request_id", r.ID))
		}
		return nil
	}
	return err
}
