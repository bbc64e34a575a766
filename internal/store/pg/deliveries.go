package pg

import (
	"context"
	"database/sql"

	"loyaltydesk.org/internal/notify"
)

// Deliveries implements notify.DeliveryLog.
type Deliveries struct {
	db *sql.DB
}

var _ notify.DeliveryLog = (*Deliveries)(nil)

func (d *Deliveries) LogDelivery(ctx context.Context, in notify.Delivery) error {
	_, err := d.db.ExecContext(ctx, `
		insert into email_deliveries (id, user_id, template_type, status, error, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, in.ID, in.UserID, in.TemplateType, in.Status, in.Error, in.CreatedAt)
	return err
}
