package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"loyaltydesk.org/internal/audit"
)

// Audit implements audit.Store through the log_audit database function.
type Audit struct {
	db *sql.DB
}

var _ audit.Store = (*Audit)(nil)

func (a *Audit) Append(ctx context.Context, e audit.Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	var actor sql.NullString
	if e.ActorID != nil {
		actor = nullIfEmpty(*e.ActorID)
	}
	_, err = a.db.ExecContext(ctx, `select log_audit($1, $2, $3, $4, $5, $6)`,
		e.ID, actor, e.Action, e.EntityType, e.EntityID, details)
	return err
}

func (a *Audit) List(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		select id, actor_id, action, entity_type, entity_id, details, created_at
		from audit_log
		where ($1 = '' or action = $1) and ($2 = '' or entity_type = $2)
		order by created_at desc
		limit $3
	`, f.Action, f.EntityType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e      audit.Entry
			actor  sql.NullString
			rawDet []byte
		)
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.EntityType, &e.EntityID, &rawDet, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = stringPtr(actor)
		e.Details = map[string]any{}
		if len(rawDet) > 0 {
			if err := json.Unmarshal(rawDet, &e.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
