package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loyaltydesk.org/internal/ids"
	"loyaltydesk.org/internal/imports"
)

// Imports implements imports.Store.
type Imports struct {
	db *sql.DB
}

var _ imports.Store = (*Imports)(nil)

func (i *Imports) CreateBatch(ctx context.Context, b imports.Batch) (imports.Batch, error) {
	if b.ID == "" {
		b.ID = ids.New()
	}
	err := i.db.QueryRowContext(ctx, `
		insert into import_batches (id, file_name, row_count, uploader_id)
		values ($1, $2, $3, $4)
		returning created_at
	`, b.ID, b.FileName, b.RowCount, b.UploaderID).Scan(&b.CreatedAt)
	if err != nil {
		return imports.Batch{}, err
	}
	return b, nil
}

// InsertSnapshots writes rows as one multi-row insert; the chunk either
// lands whole or not at all.
func (i *Imports) InsertSnapshots(ctx context.Context, rows []imports.Snapshot) error {
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	args := make([]any, 0, len(rows)*6)
	sb.WriteString(`insert into spend_snapshots (id, batch_id, external_code, company_name, ytd_spend, captured_at) values `)
	for n, r := range rows {
		if n > 0 {
			sb.WriteString(", ")
		}
		base := n * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		id := r.ID
		if id == "" {
			id = ids.New()
		}
		args = append(args, id, r.BatchID, r.ExternalCode, r.CompanyName, r.YTDSpend, r.CapturedAt)
	}
	_, err := i.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (i *Imports) ListBatches(ctx context.Context, limit int) ([]imports.Batch, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := i.db.QueryContext(ctx, `
		select id, file_name, row_count, uploader_id, created_at
		from import_batches
		order by created_at desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []imports.Batch
	for rows.Next() {
		var b imports.Batch
		if err := rows.Scan(&b.ID, &b.FileName, &b.RowCount, &b.UploaderID, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (i *Imports) Snapshots(ctx context.Context, batchID string) ([]imports.Snapshot, error) {
	var exists bool
	if err := i.db.QueryRowContext(ctx, `select exists (select 1 from import_batches where id = $1)`, batchID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, imports.ErrNotFound
	}
	rows, err := i.db.QueryContext(ctx, `
		select id, batch_id, external_code, company_name, ytd_spend, captured_at
		from spend_snapshots
		where batch_id = $1
		order by external_code
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []imports.Snapshot
	for rows.Next() {
		var s imports.Snapshot
		if err := rows.Scan(&s.ID, &s.BatchID, &s.ExternalCode, &s.CompanyName, &s.YTDSpend, &s.CapturedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
