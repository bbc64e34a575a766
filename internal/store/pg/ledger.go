package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"loyaltydesk.org/internal/ids"
	"loyaltydesk.org/internal/ledger"
)

// Ledger implements ledger.Service. The profiles.total_points counter is
// updated in the same transaction as every insert.
type Ledger struct {
	db *sql.DB
}

var _ ledger.Service = (*Ledger)(nil)

func (l *Ledger) Record(ctx context.Context, principalID string, delta int64, description string) (ledger.Transaction, error) {
	if err := ledger.Validate(principalID, delta, description); err != nil {
		return ledger.Transaction{}, err
	}
	description = strings.TrimSpace(description)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var balance int64
	err = tx.QueryRowContext(ctx, `
		update profiles set total_points = total_points + $2
		where id = $1
		returning total_points
	`, principalID, delta).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Transaction{}, err
	}

	t := ledger.Transaction{
		ID:          ids.New(),
		PrincipalID: principalID,
		Delta:       delta,
		Description: description,
		Balance:     balance,
	}
	if err := tx.QueryRowContext(ctx, `
		insert into point_transactions (id, principal_id, delta, description, balance_after)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, t.ID, principalID, delta, description, balance).Scan(&t.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return t, nil
}

func (l *Ledger) Balance(ctx context.Context, principalID string) (int64, error) {
	var bal int64
	err := l.db.QueryRowContext(ctx, `select total_points from profiles where id = $1`, principalID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrNotFound
	}
	return bal, err
}

func (l *Ledger) List(ctx context.Context, principalID string, limit int) ([]ledger.Transaction, error) {
	rows, err := l.db.QueryContext(ctx, `
		select id, principal_id, delta, description, balance_after, created_at
		from point_transactions
		where principal_id = $1
		order by created_at desc, id desc
		limit $2
	`, principalID, ledger.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		if err := rows.Scan(&t.ID, &t.PrincipalID, &t.Delta, &t.Description, &t.Balance, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (l *Ledger) HasDescription(ctx context.Context, principalID, description string) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx, `
		select exists (select 1 from point_transactions where principal_id = $1 and description = $2)
	`, principalID, strings.TrimSpace(description)).Scan(&exists)
	return exists, err
}

func (l *Ledger) Reconcile(ctx context.Context, principalID string) (int64, error) {
	var bal int64
	err := l.db.QueryRowContext(ctx, `
		update profiles
		set total_points = coalesce((select sum(delta) from point_transactions where principal_id = $1), 0)
		where id = $1
		returning total_points
	`, principalID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.ErrNotFound
	}
	return bal, err
}
