package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"loyaltydesk.org/internal/ids"
	"loyaltydesk.org/internal/redemptions"
)

// Redemptions implements redemptions.Store.
type Redemptions struct {
	db *sql.DB
}

var _ redemptions.Store = (*Redemptions)(nil)

const redemptionColumns = `id, organization_id, requester_id, points, reason, status, approver_id, created_at, decided_at`

func scanRedemption(row interface{ Scan(...any) error }) (redemptions.Request, error) {
	var (
		r        redemptions.Request
		status   string
		approver sql.NullString
		decided  sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.RequesterID, &r.Points, &r.Reason, &status, &approver, &r.CreatedAt, &decided); err != nil {
		return redemptions.Request{}, err
	}
	r.Status = redemptions.Status(status)
	r.ApproverID = stringPtr(approver)
	r.DecidedAt = timePtr(decided)
	return r, nil
}

func (s *Redemptions) Create(ctx context.Context, r redemptions.Request) (redemptions.Request, error) {
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.Status == "" {
		r.Status = redemptions.StatusPending
	}
	out, err := scanRedemption(s.db.QueryRowContext(ctx, `
		insert into redemption_requests (id, organization_id, requester_id, points, reason, status)
		values ($1, $2, $3, $4, $5, $6)
		returning `+redemptionColumns,
		r.ID, r.OrganizationID, r.RequesterID, r.Points, r.Reason, string(r.Status)))
	if err != nil {
		if isCode(err, pgErrForeignKeyViolation) {
			return redemptions.Request{}, redemptions.ErrNotFound
		}
		return redemptions.Request{}, err
	}
	return out, nil
}

func (s *Redemptions) Get(ctx context.Context, id string) (redemptions.Request, error) {
	r, err := scanRedemption(s.db.QueryRowContext(ctx, `select `+redemptionColumns+` from redemption_requests where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return redemptions.Request{}, redemptions.ErrNotFound
	}
	return r, err
}

func (s *Redemptions) List(ctx context.Context, status redemptions.Status, limit int) ([]redemptions.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+redemptionColumns+`
		from redemption_requests
		where ($1 = '' or status = $1)
		order by created_at desc
		limit $2
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []redemptions.Request
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Decide transitions only pending rows. A miss is resolved to not found or
// an invalid transition by re-reading the row.
func (s *Redemptions) Decide(ctx context.Context, id, approverID string, status redemptions.Status, at time.Time) (redemptions.Request, error) {
	r, err := scanRedemption(s.db.QueryRowContext(ctx, `
		update redemption_requests
		set status = $2, approver_id = $3, decided_at = $4
		where id = $1 and status = 'pending'
		returning `+redemptionColumns, id, string(status), approverID, at))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return redemptions.Request{}, getErr
		}
		return redemptions.Request{}, redemptions.ErrInvalidTransition
	}
	return r, err
}
