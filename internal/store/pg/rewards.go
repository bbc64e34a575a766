package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"loyaltydesk.org/internal/ids"
	"loyaltydesk.org/internal/rewards"
)

// Rewards implements rewards.CatalogWriter and rewards.PerkStore.
type Rewards struct {
	db *sql.DB
}

var (
	_ rewards.CatalogWriter = (*Rewards)(nil)
	_ rewards.PerkStore     = (*Rewards)(nil)
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *Rewards) Tiers(ctx context.Context) ([]rewards.Tier, error) {
	return scanTiers(ctx, r.db, `select id, name, min_points, max_points from tiers order by min_points`)
}

func scanTiers(ctx context.Context, q queryer, query string) ([]rewards.Tier, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rewards.Tier
	for rows.Next() {
		var (
			t       rewards.Tier
			ceiling sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.MinPoints, &ceiling); err != nil {
			return nil, err
		}
		if ceiling.Valid {
			v := ceiling.Int64
			t.MaxPoints = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Rewards) Milestones(ctx context.Context) ([]rewards.Milestone, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, coalesce(tier_id, ''), name, description, points_required, max_value
		from milestones
		order by points_required
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rewards.Milestone
	for rows.Next() {
		var m rewards.Milestone
		if err := rows.Scan(&m.ID, &m.TierID, &m.Name, &m.Description, &m.PointsRequired, &m.MaxValue); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateTier validates the ladder including t under a table lock.
func (r *Rewards) CreateTier(ctx context.Context, t rewards.Tier) (rewards.Tier, error) {
	if strings.TrimSpace(t.Name) == "" {
		return rewards.Tier{}, rewards.ErrInvalidInput
	}
	if t.ID == "" {
		t.ID = ids.New()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return rewards.Tier{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `lock table tiers in share row exclusive mode`); err != nil {
		return rewards.Tier{}, err
	}
	existing, err := scanTiers(ctx, tx, `select id, name, min_points, max_points from tiers`)
	if err != nil {
		return rewards.Tier{}, err
	}
	if err := rewards.ValidateLadder(append(existing, t)); err != nil {
		return rewards.Tier{}, err
	}
	var ceiling sql.NullInt64
	if t.MaxPoints != nil {
		ceiling = sql.NullInt64{Int64: *t.MaxPoints, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		insert into tiers (id, name, min_points, max_points) values ($1, $2, $3, $4)
	`, t.ID, t.Name, t.MinPoints, ceiling); err != nil {
		if isCode(err, pgErrUniqueViolation) {
			return rewards.Tier{}, rewards.ErrInvalidLadder
		}
		return rewards.Tier{}, err
	}
	return t, tx.Commit()
}

func (r *Rewards) CreateMilestone(ctx context.Context, m rewards.Milestone) (rewards.Milestone, error) {
	if strings.TrimSpace(m.Name) == "" || m.PointsRequired < 0 {
		return rewards.Milestone{}, rewards.ErrInvalidInput
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	_, err := r.db.ExecContext(ctx, `
		insert into milestones (id, tier_id, name, description, points_required, max_value)
		values ($1, $2, $3, $4, $5, $6)
	`, m.ID, nullIfEmpty(m.TierID), m.Name, m.Description, m.PointsRequired, m.MaxValue)
	if err != nil {
		if isCode(err, pgErrForeignKeyViolation) {
			return rewards.Milestone{}, rewards.ErrNotFound
		}
		return rewards.Milestone{}, err
	}
	return m, nil
}

const perkColumns = `id, principal_id, milestone_id, status, redeemed_at, decided_at`

func scanPerk(row interface{ Scan(...any) error }) (rewards.Perk, error) {
	var (
		p       rewards.Perk
		status  string
		decided sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.PrincipalID, &p.MilestoneID, &status, &p.RedeemedAt, &decided); err != nil {
		return rewards.Perk{}, err
	}
	p.Status = rewards.PerkStatus(status)
	p.DecidedAt = timePtr(decided)
	return p, nil
}

func (r *Rewards) perks(ctx context.Context, query string, args ...any) ([]rewards.Perk, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rewards.Perk
	for rows.Next() {
		p, err := scanPerk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Rewards) Perks(ctx context.Context, principalID string) ([]rewards.Perk, error) {
	return r.perks(ctx, `select `+perkColumns+` from perks where principal_id = $1 order by redeemed_at`, principalID)
}

func (r *Rewards) PerksByStatus(ctx context.Context, status rewards.PerkStatus, limit int) ([]rewards.Perk, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.perks(ctx, `select `+perkColumns+` from perks where status = $1 order by redeemed_at limit $2`, string(status), limit)
}

func (r *Rewards) InsertPerk(ctx context.Context, p rewards.Perk) (rewards.Perk, error) {
	if p.ID == "" {
		p.ID = ids.New()
	}
	if p.Status == "" {
		p.Status = rewards.PerkPending
	}
	row := r.db.QueryRowContext(ctx, `
		insert into perks (id, principal_id, milestone_id, status)
		values ($1, $2, $3, $4)
		returning `+perkColumns, p.ID, p.PrincipalID, p.MilestoneID, string(p.Status))
	out, err := scanPerk(row)
	if err != nil {
		switch {
		case isCode(err, pgErrUniqueViolation):
			return rewards.Perk{}, rewards.ErrAlreadyRedeemed
		case isCode(err, pgErrForeignKeyViolation):
			return rewards.Perk{}, rewards.ErrNotFound
		}
		return rewards.Perk{}, err
	}
	return out, nil
}

func (r *Rewards) Perk(ctx context.Context, id string) (rewards.Perk, error) {
	p, err := scanPerk(r.db.QueryRowContext(ctx, `select `+perkColumns+` from perks where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rewards.Perk{}, rewards.ErrNotFound
	}
	return p, err
}

// DecidePerk only updates pending rows; a miss is disambiguated by a re-read.
func (r *Rewards) DecidePerk(ctx context.Context, id string, status rewards.PerkStatus) (rewards.Perk, error) {
	p, err := scanPerk(r.db.QueryRowContext(ctx, `
		update perks set status = $2, decided_at = now()
		where id = $1 and status = 'pending'
		returning `+perkColumns, id, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Perk(ctx, id); getErr != nil {
			return rewards.Perk{}, getErr
		}
		return rewards.Perk{}, rewards.ErrAlreadyDecided
	}
	return p, err
}
