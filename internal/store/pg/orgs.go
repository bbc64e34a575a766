package pg

import (
	"context"
	"database/sql"
	"errors"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/ids"
	"loyaltydesk.org/internal/orgs"
)

// Orgs implements orgs.Store. PointTotal is summed from member balances at
// read time.
type Orgs struct {
	db *sql.DB
}

var _ orgs.Store = (*Orgs)(nil)

// UpsertOrganizations writes the chunk in one transaction keyed by external code.
func (o *Orgs) UpsertOrganizations(ctx context.Context, rows []orgs.Upsert) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			insert into organizations (id, name, external_code, last_updated_at)
			values ($1, $2, $3, $4)
			on conflict (external_code) do update
			set name = excluded.name, last_updated_at = excluded.last_updated_at
		`, ids.New(), r.Name, r.ExternalCode, r.LastUpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const orgSelect = `
	select o.id, o.name, o.external_code, o.last_updated_at, coalesce(sum(p.total_points), 0)
	from organizations o
	left join organization_members m on m.organization_id = o.id
	left join profiles p on p.id = m.principal_id
`

func scanOrg(row interface{ Scan(...any) error }) (orgs.Organization, error) {
	var out orgs.Organization
	err := row.Scan(&out.ID, &out.Name, &out.ExternalCode, &out.LastUpdatedAt, &out.PointTotal)
	return out, err
}

func (o *Orgs) List(ctx context.Context) ([]orgs.Organization, error) {
	rows, err := o.db.QueryContext(ctx, orgSelect+` group by o.id order by o.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []orgs.Organization
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (o *Orgs) Get(ctx context.Context, id string) (orgs.Organization, error) {
	org, err := scanOrg(o.db.QueryRowContext(ctx, orgSelect+` where o.id = $1 group by o.id`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return orgs.Organization{}, orgs.ErrNotFound
	}
	return org, err
}

func (o *Orgs) Members(ctx context.Context, orgID string) ([]orgs.Member, error) {
	rows, err := o.db.QueryContext(ctx, `
		select organization_id, principal_id, role, joined_at
		from organization_members
		where organization_id = $1
		order by joined_at
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []orgs.Member
	for rows.Next() {
		var (
			m    orgs.Member
			role string
		)
		if err := rows.Scan(&m.OrganizationID, &m.PrincipalID, &role, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.Role, _ = auth.ParseOrgRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (o *Orgs) AddMember(ctx context.Context, m orgs.Member) (orgs.Member, error) {
	err := o.db.QueryRowContext(ctx, `
		insert into organization_members (organization_id, principal_id, role)
		values ($1, $2, $3)
		returning joined_at
	`, m.OrganizationID, m.PrincipalID, string(m.Role)).Scan(&m.JoinedAt)
	if err != nil {
		switch {
		case isCode(err, pgErrUniqueViolation):
			return orgs.Member{}, orgs.ErrConflict
		case isCode(err, pgErrForeignKeyViolation):
			return orgs.Member{}, orgs.ErrNotFound
		}
		return orgs.Member{}, err
	}
	return m, nil
}

func (o *Orgs) IsMember(ctx context.Context, orgID, principalID string) (bool, error) {
	var ok bool
	err := o.db.QueryRowContext(ctx, `
		select exists (select 1 from organization_members where organization_id = $1 and principal_id = $2)
	`, orgID, principalID).Scan(&ok)
	return ok, err
}
