package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/ids"
)

// Profiles implements auth.Store and auth.RoleSource.
type Profiles struct {
	db *sql.DB
}

var (
	_ auth.Store      = (*Profiles)(nil)
	_ auth.RoleSource = (*Profiles)(nil)
)

func (p *Profiles) CreateProfile(ctx context.Context, in auth.Profile) (auth.Profile, error) {
	if in.ID == "" {
		in.ID = ids.New()
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	err := p.db.QueryRowContext(ctx, `
		insert into profiles (id, email, display_name, password_hash, is_admin)
		values ($1, $2, $3, $4, $5)
		returning created_at
	`, in.ID, in.Email, in.DisplayName, in.PasswordHash, in.IsAdmin).Scan(&in.CreatedAt)
	if err != nil {
		if isCode(err, pgErrUniqueViolation) {
			return auth.Profile{}, auth.ErrConflict
		}
		return auth.Profile{}, err
	}
	return in, nil
}

func (p *Profiles) ProfileByEmail(ctx context.Context, email string) (auth.Profile, error) {
	return p.one(ctx, `where email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (p *Profiles) ProfileByID(ctx context.Context, id string) (auth.Profile, error) {
	return p.one(ctx, `where id = $1`, id)
}

func (p *Profiles) one(ctx context.Context, where string, arg any) (auth.Profile, error) {
	var out auth.Profile
	err := p.db.QueryRowContext(ctx, `
		select id, email, display_name, password_hash, is_admin, created_at
		from profiles `+where, arg).
		Scan(&out.ID, &out.Email, &out.DisplayName, &out.PasswordHash, &out.IsAdmin, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Profile{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Profile{}, err
	}
	return out, nil
}

func (p *Profiles) SetRole(ctx context.Context, userID string, role auth.Role) error {
	_, err := p.db.ExecContext(ctx, `
		insert into user_platform_roles (user_id, role, updated_at)
		values ($1, $2, now())
		on conflict (user_id) do update set role = excluded.role, updated_at = now()
	`, userID, string(role))
	if err != nil {
		if isCode(err, pgErrForeignKeyViolation) {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

// RoleFunction calls the database role function. A null result means the
// profile has no role at all.
func (p *Profiles) RoleFunction(ctx context.Context, userID string) (string, error) {
	var role sql.NullString
	err := p.db.QueryRowContext(ctx, `select get_user_platform_role_text($1)`, userID).Scan(&role)
	if err != nil {
		return "", roleErr(err)
	}
	return role.String, nil
}

func (p *Profiles) RoleTable(ctx context.Context, userID string) (string, error) {
	var role string
	err := p.db.QueryRowContext(ctx, `select role from user_platform_roles where user_id = $1`, userID).Scan(&role)
	if err != nil {
		return "", roleErr(err)
	}
	return role, nil
}

func (p *Profiles) LegacyAdminFlag(ctx context.Context, userID string) (bool, error) {
	var isAdmin bool
	err := p.db.QueryRowContext(ctx, `select is_admin from profiles where id = $1`, userID).Scan(&isAdmin)
	if err != nil {
		return false, roleErr(err)
	}
	return isAdmin, nil
}

func roleErr(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return auth.ErrNotFound
	case isCode(err, pgErrInsufficientPriv):
		return errors.Join(auth.ErrPolicyDenied, err)
	default:
		return err
	}
}
