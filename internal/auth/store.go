package auth

import "context"

// Store persists profiles and platform role assignments.
type Store interface {
	CreateProfile(ctx context.Context, p Profile) (Profile, error)
	ProfileByEmail(ctx context.Context, email string) (Profile, error)
	ProfileByID(ctx context.Context, id string) (Profile, error)
	// SetRole upserts the single role row for userID.
	SetRole(ctx context.Context, userID string, role Role) error
}

// RoleSource exposes the three places a platform role may be recorded.
// Implementations report ErrNotFound when the source holds no row for the
// user and ErrPolicyDenied when the backend refuses the read.
type RoleSource interface {
	RoleFunction(ctx context.Context, userID string) (string, error)
	RoleTable(ctx context.Context, userID string) (string, error)
	LegacyAdminFlag(ctx context.Context, userID string) (bool, error)
}

// Directory looks up contact details for principals.
type Directory struct{ Store Store }

// Email returns the address on the principal's profile.
func (d Directory) Email(ctx context.Context, principalID string) (string, error) {
	p, err := d.Store.ProfileByID(ctx, principalID)
	if err != nil {
		return "", err
	}
	return p.Email, nil
}
