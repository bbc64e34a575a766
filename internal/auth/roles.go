package auth

import "strings"

// Role is a platform-wide capability tier, independent of organization membership.
type Role string

const (
	RoleUser       Role = "user"
	RoleStaff      Role = "staff"
	RoleSuperAdmin Role = "super_admin"
)

// OrgRole is a per-organization capability tier.
type OrgRole string

const (
	OrgRoleUser  OrgRole = "org_user"
	OrgRoleAdmin OrgRole = "org_admin"
)

var roleRank = map[Role]int{
	RoleUser:       1,
	RoleStaff:      2,
	RoleSuperAdmin: 3,
}

// ParseRole normalises raw into a Role. Unknown values report ok=false.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := roleRank[r]; !ok {
		return "", false
	}
	return r, true
}

// Valid reports whether r is one of the three platform roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Satisfies reports whether r carries at least the capabilities of required.
func (r Role) Satisfies(required Role) bool {
	have, ok := roleRank[r]
	if !ok {
		return false
	}
	return have >= roleRank[required]
}

// Capabilities are the boolean flags consumed by route guards.
type Capabilities struct {
	IsAdmin bool `json:"is_admin"`
	IsStaff bool `json:"is_staff"`
}

// Capabilities derives the flags for r. They are strictly additive up the hierarchy.
func (r Role) Capabilities() Capabilities {
	return Capabilities{
		IsAdmin: r == RoleSuperAdmin,
		IsStaff: r == RoleStaff || r == RoleSuperAdmin,
	}
}

// ParseOrgRole normalises raw into an OrgRole, defaulting to org_user.
func ParseOrgRole(raw string) (OrgRole, bool) {
	switch OrgRole(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OrgRoleUser:
		return OrgRoleUser, true
	case OrgRoleAdmin:
		return OrgRoleAdmin, true
	default:
		return "", false
	}
}
