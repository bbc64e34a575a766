package auth

import "testing"

func TestCapabilitiesHierarchy(t *testing.T) {
	cases := []struct {
		role    Role
		isAdmin bool
		isStaff bool
	}{
		{RoleUser, false, false},
		{RoleStaff, false, true},
		{RoleSuperAdmin, true, true},
	}
	for _, tc := range cases {
		caps := tc.role.Capabilities()
		if caps.IsAdmin != tc.isAdmin || caps.IsStaff != tc.isStaff {
			t.Fatalf("%s: got %+v", tc.role, caps)
		}
	}
}

func TestSatisfies(t *testing.T) {
	if !RoleSuperAdmin.Satisfies(RoleStaff) || !RoleSuperAdmin.Satisfies(RoleUser) {
		t.Fatal("super_admin should satisfy lower roles")
	}
	if RoleStaff.Satisfies(RoleSuperAdmin) {
		t.Fatal("staff must not satisfy super_admin")
	}
	if RoleUser.Satisfies(RoleStaff) {
		t.Fatal("user must not satisfy staff")
	}
	if Role("root").Satisfies(RoleUser) {
		t.Fatal("unknown role must satisfy nothing")
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole("  Super_Admin "); !ok || r != RoleSuperAdmin {
		t.Fatalf("got %q %v", r, ok)
	}
	if _, ok := ParseRole("owner"); ok {
		t.Fatal("expected unknown role to be rejected")
	}
	if r, ok := ParseOrgRole(""); !ok || r != OrgRoleUser {
		t.Fatalf("empty org role should default to org_user, got %q", r)
	}
}
