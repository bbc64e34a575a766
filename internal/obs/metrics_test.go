package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "/"},
		{"/metrics", "/metrics"},
		{"/v1/courses", "/v1/courses"},
		{"/v1/courses/01HZX/enroll", "/v1/courses/:id/enroll"},
		{"/v1/admin/redemptions/abc/decision", "/v1/admin/redemptions/:id/decision"},
		{"/v1/admin/users/u1/role", "/v1/admin/users/:id/role"},
		{"/v1/organizations/o1/redemptions", "/v1/organizations/:id/redemptions"},
		{"/v1/me/rewards?refresh=1", "/v1/me/rewards"},
		{"/v1/admin/organizations/o9/members", "/v1/admin/organizations/:id/members"},
	}
	for _, tc := range cases {
		if got := CanonicalPath(tc.in); got != tc.want {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
