package auth

import (
	"context"
	"errors"
	"testing"
)

type stubRoleSource struct {
	function func(ctx context.Context, userID string) (string, error)
	table    func(ctx context.Context, userID string) (string, error)
	legacy   func(ctx context.Context, userID string) (bool, error)
	calls    []string
}

func (s *stubRoleSource) RoleFunction(ctx context.Context, userID string) (string, error) {
	s.calls = append(s.calls, "function")
	if s.function == nil {
		return "", errors.New("function missing")
	}
	return s.function(ctx, userID)
}

func (s *stubRoleSource) RoleTable(ctx context.Context, userID string) (string, error) {
	s.calls = append(s.calls, "table")
	if s.table == nil {
		return "", errors.New("table missing")
	}
	return s.table(ctx, userID)
}

func (s *stubRoleSource) LegacyAdminFlag(ctx context.Context, userID string) (bool, error) {
	s.calls = append(s.calls, "legacy")
	if s.legacy == nil {
		return false, errors.New("legacy missing")
	}
	return s.legacy(ctx, userID)
}

func TestResolverFunctionWins(t *testing.T) {
	src := &stubRoleSource{
		function: func(context.Context, string) (string, error) { return "staff", nil },
	}
	role := DefaultResolver(src, nil).Resolve(context.Background(), "u1")
	if role != RoleStaff {
		t.Fatalf("expected staff, got %s", role)
	}
	if len(src.calls) != 1 {
		t.Fatalf("expected single call, got %v", src.calls)
	}
}

func TestResolverFallsBackOnPolicyDenied(t *testing.T) {
	src := &stubRoleSource{
		function: func(context.Context, string) (string, error) { return "", ErrPolicyDenied },
		table:    func(context.Context, string) (string, error) { return "", errors.New("connection reset") },
		legacy:   func(context.Context, string) (bool, error) { return true, nil },
	}
	role := DefaultResolver(src, nil).Resolve(context.Background(), "u1")
	if role != RoleSuperAdmin {
		t.Fatalf("expected super_admin from legacy flag, got %s", role)
	}
	if len(src.calls) != 3 {
		t.Fatalf("expected all strategies tried, got %v", src.calls)
	}
}

func TestResolverNoRoleStopsChain(t *testing.T) {
	src := &stubRoleSource{
		function: func(context.Context, string) (string, error) { return "", errors.New("boom") },
		table:    func(context.Context, string) (string, error) { return "", ErrNotFound },
		legacy:   func(context.Context, string) (bool, error) { return true, nil },
	}
	role := DefaultResolver(src, nil).Resolve(context.Background(), "u1")
	if role != RoleUser {
		t.Fatalf("expected user, got %s", role)
	}
	if len(src.calls) != 2 {
		t.Fatalf("legacy flag must not be consulted after NoRole, calls=%v", src.calls)
	}
}

func TestResolverExhaustedDefaultsToUser(t *testing.T) {
	src := &stubRoleSource{}
	if role := DefaultResolver(src, nil).Resolve(context.Background(), "u1"); role != RoleUser {
		t.Fatalf("expected user, got %s", role)
	}
}

func TestStrategyErrorsAreTyped(t *testing.T) {
	src := &stubRoleSource{
		table: func(context.Context, string) (string, error) { return "", ErrPolicyDenied },
	}
	_, err := TableStrategy{Source: src}.Resolve(context.Background(), "u1")
	var rerr *RoleResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RoleResolutionError, got %v", err)
	}
	if rerr.Kind != PolicyDenied || rerr.Strategy != "table" {
		t.Fatalf("unexpected error %+v", rerr)
	}
	if !errors.Is(err, ErrPolicyDenied) {
		t.Fatal("expected wrapped cause")
	}

	src.table = func(context.Context, string) (string, error) { return "wizard", nil }
	_, err = TableStrategy{Source: src}.Resolve(context.Background(), "u1")
	if !errors.As(err, &rerr) || rerr.Kind != Unavailable {
		t.Fatalf("unknown role string should be unavailable, got %v", err)
	}
}
