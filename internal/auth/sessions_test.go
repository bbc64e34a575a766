package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"loyaltydesk.org/internal/stream"
)

type recordedAudit struct {
	action   string
	entityID string
	details  map[string]any
}

type stubAuditor struct{ entries []recordedAudit }

func (s *stubAuditor) Record(_ context.Context, action, _ string, entityID string, details map[string]any) {
	s.entries = append(s.entries, recordedAudit{action: action, entityID: entityID, details: details})
}

func newTestSessions(t *testing.T, opts ...SessionsOption) (*Sessions, *InMemoryStore) {
	t.Helper()
	store := NewInMemoryStore()
	tokens, err := NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	svc, err := NewSessions(store, tokens, nil, opts...)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	return svc, store
}

func TestSignUpLoginLogout(t *testing.T) {
	svc, _ := newTestSessions(t)
	ctx := context.Background()

	grant, err := svc.SignUp(ctx, "Alice@Example.com", "correct horse", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if grant.Principal.Email != "alice@example.com" || grant.Principal.DisplayName != "alice" {
		t.Fatalf("unexpected principal %+v", grant.Principal)
	}
	if _, err := svc.SignUp(ctx, "alice@example.com", "another password", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := svc.Login(ctx, "alice@example.com", "wrong password"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "whatever1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for unknown email, got %v", err)
	}
	login, err := svc.Login(ctx, "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	p, err := svc.Retrieve(ctx, login.Token)
	if err != nil || p.ID != grant.Principal.ID {
		t.Fatalf("Retrieve: %+v %v", p, err)
	}
	if err := svc.Logout(ctx, login.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Retrieve(ctx, login.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, _ := newTestSessions(t)
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, "not-an-email", "long enough", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.SignUp(ctx, "b@example.com", "short", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSetRoleRequiresSuperAdmin(t *testing.T) {
	audit := &stubAuditor{}
	hub := stream.New()
	svc, store := newTestSessions(t, WithAuditor(audit), WithHub(hub))
	ctx := context.Background()

	target, err := store.CreateProfile(ctx, Profile{Email: "t@example.com"})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	staff := Session{Principal: &Principal{ID: "s1"}, Role: RoleStaff, Ready: true}
	if err := svc.SetRole(ctx, staff, target.ID, RoleStaff); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := hub.Subscribe(subCtx, stream.Filter{PrincipalID: target.ID})

	admin := Session{Principal: &Principal{ID: "a1"}, Role: RoleSuperAdmin, Ready: true}
	if err := svc.SetRole(ctx, admin, target.ID, RoleStaff); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if got := svc.Resolver().Resolve(ctx, target.ID); got != RoleStaff {
		t.Fatalf("expected staff after SetRole, got %s", got)
	}
	if len(audit.entries) != 1 || audit.entries[0].action != "role.changed" {
		t.Fatalf("expected role.changed audit, got %+v", audit.entries)
	}
	select {
	case evt := <-events:
		if evt.Kind != stream.KindRoleChanged {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected role.changed event")
	}

	if err := svc.SetRole(ctx, admin, "missing", RoleStaff); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
