package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubRetriever struct {
	retrieve func(ctx context.Context, token string) (Principal, error)
}

func (s stubRetriever) Retrieve(ctx context.Context, token string) (Principal, error) {
	return s.retrieve(ctx, token)
}

func TestGateLifecycle(t *testing.T) {
	src := &stubRoleSource{
		function: func(context.Context, string) (string, error) { return "staff", nil },
	}
	authn := NewAuthenticator(stubRetriever{retrieve: func(context.Context, string) (Principal, error) {
		return Principal{ID: "u1"}, nil
	}}, DefaultResolver(src, nil), time.Second, nil)

	gate := authn.NewGate()
	if gate.State() != Uninitialized || gate.Session().Ready {
		t.Fatalf("new gate must be uninitialized and not ready, got %s", gate.State())
	}

	s := gate.Bootstrap(context.Background(), "token")
	if gate.State() != Authenticated || !s.Ready || s.Role != RoleStaff {
		t.Fatalf("unexpected session %+v state %s", s, gate.State())
	}
	if !s.Capabilities().IsStaff {
		t.Fatal("staff capability missing")
	}

	gate.SignOut()
	if gate.State() != Anonymous || gate.Session().Authenticated() {
		t.Fatal("expected anonymous after sign out")
	}
}

func TestGateTimeoutIsAnonymous(t *testing.T) {
	authn := NewAuthenticator(stubRetriever{retrieve: func(ctx context.Context, _ string) (Principal, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return Principal{ID: "late"}, nil
	}}, nil, 20*time.Millisecond, nil)

	gate := authn.NewGate()
	start := time.Now()
	s := gate.Bootstrap(context.Background(), "token")
	if time.Since(start) > time.Second {
		t.Fatal("bootstrap was not bounded by the session timeout")
	}
	if s.Authenticated() || !s.Ready || gate.State() != Anonymous {
		t.Fatalf("expected ready anonymous session, got %+v", s)
	}
}

func TestGateRetrievalErrorIsAnonymous(t *testing.T) {
	authn := NewAuthenticator(stubRetriever{retrieve: func(context.Context, string) (Principal, error) {
		return Principal{}, errors.New("db down")
	}}, nil, time.Second, nil)
	s := authn.NewGate().Bootstrap(context.Background(), "token")
	if s.Authenticated() || !s.Ready {
		t.Fatalf("expected anonymous, got %+v", s)
	}

	s = authn.NewGate().Bootstrap(context.Background(), "")
	if s.Authenticated() || !s.Ready {
		t.Fatalf("empty token should be anonymous, got %+v", s)
	}
}

func TestGateRefreshPicksUpRoleChange(t *testing.T) {
	role := "user"
	src := &stubRoleSource{
		function: func(context.Context, string) (string, error) { return role, nil },
	}
	authn := NewAuthenticator(stubRetriever{retrieve: func(context.Context, string) (Principal, error) {
		return Principal{ID: "u1"}, nil
	}}, DefaultResolver(src, nil), time.Second, nil)
	gate := authn.NewGate()
	gate.Bootstrap(context.Background(), "token")

	role = "super_admin"
	if s := gate.Refresh(context.Background()); s.Role != RoleSuperAdmin {
		t.Fatalf("expected refreshed role, got %s", s.Role)
	}
}
