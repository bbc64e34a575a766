package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	raw, issued, err := tokens.Issue(Principal{ID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "u1" || claims.ID != issued.ID || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokensRejectTamperedAndExpired(t *testing.T) {
	tokens, _ := NewTokens("test-secret", time.Minute)
	other, _ := NewTokens("other-secret", time.Minute)
	raw, _, err := other.Issue(Principal{ID: "u1"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	raw, _, _ = tokens.Issue(Principal{ID: "u1"})
	tokens.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := tokens.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens("  ", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestRedisRevocations(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rev := NewRedisRevocations(client)
	ctx := context.Background()
	if err := rev.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	ok, err := rev.Revoked(ctx, "jti-1")
	if err != nil || !ok {
		t.Fatalf("expected revoked, got %v %v", ok, err)
	}
	if ok, _ := rev.Revoked(ctx, "jti-2"); ok {
		t.Fatal("unexpected revocation")
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := rev.Revoked(ctx, "jti-1"); ok {
		t.Fatal("revocation should expire with the token")
	}
}

func TestMemoryRevocations(t *testing.T) {
	rev := NewMemoryRevocations()
	ctx := context.Background()
	_ = rev.Revoke(ctx, "jti-1", time.Now().Add(time.Minute))
	if ok, _ := rev.Revoked(ctx, "jti-1"); !ok {
		t.Fatal("expected revoked")
	}
	rev.now = func() time.Time { return time.Now().Add(time.Hour) }
	if ok, _ := rev.Revoked(ctx, "jti-1"); ok {
		t.Fatal("expected expiry")
	}
}
