package rewards

import (
	"context"
	"errors"
	"testing"

	"loyaltydesk.org/internal/ledger"
	"loyaltydesk.org/internal/stream"
)

type auditCall struct {
	action   string
	entityID string
}

type stubAuditor struct{ calls []auditCall }

func (s *stubAuditor) Record(_ context.Context, action, _ string, entityID string, _ map[string]any) {
	s.calls = append(s.calls, auditCall{action: action, entityID: entityID})
}

func newRedeemFixture(t *testing.T, balance int64) (*Service, *InMemory, *stubAuditor, Milestone) {
	t.Helper()
	ctx := context.Background()
	store := NewInMemory()
	m, err := store.CreateMilestone(ctx, Milestone{Name: "Coffee voucher", PointsRequired: 500, MaxValue: 10})
	if err != nil {
		t.Fatalf("CreateMilestone: %v", err)
	}
	l := ledger.NewInMemory()
	if balance != 0 {
		if _, err := l.Record(ctx, "u1", balance, "seed"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	audit := &stubAuditor{}
	return NewService(l, store, store, stream.New(), audit, nil), store, audit, m
}

func TestRedeemRoundTrip(t *testing.T) {
	svc, store, audit, m := newRedeemFixture(t, 800)
	ctx := context.Background()

	perk, err := svc.Redeem(ctx, "u1", m.ID)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if perk.Status != PerkPending {
		t.Fatalf("expected pending, got %s", perk.Status)
	}
	perks, _ := store.Perks(ctx, "u1")
	if len(perks) != 1 || perks[0].MilestoneID != m.ID {
		t.Fatalf("expected exactly one perk, got %+v", perks)
	}
	if Eligible(800, m, perks) {
		t.Fatal("milestone must be ineligible after redemption")
	}
	if _, err := svc.Redeem(ctx, "u1", m.ID); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}
	bal, _ := svc.balances.Balance(ctx, "u1")
	if bal != 800 {
		t.Fatalf("balance must not change on redemption, got %d", bal)
	}
	if len(audit.calls) != 1 || audit.calls[0].action != "perk.redeemed" {
		t.Fatalf("expected one perk.redeemed audit, got %+v", audit.calls)
	}
}

func TestRedeemBelowThreshold(t *testing.T) {
	svc, _, _, m := newRedeemFixture(t, 499)
	if _, err := svc.Redeem(context.Background(), "u1", m.ID); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
}

func TestRedeemUnknownMilestone(t *testing.T) {
	svc, _, _, _ := newRedeemFixture(t, 1000)
	if _, err := svc.Redeem(context.Background(), "u1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type racingPerks struct{ *InMemory }

// Perks hides existing rows so the uniqueness check falls to InsertPerk.
func (racingPerks) Perks(context.Context, string) ([]Perk, error) { return nil, nil }

func TestRedeemStoreUniquenessIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	m, _ := store.CreateMilestone(ctx, Milestone{Name: "Mug", PointsRequired: 10})
	l := ledger.NewInMemory()
	_, _ = l.Record(ctx, "u1", 100, "seed")
	svc := NewService(l, store, racingPerks{store}, nil, nil, nil)

	if _, err := svc.Redeem(ctx, "u1", m.ID); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, err := svc.Redeem(ctx, "u1", m.ID); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("expected store to reject duplicate, got %v", err)
	}
}

func TestDecidePerkIsTerminal(t *testing.T) {
	svc, _, audit, m := newRedeemFixture(t, 600)
	ctx := context.Background()
	perk, _ := svc.Redeem(ctx, "u1", m.ID)

	pending, _ := svc.Pending(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending perk, got %d", len(pending))
	}
	decided, err := svc.DecidePerk(ctx, perk.ID, true)
	if err != nil {
		t.Fatalf("DecidePerk: %v", err)
	}
	if decided.Status != PerkApproved || decided.DecidedAt == nil {
		t.Fatalf("unexpected perk %+v", decided)
	}
	if _, err := svc.DecidePerk(ctx, perk.ID, false); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
	if _, err := svc.DecidePerk(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := audit.calls[len(audit.calls)-1].action; got != "perk.decided" {
		t.Fatalf("expected perk.decided audit, got %s", got)
	}
}
