package seed

import (
	"context"
	"strings"
	"testing"

	"loyaltydesk.org/internal/ledger"
	"loyaltydesk.org/internal/rewards"
)

func TestDefaultsLadder(t *testing.T) {
	c, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults: %v", err)
	}
	want := []int64{0, 1000, 5000, 10000}
	if len(c.Tiers) != len(want) {
		t.Fatalf("expected %d tiers, got %d", len(want), len(c.Tiers))
	}
	for i, floor := range want {
		if c.Tiers[i].MinPoints != floor {
			t.Fatalf("tier %d: min %d, want %d", i, c.Tiers[i].MinPoints, floor)
		}
	}
	if c.Tiers[3].MaxPoints != nil {
		t.Fatal("top tier must be open-ended")
	}
}

func TestParseRejectsBadCatalog(t *testing.T) {
	overlapping := `
tiers:
  - {name: A, min_points: 0, max_points: 100}
  - {name: B, min_points: 50}
`
	if _, err := Parse([]byte(overlapping)); err == nil {
		t.Fatal("expected overlap to be rejected")
	}
	orphan := `
tiers:
  - {name: A, min_points: 0}
milestones:
  - {tier: Z, name: Lost, points_required: 10}
`
	if _, err := Parse([]byte(orphan)); err == nil || !strings.Contains(err.Error(), "unknown tier") {
		t.Fatalf("expected unknown tier error, got %v", err)
	}
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.n++
	return nil
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	catalog := rewards.NewInMemory()
	l := ledger.NewInMemory()
	inv := &countingInvalidator{}
	s, err := New(catalog, l, inv, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, err := s.Run(ctx, Options{PrincipalID: "u1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.TiersCreated != 4 || rep.MilestonesCreated != 5 || !rep.BonusAwarded {
		t.Fatalf("unexpected first report %+v", rep)
	}
	if inv.n != 1 {
		t.Fatalf("expected cache invalidation, got %d", inv.n)
	}

	rep, err = s.Run(ctx, Options{PrincipalID: "u1"})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if rep.TiersCreated != 0 || rep.MilestonesCreated != 0 || rep.BonusAwarded {
		t.Fatalf("second run must be a no-op, got %+v", rep)
	}
	bal, _ := l.Balance(ctx, "u1")
	if bal != 500 {
		t.Fatalf("expected single 500 bonus, got %d", bal)
	}

	ms, _ := catalog.Milestones(ctx)
	tiers, _ := catalog.Tiers(ctx)
	tierByID := map[string]string{}
	for _, tr := range tiers {
		tierByID[tr.ID] = tr.Name
	}
	for _, m := range ms {
		if tierByID[m.TierID] == "" {
			t.Fatalf("milestone %s has dangling tier id %q", m.Name, m.TierID)
		}
	}
}

func TestRunBonusOverride(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewInMemory()
	s, _ := New(rewards.NewInMemory(), l, nil, nil)
	if _, err := s.Run(ctx, Options{PrincipalID: "u2", Bonus: 1200}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if bal, _ := l.Balance(ctx, "u2"); bal != 1200 {
		t.Fatalf("expected 1200, got %d", bal)
	}
}
