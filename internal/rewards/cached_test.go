package rewards

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"loyaltydesk.org/internal/cache"
)

type countingCatalog struct {
	Catalog
	tierReads int
}

func (c *countingCatalog) Tiers(ctx context.Context) ([]Tier, error) {
	c.tierReads++
	return c.Catalog.Tiers(ctx)
}

func TestCachedCatalogServesFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewInMemory()
	for _, tier := range defaultLadder() {
		if _, err := store.CreateTier(ctx, tier); err != nil {
			t.Fatalf("CreateTier: %v", err)
		}
	}
	counting := &countingCatalog{Catalog: store}
	cached := NewCachedCatalog(counting, cache.NewRedis(client, "test:"), time.Minute, nil)

	for i := 0; i < 3; i++ {
		tiers, err := cached.Tiers(ctx)
		if err != nil {
			t.Fatalf("Tiers: %v", err)
		}
		if len(tiers) != 4 || tiers[3].Name != "Platinum" || tiers[3].MaxPoints != nil {
			t.Fatalf("unexpected tiers %+v", tiers)
		}
	}
	if counting.tierReads != 1 {
		t.Fatalf("expected a single backing read, got %d", counting.tierReads)
	}

	if err := cached.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	_, _ = cached.Tiers(ctx)
	if counting.tierReads != 2 {
		t.Fatalf("expected re-read after invalidate, got %d", counting.tierReads)
	}
}

func TestCachedCatalogDoesNotCacheEmpty(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewInMemory()
	cached := NewCachedCatalog(store, cache.NewRedis(client, "test:"), time.Minute, nil)
	if ms, _ := cached.Milestones(ctx); len(ms) != 0 {
		t.Fatalf("expected empty, got %+v", ms)
	}
	_, _ = store.CreateMilestone(ctx, Milestone{Name: "Mug", PointsRequired: 10})
	if ms, _ := cached.Milestones(ctx); len(ms) != 1 {
		t.Fatalf("seeded milestone should be visible, got %+v", ms)
	}
}

func TestCachedCatalogWithoutCache(t *testing.T) {
	store := NewInMemory()
	cached := NewCachedCatalog(store, nil, time.Minute, nil)
	if _, err := cached.Tiers(context.Background()); err != nil {
		t.Fatalf("Tiers: %v", err)
	}
	if err := cached.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
}
