package rewards

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	tiersCacheKey      = "rewards:tiers"
	milestonesCacheKey = "rewards:milestones"
)

// JSONCache is the subset of a JSON key/value cache used by CachedCatalog.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedCatalog serves the ladder and milestones from a cache, falling back
// to the underlying catalog on miss or cache error.
type CachedCatalog struct {
	next  Catalog
	cache JSONCache
	ttl   time.Duration
	log   *logrus.Entry
}

// NewCachedCatalog wraps next. A nil cache passes every read through.
func NewCachedCatalog(next Catalog, cache JSONCache, ttl time.Duration, log *logrus.Entry) *CachedCatalog {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CachedCatalog{next: next, cache: cache, ttl: ttl, log: log}
}

func (c *CachedCatalog) Tiers(ctx context.Context) ([]Tier, error) {
	var out []Tier
	if c.lookup(ctx, tiersCacheKey, &out) {
		return out, nil
	}
	out, err := c.next.Tiers(ctx)
	if err != nil {
		return nil, err
	}
	SortTiers(out)
	c.store(ctx, tiersCacheKey, out)
	return out, nil
}

func (c *CachedCatalog) Milestones(ctx context.Context) ([]Milestone, error) {
	var out []Milestone
	if c.lookup(ctx, milestonesCacheKey, &out) {
		return out, nil
	}
	out, err := c.next.Milestones(ctx)
	if err != nil {
		return nil, err
	}
	SortMilestones(out)
	c.store(ctx, milestonesCacheKey, out)
	return out, nil
}

// Invalidate drops the cached ladder and milestones.
func (c *CachedCatalog) Invalidate(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Delete(ctx, tiersCacheKey, milestonesCacheKey)
}

func (c *CachedCatalog) lookup(ctx context.Context, key string, dst any) bool {
	if c.cache == nil {
		return false
	}
	ok, err := c.cache.GetJSON(ctx, key, dst)
	if err != nil {
		c.log.WithField("key", key).WithError(err).Warn("catalog cache read failed")
		return false
	}
	return ok
}

// Empty results are not cached so a later seed becomes visible immediately.
func (c *CachedCatalog) store(ctx context.Context, key string, v any) {
	if c.cache == nil {
		return
	}
	switch x := v.(type) {
	case []Tier:
		if len(x) == 0 {
			return
		}
	case []Milestone:
		if len(x) == 0 {
			return
		}
	}
	if err := c.cache.SetJSON(ctx, key, v, c.ttl); err != nil {
		c.log.WithField("key", key).WithError(err).Warn("catalog cache write failed")
	}
}
