// Package seed loads the development reward catalog. It is never invoked from
// a read path; callers run it explicitly behind a development flag.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"loyaltydesk.org/internal/ledger"
	"loyaltydesk.org/internal/rewards"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// TierDef is one ladder rung in the seed file.
type TierDef struct {
	Name      string `yaml:"name"`
	MinPoints int64  `yaml:"min_points"`
	MaxPoints *int64 `yaml:"max_points"`
}

// MilestoneDef is a milestone keyed to its tier by name.
type MilestoneDef struct {
	Tier           string `yaml:"tier"`
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	PointsRequired int64  `yaml:"points_required"`
	MaxValue       int64  `yaml:"max_value"`
}

// BonusDef is the one-time welcome transaction.
type BonusDef struct {
	Description string `yaml:"description"`
	Points      int64  `yaml:"points"`
}

// Catalog is the decoded seed file.
type Catalog struct {
	Tiers      []TierDef      `yaml:"tiers"`
	Milestones []MilestoneDef `yaml:"milestones"`
	Bonus      BonusDef       `yaml:"bonus"`
}

// Defaults decodes the embedded catalog.
func Defaults() (Catalog, error) {
	return Parse(defaultsYAML)
}

// Parse decodes and validates a seed catalog.
func Parse(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("seed: decode: %w", err)
	}
	tiers := make([]rewards.Tier, len(c.Tiers))
	names := make(map[string]struct{}, len(c.Tiers))
	for i, t := range c.Tiers {
		tiers[i] = rewards.Tier{Name: t.Name, MinPoints: t.MinPoints, MaxPoints: t.MaxPoints}
		names[t.Name] = struct{}{}
	}
	if err := rewards.ValidateLadder(tiers); err != nil {
		return Catalog{}, fmt.Errorf("seed: %w", err)
	}
	for _, m := range c.Milestones {
		if _, ok := names[m.Tier]; !ok {
			return Catalog{}, fmt.Errorf("seed: milestone %q references unknown tier %q", m.Name, m.Tier)
		}
	}
	return c, nil
}

// Options selects the principal that receives the welcome bonus.
type Options struct {
	PrincipalID string
	// Bonus overrides the catalog bonus points when positive.
	Bonus int64
}

// Report summarises what a run wrote.
type Report struct {
	TiersCreated      int  `json:"tiers_created"`
	MilestonesCreated int  `json:"milestones_created"`
	BonusAwarded      bool `json:"bonus_awarded"`
}

// Invalidator drops cached catalog reads after seeding.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Seeder writes the catalog into empty stores.
type Seeder struct {
	catalog rewards.CatalogWriter
	ledger  ledger.Service
	data    Catalog
	cache   Invalidator
	log     *logrus.Entry
}

// New builds a seeder over the embedded defaults. cache may be nil.
func New(catalog rewards.CatalogWriter, l ledger.Service, cache Invalidator, log *logrus.Entry) (*Seeder, error) {
	data, err := Defaults()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Seeder{catalog: catalog, ledger: l, data: data, cache: cache, log: log}, nil
}

// Run seeds tiers when the ladder is empty, milestones when none exist, and
// the welcome bonus when the principal has not received it yet.
func (s *Seeder) Run(ctx context.Context, opts Options) (Report, error) {
	var rep Report

	existingTiers, err := s.catalog.Tiers(ctx)
	if err != nil {
		return rep, fmt.Errorf("seed: read tiers: %w", err)
	}
	tierIDs := make(map[string]string, len(existingTiers))
	for _, t := range existingTiers {
		tierIDs[t.Name] = t.ID
	}
	if len(existingTiers) == 0 {
		for _, def := range s.data.Tiers {
			t, err := s.catalog.CreateTier(ctx, rewards.Tier{Name: def.Name, MinPoints: def.MinPoints, MaxPoints: def.MaxPoints})
			if err != nil {
				return rep, fmt.Errorf("seed: create tier %s: %w", def.Name, err)
			}
			tierIDs[t.Name] = t.ID
			rep.TiersCreated++
		}
	}

	existingMilestones, err := s.catalog.Milestones(ctx)
	if err != nil {
		return rep, fmt.Errorf("seed: read milestones: %w", err)
	}
	if len(existingMilestones) == 0 {
		for _, def := range s.data.Milestones {
			_, err := s.catalog.CreateMilestone(ctx, rewards.Milestone{
				TierID:         tierIDs[def.Tier],
				Name:           def.Name,
				Description:    def.Description,
				PointsRequired: def.PointsRequired,
				MaxValue:       def.MaxValue,
			})
			if err != nil {
				return rep, fmt.Errorf("seed: create milestone %s: %w", def.Name, err)
			}
			rep.MilestonesCreated++
		}
	}

	if (rep.TiersCreated > 0 || rep.MilestonesCreated > 0) && s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.WithError(err).Warn("seed: cache invalidation failed")
		}
	}

	if opts.PrincipalID != "" {
		awarded, err := s.awardBonus(ctx, opts)
		if err != nil {
			return rep, err
		}
		rep.BonusAwarded = awarded
	}

	s.log.WithFields(logrus.Fields{
		"tiers_created":      rep.TiersCreated,
		"milestones_created": rep.MilestonesCreated,
		"bonus_awarded":      rep.BonusAwarded,
	}).Info("development seed applied")
	return rep, nil
}

func (s *Seeder) awardBonus(ctx context.Context, opts Options) (bool, error) {
	if s.ledger == nil {
		return false, errors.New("seed: ledger is required for the welcome bonus")
	}
	points := s.data.Bonus.Points
	if opts.Bonus > 0 {
		points = opts.Bonus
	}
	if points <= 0 {
		return false, nil
	}
	has, err := s.ledger.HasDescription(ctx, opts.PrincipalID, s.data.Bonus.Description)
	if err != nil {
		return false, fmt.Errorf("seed: check bonus: %w", err)
	}
	if has {
		return false, nil
	}
	if _, err := s.ledger.Record(ctx, opts.PrincipalID, points, s.data.Bonus.Description); err != nil {
		return false, fmt.Errorf("seed: award bonus: %w", err)
	}
	return true, nil
}
