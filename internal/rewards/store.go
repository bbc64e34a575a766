package rewards

import "context"

// Catalog reads the tier ladder and milestone definitions.
type Catalog interface {
	Tiers(ctx context.Context) ([]Tier, error)
	Milestones(ctx context.Context) ([]Milestone, error)
}

// CatalogWriter seeds catalog rows.
type CatalogWriter interface {
	Catalog
	CreateTier(ctx context.Context, t Tier) (Tier, error)
	CreateMilestone(ctx context.Context, m Milestone) (Milestone, error)
}

// PerkStore persists redeemed perks. InsertPerk reports ErrAlreadyRedeemed
// when the (principal, milestone) pair already exists.
type PerkStore interface {
	Perks(ctx context.Context, principalID string) ([]Perk, error)
	InsertPerk(ctx context.Context, p Perk) (Perk, error)
	PerksByStatus(ctx context.Context, status PerkStatus, limit int) ([]Perk, error)
	Perk(ctx context.Context, id string) (Perk, error)
	// DecidePerk moves a pending perk to status; non-pending perks yield ErrAlreadyDecided.
	DecidePerk(ctx context.Context, id string, status PerkStatus) (Perk, error)
}

// BalanceReader reads a principal's current point balance.
type BalanceReader interface {
	Balance(ctx context.Context, principalID string) (int64, error)
}
