package rewards

import (
	"errors"
	"time"
)

// Tier is one rung of the ladder. MaxPoints is nil for the open-ended top tier.
type Tier struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	MinPoints int64  `json:"min_points" yaml:"min_points"`
	MaxPoints *int64 `json:"max_points,omitempty" yaml:"max_points,omitempty"`
}

// Milestone is a redeemable threshold. TierID is informational only.
type Milestone struct {
	ID             string `json:"id" yaml:"id"`
	TierID         string `json:"tier_id" yaml:"tier_id"`
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description" yaml:"description"`
	PointsRequired int64  `json:"points_required" yaml:"points_required"`
	MaxValue       int64  `json:"max_value" yaml:"max_value"`
}

// PerkStatus is the lifecycle state of a redeemed perk.
type PerkStatus string

const (
	PerkPending  PerkStatus = "pending"
	PerkApproved PerkStatus = "approved"
	PerkRejected PerkStatus = "rejected"
)

// Perk records a principal's redemption of a milestone.
type Perk struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principal_id"`
	MilestoneID string     `json:"milestone_id"`
	RedeemedAt  time.Time  `json:"redeemed_at"`
	Status      PerkStatus `json:"status"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

var (
	ErrNotFound        = errors.New("rewards: not found")
	ErrAlreadyRedeemed = errors.New("rewards: milestone already redeemed")
	ErrNotEligible     = errors.New("rewards: balance below milestone threshold")
	ErrInvalidLadder   = errors.New("rewards: invalid tier ladder")
	ErrInvalidInput    = errors.New("rewards: invalid input")
	ErrAlreadyDecided  = errors.New("rewards: perk already decided")
)
