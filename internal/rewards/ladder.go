package rewards

import (
	"fmt"
	"sort"
)

// SortTiers orders tiers ascending by MinPoints in place.
func SortTiers(tiers []Tier) {
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinPoints < tiers[j].MinPoints })
}

// SortMilestones orders milestones ascending by PointsRequired in place.
func SortMilestones(ms []Milestone) {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].PointsRequired < ms[j].PointsRequired })
}

// ResolveTier returns the last tier, in ascending order, whose MinPoints is at
// most balance. The ladder must already be sorted. An empty ladder, or a
// balance below the first rung, yields nil.
func ResolveTier(ladder []Tier, balance int64) *Tier {
	var found *Tier
	for i := range ladder {
		if ladder[i].MinPoints > balance {
			break
		}
		found = &ladder[i]
	}
	if found == nil {
		return nil
	}
	out := *found
	return &out
}

// NextMilestone returns the milestone with the smallest PointsRequired
// strictly above balance, or nil when every milestone is already reached.
func NextMilestone(milestones []Milestone, balance int64) *Milestone {
	var next *Milestone
	for i := range milestones {
		m := &milestones[i]
		if m.PointsRequired <= balance {
			continue
		}
		if next == nil || m.PointsRequired < next.PointsRequired {
			next = m
		}
	}
	if next == nil {
		return nil
	}
	out := *next
	return &out
}

// Redeemed reports whether perks already reference milestoneID.
func Redeemed(perks []Perk, milestoneID string) bool {
	for _, p := range perks {
		if p.MilestoneID == milestoneID {
			return true
		}
	}
	return false
}

// Eligible reports whether m can be redeemed at balance given existing perks.
func Eligible(balance int64, m Milestone, perks []Perk) bool {
	return balance >= m.PointsRequired && !Redeemed(perks, m.ID)
}

// ValidateLadder checks that tiers have distinct names and non-overlapping,
// strictly ascending ranges. Only the last tier may be open-ended.
func ValidateLadder(tiers []Tier) error {
	if len(tiers) == 0 {
		return nil
	}
	sorted := append([]Tier(nil), tiers...)
	SortTiers(sorted)
	names := make(map[string]struct{}, len(sorted))
	for i, t := range sorted {
		if t.Name == "" {
			return fmt.Errorf("%w: tier %d has no name", ErrInvalidLadder, i)
		}
		if _, dup := names[t.Name]; dup {
			return fmt.Errorf("%w: duplicate tier %q", ErrInvalidLadder, t.Name)
		}
		names[t.Name] = struct{}{}
		if t.MinPoints < 0 {
			return fmt.Errorf("%w: tier %q has negative min_points", ErrInvalidLadder, t.Name)
		}
		if t.MaxPoints != nil && *t.MaxPoints < t.MinPoints {
			return fmt.Errorf("%w: tier %q max below min", ErrInvalidLadder, t.Name)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.MinPoints == t.MinPoints {
			return fmt.Errorf("%w: tiers %q and %q share min_points %d", ErrInvalidLadder, prev.Name, t.Name, t.MinPoints)
		}
		if prev.MaxPoints == nil {
			return fmt.Errorf("%w: open-ended tier %q is not last", ErrInvalidLadder, prev.Name)
		}
		if *prev.MaxPoints >= t.MinPoints {
			return fmt.Errorf("%w: tiers %q and %q overlap", ErrInvalidLadder, prev.Name, t.Name)
		}
	}
	return nil
}
