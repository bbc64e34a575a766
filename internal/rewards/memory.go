package rewards

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"loyaltydesk.org/internal/ids"
)

// InMemory implements CatalogWriter and PerkStore in process.
type InMemory struct {
	mu         sync.RWMutex
	tiers      []Tier
	milestones []Milestone
	perks      []Perk
	now        func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{now: time.Now}
}

func (m *InMemory) Tiers(context.Context) ([]Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]Tier(nil), m.tiers...)
	SortTiers(out)
	return out, nil
}

func (m *InMemory) Milestones(context.Context) ([]Milestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]Milestone(nil), m.milestones...)
	SortMilestones(out)
	return out, nil
}

func (m *InMemory) CreateTier(_ context.Context, t Tier) (Tier, error) {
	if strings.TrimSpace(t.Name) == "" {
		return Tier{}, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	if err := ValidateLadder(append(append([]Tier(nil), m.tiers...), t)); err != nil {
		return Tier{}, err
	}
	m.tiers = append(m.tiers, t)
	return t, nil
}

func (m *InMemory) CreateMilestone(_ context.Context, ms Milestone) (Milestone, error) {
	if strings.TrimSpace(ms.Name) == "" || ms.PointsRequired < 0 {
		return Milestone{}, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.ID == "" {
		ms.ID = ids.New()
	}
	m.milestones = append(m.milestones, ms)
	return ms, nil
}

func (m *InMemory) Perks(_ context.Context, principalID string) ([]Perk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Perk
	for _, p := range m.perks {
		if p.PrincipalID == principalID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *InMemory) InsertPerk(_ context.Context, p Perk) (Perk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.perks {
		if existing.PrincipalID == p.PrincipalID && existing.MilestoneID == p.MilestoneID {
			return Perk{}, ErrAlreadyRedeemed
		}
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	if p.RedeemedAt.IsZero() {
		p.RedeemedAt = m.now().UTC()
	}
	if p.Status == "" {
		p.Status = PerkPending
	}
	m.perks = append(m.perks, p)
	return p, nil
}

func (m *InMemory) PerksByStatus(_ context.Context, status PerkStatus, limit int) ([]Perk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Perk
	for _, p := range m.perks {
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RedeemedAt.Before(out[j].RedeemedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *InMemory) Perk(_ context.Context, id string) (Perk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.perks {
		if p.ID == id {
			return p, nil
		}
	}
	return Perk{}, ErrNotFound
}

func (m *InMemory) DecidePerk(_ context.Context, id string, status PerkStatus) (Perk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.perks {
		if m.perks[i].ID != id {
			continue
		}
		if m.perks[i].Status != PerkPending {
			return Perk{}, ErrAlreadyDecided
		}
		now := m.now().UTC()
		m.perks[i].Status = status
		m.perks[i].DecidedAt = &now
		return m.perks[i], nil
	}
	return Perk{}, ErrNotFound
}
