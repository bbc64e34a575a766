package orgs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"loyaltydesk.org/internal/ids"
)

// BalanceReader supplies member balances for the derived point total.
type BalanceReader interface {
	Balance(ctx context.Context, principalID string) (int64, error)
}

// InMemory implements Store in process.
type InMemory struct {
	mu       sync.RWMutex
	orgs     map[string]*Organization
	byCode   map[string]string
	members  map[string][]Member
	balances BalanceReader
	now      func() time.Time
}

// NewInMemory constructs a store. balances may be nil, in which case every
// point total is zero.
func NewInMemory(balances BalanceReader) *InMemory {
	return &InMemory{
		orgs:     make(map[string]*Organization),
		byCode:   make(map[string]string),
		members:  make(map[string][]Member),
		balances: balances,
		now:      time.Now,
	}
}

func (m *InMemory) UpsertOrganizations(_ context.Context, rows []Upsert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		code := strings.TrimSpace(r.ExternalCode)
		if code == "" {
			return ErrInvalidInput
		}
		if id, ok := m.byCode[code]; ok {
			o := m.orgs[id]
			o.Name = r.Name
			o.LastUpdatedAt = r.LastUpdatedAt
			continue
		}
		o := &Organization{ID: ids.New(), Name: r.Name, ExternalCode: code, LastUpdatedAt: r.LastUpdatedAt}
		m.orgs[o.ID] = o
		m.byCode[code] = o.ID
	}
	return nil
}

func (m *InMemory) List(ctx context.Context) ([]Organization, error) {
	m.mu.RLock()
	out := make([]Organization, 0, len(m.orgs))
	for _, o := range m.orgs {
		out = append(out, *o)
	}
	m.mu.RUnlock()
	for i := range out {
		total, err := m.pointTotal(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].PointTotal = total
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *InMemory) Get(ctx context.Context, id string) (Organization, error) {
	m.mu.RLock()
	o, ok := m.orgs[id]
	var out Organization
	if ok {
		out = *o
	}
	m.mu.RUnlock()
	if !ok {
		return Organization{}, ErrNotFound
	}
	total, err := m.pointTotal(ctx, id)
	if err != nil {
		return Organization{}, err
	}
	out.PointTotal = total
	return out, nil
}

func (m *InMemory) pointTotal(ctx context.Context, orgID string) (int64, error) {
	if m.balances == nil {
		return 0, nil
	}
	m.mu.RLock()
	members := append([]Member(nil), m.members[orgID]...)
	m.mu.RUnlock()
	var total int64
	for _, mem := range members {
		b, err := m.balances.Balance(ctx, mem.PrincipalID)
		if err != nil {
			return 0, err
		}
		total += b
	}
	return total, nil
}

func (m *InMemory) Members(_ context.Context, orgID string) ([]Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Member(nil), m.members[orgID]...), nil
}

func (m *InMemory) AddMember(_ context.Context, mem Member) (Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[mem.OrganizationID]; !ok {
		return Member{}, ErrNotFound
	}
	for _, existing := range m.members[mem.OrganizationID] {
		if existing.PrincipalID == mem.PrincipalID {
			return Member{}, ErrConflict
		}
	}
	if mem.JoinedAt.IsZero() {
		mem.JoinedAt = m.now().UTC()
	}
	m.members[mem.OrganizationID] = append(m.members[mem.OrganizationID], mem)
	return mem, nil
}

func (m *InMemory) IsMember(_ context.Context, orgID, principalID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mem := range m.members[orgID] {
		if mem.PrincipalID == principalID {
			return true, nil
		}
	}
	return false, nil
}
