package redemptions

import (
	"context"
	"sort"
	"sync"
	"time"

	"loyaltydesk.org/internal/ids"
)

// InMemory implements Store in process.
type InMemory struct {
	mu   sync.RWMutex
	rows map[string]Request
	now  func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[string]Request), now: time.Now}
}

func (m *InMemory) Create(_ context.Context, r Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = ids.New()
	r.CreatedAt = m.now().UTC()
	if r.Status == "" {
		r.Status = StatusPending
	}
	m.rows[r.ID] = r
	return r, nil
}

func (m *InMemory) Get(_ context.Context, id string) (Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return r, nil
}

func (m *InMemory) List(_ context.Context, status Status, limit int) ([]Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Request, 0, len(m.rows))
	for _, r := range m.rows {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *InMemory) Decide(_ context.Context, id, approverID string, status Status, at time.Time) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if r.Status != StatusPending {
		return Request{}, ErrInvalidTransition
	}
	r.Status = status
	r.ApproverID = &approverID
	r.DecidedAt = &at
	m.rows[id] = r
	return r, nil
}
