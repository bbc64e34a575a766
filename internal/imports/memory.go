package imports

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"loyaltydesk.org/internal/ids"
)

// ErrNotFound is returned when a batch does not exist.
var ErrNotFound = errors.New("imports: batch not found")

// InMemory implements Store in process.
type InMemory struct {
	mu        sync.RWMutex
	batches   []Batch
	snapshots map[string][]Snapshot
	now       func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{snapshots: make(map[string][]Snapshot), now: time.Now}
}

func (m *InMemory) CreateBatch(_ context.Context, b Batch) (Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = ids.New()
	b.CreatedAt = m.now().UTC()
	m.batches = append(m.batches, b)
	return b, nil
}

func (m *InMemory) InsertSnapshots(_ context.Context, rows []Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		if r.ID == "" {
			r.ID = ids.New()
		}
		m.snapshots[r.BatchID] = append(m.snapshots[r.BatchID], r)
	}
	return nil
}

func (m *InMemory) ListBatches(_ context.Context, limit int) ([]Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]Batch(nil), m.batches...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *InMemory) Snapshots(_ context.Context, batchID string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.batches {
		if b.ID == batchID {
			return append([]Snapshot(nil), m.snapshots[batchID]...), nil
		}
	}
	return nil, ErrNotFound
}
