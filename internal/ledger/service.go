package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"loyaltydesk.org/internal/ids"
	"loyaltydesk.org/internal/stream"
)

// Service defines points ledger operations. Implementations keep the balance
// counter in step with the transaction log.
type Service interface {
	Record(ctx context.Context, principalID string, delta int64, description string) (Transaction, error)
	Balance(ctx context.Context, principalID string) (int64, error)
	List(ctx context.Context, principalID string, limit int) ([]Transaction, error)
	// HasDescription reports whether principalID already has a transaction
	// with exactly this description.
	HasDescription(ctx context.Context, principalID, description string) (bool, error)
	// Reconcile recomputes the counter from the transaction sum and returns it.
	Reconcile(ctx context.Context, principalID string) (int64, error)
}

// Validate checks Record arguments.
func Validate(principalID string, delta int64, description string) error {
	if strings.TrimSpace(principalID) == "" || strings.TrimSpace(description) == "" {
		return ErrInvalidInput
	}
	if delta == 0 {
		return ErrInvalidDelta
	}
	return nil
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	balances map[string]int64
	txs      map[string][]Transaction
	now      func() time.Time
}

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[string]int64),
		txs:      make(map[string][]Transaction),
		now:      time.Now,
	}
}

func (s *InMemory) Record(_ context.Context, principalID string, delta int64, description string) (Transaction, error) {
	if err := Validate(principalID, delta, description); err != nil {
		return Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[principalID] += delta
	tx := Transaction{
		ID:          ids.New(),
		PrincipalID: principalID,
		Delta:       delta,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now().UTC(),
		Balance:     s.balances[principalID],
	}
	s.txs[principalID] = append(s.txs[principalID], tx)
	return tx, nil
}

func (s *InMemory) Balance(_ context.Context, principalID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[principalID], nil
}

// List returns the newest transactions first.
func (s *InMemory) List(_ context.Context, principalID string, limit int) ([]Transaction, error) {
	limit = ClampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.txs[principalID]
	res := make([]Transaction, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(res) < limit; i-- {
		res = append(res, all[i])
	}
	return res, nil
}

func (s *InMemory) HasDescription(_ context.Context, principalID, description string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.txs[principalID] {
		if tx.Description == description {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemory) Reconcile(_ context.Context, principalID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, tx := range s.txs[principalID] {
		sum += tx.Delta
	}
	s.balances[principalID] = sum
	return sum, nil
}

// Publishing wraps a Service and announces every balance change on a hub.
type Publishing struct {
	Service
	hub *stream.Hub
}

// WithEvents decorates svc so Record publishes balance.changed.
func WithEvents(svc Service, hub *stream.Hub) *Publishing {
	return &Publishing{Service: svc, hub: hub}
}

func (p *Publishing) Record(ctx context.Context, principalID string, delta int64, description string) (Transaction, error) {
	tx, err := p.Service.Record(ctx, principalID, delta, description)
	if err != nil {
		return tx, err
	}
	if p.hub != nil {
		p.hub.Publish(stream.BalanceChanged(principalID, tx.Balance))
	}
	return tx, nil
}

func (p *Publishing) Reconcile(ctx context.Context, principalID string) (int64, error) {
	bal, err := p.Service.Reconcile(ctx, principalID)
	if err != nil {
		return bal, err
	}
	if p.hub != nil {
		p.hub.Publish(stream.BalanceChanged(principalID, bal))
	}
	return bal, nil
}
