package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"loyaltydesk.org/internal/ids"
)

// InMemoryStore implements Store and RoleSource for tests and memory mode.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	byEmail  map[string]string
	roles    map[string]Role
	now      func() time.Time
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]Profile),
		byEmail:  make(map[string]string),
		roles:    make(map[string]Role),
		now:      time.Now,
	}
}

func (s *InMemoryStore) CreateProfile(_ context.Context, p Profile) (Profile, error) {
	email := normalizeEmail(p.Email)
	if email == "" {
		return Profile{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return Profile{}, ErrConflict
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.Email = email
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	s.profiles[p.ID] = p
	s.byEmail[email] = p.ID
	return p, nil
}

func (s *InMemoryStore) ProfileByEmail(_ context.Context, email string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return s.profiles[id], nil
}

func (s *InMemoryStore) ProfileByID(_ context.Context, id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *InMemoryStore) SetRole(_ context.Context, userID string, role Role) error {
	if !role.Valid() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[userID]; !ok {
		return ErrNotFound
	}
	s.roles[userID] = role
	return nil
}

// RoleFunction mirrors get_user_platform_role_text: absence reads as user.
func (s *InMemoryStore) RoleFunction(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.roles[userID]; ok {
		return string(r), nil
	}
	return string(RoleUser), nil
}

func (s *InMemoryStore) RoleTable(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[userID]
	if !ok {
		return "", ErrNotFound
	}
	return string(r), nil
}

func (s *InMemoryStore) LegacyAdminFlag(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return false, ErrNotFound
	}
	return p.IsAdmin, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
