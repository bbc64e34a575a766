// Package orgs manages organizations, their members and derived point totals.
package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/auth"
)

var (
	ErrNotFound     = errors.New("orgs: not found")
	ErrConflict     = errors.New("orgs: already a member")
	ErrInvalidInput = errors.New("orgs: invalid input")
)

// Organization is a partner company. PointTotal is the sum of member balances
// computed at read time.
type Organization struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ExternalCode  string    `json:"external_code"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	PointTotal    int64     `json:"point_total"`
}

// Member links a principal to an organization.
type Member struct {
	OrganizationID string       `json:"organization_id"`
	PrincipalID    string       `json:"principal_id"`
	Role           auth.OrgRole `json:"role"`
	JoinedAt       time.Time    `json:"joined_at"`
}

// Upsert is the current-state write keyed by external code.
type Upsert struct {
	ExternalCode  string
	Name          string
	LastUpdatedAt time.Time
}

// Writer inserts or updates organizations by external code.
type Writer interface {
	UpsertOrganizations(ctx context.Context, rows []Upsert) error
}

// Store persists organizations and memberships.
type Store interface {
	Writer
	List(ctx context.Context) ([]Organization, error)
	Get(ctx context.Context, id string) (Organization, error)
	Members(ctx context.Context, orgID string) ([]Member, error)
	AddMember(ctx context.Context, m Member) (Member, error)
	IsMember(ctx context.Context, orgID, principalID string) (bool, error)
}

// Auditor records privileged mutations on a best-effort basis.
type Auditor interface {
	Record(ctx context.Context, action, entityType, entityID string, details map[string]any)
}

// Service exposes organization reads and staff membership changes.
type Service struct {
	store Store
	audit Auditor
	log   *logrus.Entry
}

func NewService(store Store, audit Auditor, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{store: store, audit: audit, log: log}
}

func (s *Service) List(ctx context.Context) ([]Organization, error) {
	out, err := s.store.List(ctx)
	if err != nil {
		s.log.WithError(err).Error("list organizations failed")
		return nil, err
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (Organization, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Members(ctx context.Context, orgID string) ([]Member, error) {
	if _, err := s.store.Get(ctx, orgID); err != nil {
		return nil, err
	}
	return s.store.Members(ctx, orgID)
}

// IsMember reports whether principalID belongs to orgID.
func (s *Service) IsMember(ctx context.Context, orgID, principalID string) (bool, error) {
	return s.store.IsMember(ctx, orgID, principalID)
}

// AddMember attaches principalID to orgID with the given organization role.
func (s *Service) AddMember(ctx context.Context, orgID, principalID string, role auth.OrgRole) (Member, error) {
	orgID = strings.TrimSpace(orgID)
	principalID = strings.TrimSpace(principalID)
	if orgID == "" || principalID == "" {
		return Member{}, ErrInvalidInput
	}
	parsed, ok := auth.ParseOrgRole(string(role))
	if !ok {
		return Member{}, fmt.Errorf("%w: unknown organization role %q", ErrInvalidInput, role)
	}
	if _, err := s.store.Get(ctx, orgID); err != nil {
		return Member{}, err
	}
	m, err := s.store.AddMember(ctx, Member{OrganizationID: orgID, PrincipalID: principalID, Role: parsed})
	if err != nil {
		s.log.WithFields(logrus.Fields{"organization_id": orgID, "principal_id": principalID}).WithError(err).Error("add member failed")
		return Member{}, err
	}
	if s.audit != nil {
		s.audit.Record(ctx, "organization.member_added", "organization", orgID, map[string]any{
			"principal_id": principalID,
			"role":         string(parsed),
		})
	}
	return m, nil
}
