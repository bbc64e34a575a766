package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/stream"
)

// Auditor records privileged mutations. Implementations must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, action, entityType, entityID string, details map[string]any)
}

// Grant is the result of a successful sign-up or login.
type Grant struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Principal Principal `json:"principal"`
}

// Sessions handles sign-up, password login, logout and session retrieval.
type Sessions struct {
	store    Store
	tokens   *Tokens
	revoked  Revocations
	resolver *Resolver
	audit    Auditor
	hub      *stream.Hub
	log      *logrus.Entry
}

// SessionsOption configures Sessions behaviour.
type SessionsOption func(*Sessions)

// WithRevocations overrides the in-memory revocation list.
func WithRevocations(r Revocations) SessionsOption {
	return func(s *Sessions) {
		if r != nil {
			s.revoked = r
		}
	}
}

// WithAuditor wires the audit recorder used by SetRole.
func WithAuditor(a Auditor) SessionsOption {
	return func(s *Sessions) { s.audit = a }
}

// WithHub publishes role.changed events on the hub.
func WithHub(h *stream.Hub) SessionsOption {
	return func(s *Sessions) { s.hub = h }
}

// WithLogger sets the logger entry.
func WithLogger(l *logrus.Entry) SessionsOption {
	return func(s *Sessions) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSessions wires the session service. resolver may be nil, in which case
// the default chain over a RoleSource-capable store is used.
func NewSessions(store Store, tokens *Tokens, resolver *Resolver, opts ...SessionsOption) (*Sessions, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: tokens are required")
	}
	s := &Sessions{
		store:   store,
		tokens:  tokens,
		revoked: NewMemoryRevocations(),
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if resolver == nil {
		src, ok := store.(RoleSource)
		if !ok {
			return nil, errors.New("auth: resolver is required when the store is not a role source")
		}
		resolver = DefaultResolver(src, s.log)
	}
	s.resolver = resolver
	return s, nil
}

// Resolver exposes the role resolution chain.
func (s *Sessions) Resolver() *Resolver { return s.resolver }

// SignUp creates a profile with a bcrypt password hash and returns a session token.
func (s *Sessions) SignUp(ctx context.Context, email, password, displayName string) (Grant, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return Grant{}, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return Grant{}, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	profile, err := s.store.CreateProfile(ctx, Profile{Email: email, DisplayName: displayName, PasswordHash: hash})
	if err != nil {
		return Grant{}, err
	}
	return s.grant(profile.Principal())
}

// Login verifies email and password. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Sessions) Login(ctx context.Context, email, password string) (Grant, error) {
	profile, err := s.store.ProfileByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Grant{}, ErrUnauthenticated
	}
	if err != nil {
		return Grant{}, err
	}
	if err := checkPassword(profile.PasswordHash, password); err != nil {
		return Grant{}, err
	}
	return s.grant(profile.Principal())
}

// Logout revokes the token until its expiry.
func (s *Sessions) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return ErrUnauthenticated
	}
	return s.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// Retrieve returns the principal behind token. Invalid, expired or revoked
// tokens yield ErrUnauthenticated.
func (s *Sessions) Retrieve(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Principal{}, ErrUnauthenticated
	}
	revoked, err := s.revoked.Revoked(ctx, claims.ID)
	if err != nil {
		return Principal{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Principal{}, ErrUnauthenticated
	}
	profile, err := s.store.ProfileByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrUnauthenticated
	}
	if err != nil {
		return Principal{}, err
	}
	return profile.Principal(), nil
}

// SetRole changes userID's platform role. Only a super_admin may call it.
func (s *Sessions) SetRole(ctx context.Context, actor Session, userID string, role Role) error {
	if !actor.Authenticated() {
		return ErrUnauthenticated
	}
	if !actor.Role.Satisfies(RoleSuperAdmin) {
		return ErrForbidden
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role", ErrInvalidInput)
	}
	if err := s.store.SetRole(ctx, userID, role); err != nil {
		s.log.WithFields(logrus.Fields{"user_id": userID, "role": role}).WithError(err).Error("set role failed")
		return err
	}
	if s.audit != nil {
		s.audit.Record(ctx, "role.changed", "user", userID, map[string]any{"role": string(role)})
	}
	if s.hub != nil {
		s.hub.Publish(stream.Event{
			Kind:        stream.KindRoleChanged,
			PrincipalID: userID,
			Payload:     map[string]any{"role": string(role)},
		})
	}
	return nil
}

func (s *Sessions) grant(p Principal) (Grant, error) {
	token, claims, err := s.tokens.Issue(p)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Token: token, ExpiresAt: claims.ExpiresAt.Time, Principal: p}, nil
}
