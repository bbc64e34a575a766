package auth

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// RoleStrategy resolves a platform role from one source. A strategy that
// cannot answer returns a *RoleResolutionError.
type RoleStrategy interface {
	Name() string
	Resolve(ctx context.Context, userID string) (Role, error)
}

// FunctionStrategy asks the backend role function.
type FunctionStrategy struct{ Source RoleSource }

func (FunctionStrategy) Name() string { return "function" }

func (s FunctionStrategy) Resolve(ctx context.Context, userID string) (Role, error) {
	raw, err := s.Source.RoleFunction(ctx, userID)
	if err != nil {
		return "", classify(s.Name(), err)
	}
	if raw == "" {
		return "", &RoleResolutionError{Strategy: s.Name(), Kind: NoRole}
	}
	return parseResolved(s.Name(), raw)
}

// TableStrategy reads the role assignment table directly.
type TableStrategy struct{ Source RoleSource }

func (TableStrategy) Name() string { return "table" }

func (s TableStrategy) Resolve(ctx context.Context, userID string) (Role, error) {
	raw, err := s.Source.RoleTable(ctx, userID)
	if err != nil {
		return "", classify(s.Name(), err)
	}
	return parseResolved(s.Name(), raw)
}

// LegacyFlagStrategy maps the profile is_admin flag: true is super_admin, false is user.
type LegacyFlagStrategy struct{ Source RoleSource }

func (LegacyFlagStrategy) Name() string { return "legacy_flag" }

func (s LegacyFlagStrategy) Resolve(ctx context.Context, userID string) (Role, error) {
	isAdmin, err := s.Source.LegacyAdminFlag(ctx, userID)
	if err != nil {
		return "", classify(s.Name(), err)
	}
	if isAdmin {
		return RoleSuperAdmin, nil
	}
	return RoleUser, nil
}

func classify(strategy string, err error) *RoleResolutionError {
	kind := Unavailable
	switch {
	case errors.Is(err, ErrNotFound):
		kind = NoRole
	case errors.Is(err, ErrPolicyDenied):
		kind = PolicyDenied
	}
	return &RoleResolutionError{Strategy: strategy, Kind: kind, Err: err}
}

func parseResolved(strategy, raw string) (Role, error) {
	role, ok := ParseRole(raw)
	if !ok {
		return "", &RoleResolutionError{Strategy: strategy, Kind: Unavailable, Err: errors.New("unrecognised role " + raw)}
	}
	return role, nil
}

// Resolver walks an ordered list of strategies.
type Resolver struct {
	strategies []RoleStrategy
	log        *logrus.Entry
}

// NewResolver builds a resolver over strategies, tried in the given order.
func NewResolver(log *logrus.Entry, strategies ...RoleStrategy) *Resolver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Resolver{strategies: strategies, log: log}
}

// DefaultResolver chains function, table and legacy flag lookups over src.
func DefaultResolver(src RoleSource, log *logrus.Entry) *Resolver {
	return NewResolver(log,
		FunctionStrategy{Source: src},
		TableStrategy{Source: src},
		LegacyFlagStrategy{Source: src},
	)
}

// Resolve always terminates in one of the three roles. NoRole ends the chain
// with RoleUser; other failures fall through to the next strategy.
func (r *Resolver) Resolve(ctx context.Context, userID string) Role {
	for _, s := range r.strategies {
		role, err := s.Resolve(ctx, userID)
		if err == nil {
			return role
		}
		var rerr *RoleResolutionError
		if errors.As(err, &rerr) && rerr.Kind == NoRole {
			return RoleUser
		}
		if ctx.Err() != nil {
			r.log.WithField("user_id", userID).WithError(ctx.Err()).Warn("role resolution cancelled")
			return RoleUser
		}
		r.log.WithFields(logrus.Fields{
			"user_id":  userID,
			"strategy": s.Name(),
		}).WithError(err).Warn("role strategy failed, falling back")
	}
	return RoleUser
}
