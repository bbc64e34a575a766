package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("auth: not found")
	ErrConflict        = errors.New("auth: already exists")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: insufficient role")
	ErrInvalidToken    = errors.New("auth: invalid token")
)

// FailureKind classifies why a role strategy could not produce a role.
type FailureKind int

const (
	// Unavailable means the backing source errored; the next strategy is tried.
	Unavailable FailureKind = iota
	// PolicyDenied means the source refused the lookup (row-level policy,
	// missing grant); the next strategy is tried.
	PolicyDenied
	// NoRole means the source answered authoritatively that no role row
	// exists; resolution stops with RoleUser.
	NoRole
)

func (k FailureKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case PolicyDenied:
		return "policy_denied"
	case NoRole:
		return "no_role"
	default:
		return "unknown"
	}
}

// RoleResolutionError is returned by a RoleStrategy that could not resolve a role.
type RoleResolutionError struct {
	Strategy string
	Kind     FailureKind
	Err      error
}

func (e *RoleResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("role resolution via %s: %s", e.Strategy, e.Kind)
	}
	return fmt.Sprintf("role resolution via %s: %s: %v", e.Strategy, e.Kind, e.Err)
}

func (e *RoleResolutionError) Unwrap() error { return e.Err }

// ErrPolicyDenied is returned by role sources when the backend refuses the
// lookup under its access policy.
var ErrPolicyDenied = errors.New("auth: denied by policy")
