package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSessionTimeout bounds session retrieval during bootstrap.
const DefaultSessionTimeout = 5 * time.Second

// State is the gate's position in its resolution lifecycle.
type State int

const (
	Uninitialized State = iota
	Resolving
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Resolving:
		return "resolving"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Session is the resolved view consumed by guards and handlers.
type Session struct {
	Principal *Principal `json:"principal,omitempty"`
	Role      Role       `json:"role"`
	Ready     bool       `json:"ready"`
}

// Authenticated reports whether a principal is present.
func (s Session) Authenticated() bool { return s.Principal != nil }

// Capabilities returns the flags for the session role; anonymous sessions have none.
func (s Session) Capabilities() Capabilities {
	if !s.Authenticated() {
		return Capabilities{}
	}
	return s.Role.Capabilities()
}

// SessionRetriever resolves a bearer token into a principal.
type SessionRetriever interface {
	Retrieve(ctx context.Context, token string) (Principal, error)
}

// Authenticator holds the collaborators shared by every Gate.
type Authenticator struct {
	sessions SessionRetriever
	resolver *Resolver
	timeout  time.Duration
	log      *logrus.Entry
}

// NewAuthenticator builds gates that retrieve sessions through sessions and
// roles through resolver. A non-positive timeout uses DefaultSessionTimeout.
func NewAuthenticator(sessions SessionRetriever, resolver *Resolver, timeout time.Duration, log *logrus.Entry) *Authenticator {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Authenticator{sessions: sessions, resolver: resolver, timeout: timeout, log: log}
}

// NewGate returns a gate in the Uninitialized state.
func (a *Authenticator) NewGate() *Gate {
	return &Gate{auth: a}
}

// Gate owns the session state for one client.
type Gate struct {
	auth *Authenticator

	mu      sync.RWMutex
	state   State
	session Session
}

// State returns the current lifecycle state.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Session returns the current session. Ready is false until the first
// bootstrap completes.
func (g *Gate) Session() Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session
}

// Bootstrap resolves token into a session. Retrieval is bounded by the
// session timeout; a timeout or any retrieval failure yields Anonymous.
func (g *Gate) Bootstrap(ctx context.Context, token string) Session {
	g.mu.Lock()
	g.state = Resolving
	g.mu.Unlock()

	if token == "" {
		return g.settle(Session{Ready: true}, Anonymous)
	}

	principal, err := g.retrieve(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			g.auth.log.WithError(err).Warn("session retrieval failed, continuing anonymous")
		}
		return g.settle(Session{Ready: true}, Anonymous)
	}

	role := g.resolveRole(ctx, principal.ID)
	return g.settle(Session{Principal: &principal, Role: role, Ready: true}, Authenticated)
}

// Refresh re-resolves the role for the current principal, keeping the gate
// authenticated. Anonymous gates are unchanged.
func (g *Gate) Refresh(ctx context.Context) Session {
	g.mu.RLock()
	current := g.session
	g.mu.RUnlock()
	if !current.Authenticated() {
		return current
	}
	current.Role = g.resolveRole(ctx, current.Principal.ID)
	return g.settle(current, Authenticated)
}

// SignOut drops the principal and moves to Anonymous.
func (g *Gate) SignOut() {
	g.settle(Session{Ready: true}, Anonymous)
}

func (g *Gate) settle(s Session, st State) Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session = s
	g.state = st
	return s
}

type retrieval struct {
	principal Principal
	err       error
}

func (g *Gate) retrieve(ctx context.Context, token string) (Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, g.auth.timeout)
	defer cancel()

	done := make(chan retrieval, 1)
	go func() {
		p, err := g.auth.sessions.Retrieve(ctx, token)
		done <- retrieval{principal: p, err: err}
	}()

	select {
	case r := <-done:
		return r.principal, r.err
	case <-ctx.Done():
		return Principal{}, ctx.Err()
	}
}

func (g *Gate) resolveRole(ctx context.Context, userID string) Role {
	if g.auth.resolver == nil {
		return RoleUser
	}
	ctx, cancel := context.WithTimeout(ctx, g.auth.timeout)
	defer cancel()
	return g.auth.resolver.Resolve(ctx, userID)
}
