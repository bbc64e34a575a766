package auth

import "net/url"

const (
	LoginPath = "/login"
	HomePath  = "/dashboard"
)

// Outcome is the kind of decision a guard reached.
type Outcome int

const (
	// Pending means the session is not ready; no content and no redirect.
	Pending Outcome = iota
	Allow
	RedirectLogin
	RedirectHome
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	default:
		return "unknown"
	}
}

// Decision is a guard result. Location is set for redirects.
type Decision struct {
	Outcome  Outcome `json:"-"`
	Location string  `json:"location,omitempty"`
}

// Guard decides access to path for a route requiring the given role.
func Guard(s Session, required Role, path string) Decision {
	if !s.Ready {
		return Decision{Outcome: Pending}
	}
	if !s.Authenticated() {
		loc := LoginPath
		if path != "" {
			loc += "?next=" + url.QueryEscape(path)
		}
		return Decision{Outcome: RedirectLogin, Location: loc}
	}
	if !s.Role.Satisfies(required) {
		return Decision{Outcome: RedirectHome, Location: HomePath}
	}
	return Decision{Outcome: Allow}
}
