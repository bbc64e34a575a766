package auth

import "time"

// Principal is the authenticated user within a session.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Profile is the persisted user row behind a Principal.
type Profile struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	// IsAdmin is the legacy boolean flag kept for older rows without a role.
	IsAdmin   bool
	CreatedAt time.Time
}

// Principal projects the profile onto the session principal.
func (p Profile) Principal() Principal {
	return Principal{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName}
}
