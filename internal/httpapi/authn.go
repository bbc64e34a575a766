package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"loyaltydesk.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
}

// withSession bootstraps a gate for the request and attaches the settled
// session. A missing, invalid or slow token yields an anonymous session.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token, _ := extractBearerToken(r.Header.Get(authHeader))
		if token == "" && websocketUpgrade(r) {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}

		session := auth.Session{Ready: true}
		if a.Auth != nil {
			session = a.Auth.NewGate().Bootstrap(r.Context(), token)
		}
		ctx := auth.ContextWithSession(r.Context(), session)
		if session.Authenticated() {
			ctx = auth.ContextWithToken(ctx, token)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// require guards next behind role. Redirect outcomes become 401/403 with
// the redirect target in Location.
func (a *API) require(role auth.Role, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := auth.SessionFromContext(r.Context())
		d := auth.Guard(s, role, r.URL.Path)
		switch d.Outcome {
		case auth.Allow:
			next(w, r)
		case auth.Pending:
			writeError(w, r, http.StatusServiceUnavailable, "session not ready")
		case auth.RedirectLogin:
			w.Header().Set("WWW-Authenticate", `Bearer realm="loyaltydesk"`)
			w.Header().Set("Location", d.Location)
			writeError(w, r, http.StatusUnauthorized, "authentication required")
		case auth.RedirectHome:
			w.Header().Set("Location", d.Location)
			writeError(w, r, http.StatusForbidden, "insufficient role")
		}
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
