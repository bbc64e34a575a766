package httpapi

import (
	"errors"
	"net/http"
	"time"

	"loyaltydesk.org/internal/auth"
)

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Principal auth.Principal `json:"principal"`
}

type sessionResponse struct {
	State        string            `json:"state"`
	Session      auth.Session      `json:"session"`
	Capabilities auth.Capabilities `json:"capabilities"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	grant, err := a.Sessions.SignUp(ctx, req.Email, req.Password, req.DisplayName)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: grant.Token, ExpiresAt: grant.ExpiresAt, Principal: grant.Principal})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	grant, err := a.Sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: grant.Token, ExpiresAt: grant.ExpiresAt, Principal: grant.Principal})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	if err := a.Sessions.Logout(ctx, token); err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) session(w http.ResponseWriter, r *http.Request) {
	s, _ := auth.SessionFromContext(r.Context())
	state := auth.Anonymous
	if s.Authenticated() {
		state = auth.Authenticated
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		State:        state.String(),
		Session:      s,
		Capabilities: s.Capabilities(),
	})
}

func (a *API) setRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "role must be one of user, staff, super_admin")
		return
	}
	actor, _ := auth.SessionFromContext(r.Context())
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	userID := r.PathValue("id")
	if err := a.Sessions.SetRole(ctx, actor, userID, role); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "role": role})
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "insufficient role")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	default:
		writeStoreError(w, r, err)
	}
}
