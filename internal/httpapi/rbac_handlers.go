package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/orgs"
	"loyaltydesk.org/internal/redemptions"
)

type addMemberRequest struct {
	PrincipalID string `json:"principal_id"`
	Role        string `json:"role"`
}

type createRedemptionRequest struct {
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

func (a *API) listOrganizations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	list, err := a.Orgs.List(ctx)
	if err != nil {
		handleOrgError(w, r, err)
		return
	}
	if list == nil {
		list = []orgs.Organization{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) listMembers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	members, err := a.Orgs.Members(ctx, r.PathValue("id"))
	if err != nil {
		handleOrgError(w, r, err)
		return
	}
	if members == nil {
		members = []orgs.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": members})
}

func (a *API) addMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := auth.ParseOrgRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "role must be org_user or org_admin")
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	orgID := r.PathValue("id")
	m, err := a.Orgs.AddMember(ctx, orgID, req.PrincipalID, role)
	if err != nil {
		handleOrgError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/admin/organizations/%s/members", orgID))
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) createRedemption(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req createRedemptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	out, err := a.Redemptions.Create(ctx, r.PathValue("id"), p.ID, req.Points, req.Reason)
	if err != nil {
		handleRedemptionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) listRedemptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, ok := redemptions.ParseStatus(q.Get("status"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "status must be pending, approved or rejected")
		return
	}
	limit, err := parseLimit(q.Get("limit"), 100, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	list, err := a.Redemptions.List(ctx, status, limit)
	if err != nil {
		handleRedemptionError(w, r, err)
		return
	}
	if list == nil {
		list = []redemptions.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) decideRedemption(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	out, err := a.Redemptions.Decide(ctx, r.PathValue("id"), p.ID, req.Approve)
	if err != nil {
		handleRedemptionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func handleOrgError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orgs.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "organization not found")
	case errors.Is(err, orgs.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, orgs.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeStoreError(w, r, err)
	}
}

func handleRedemptionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, redemptions.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "redemption request not found")
	case errors.Is(err, redemptions.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, redemptions.ErrNotMember):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, redemptions.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeStoreError(w, r, err)
	}
}
