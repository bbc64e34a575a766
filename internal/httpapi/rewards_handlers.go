package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/rewards"
)

type rewardsResponse struct {
	rewards.Snapshot
	PointsToNext int64    `json:"points_to_next"`
	Eligible     []string `json:"eligible_milestone_ids"`
	Partial      bool     `json:"partial"`
	Error        string   `json:"error,omitempty"`
}

type redeemRequest struct {
	MilestoneID string `json:"milestone_id"`
}

type decisionRequest struct {
	Approve bool `json:"approve"`
}

func newRewardsResponse(s rewards.Snapshot) rewardsResponse {
	resp := rewardsResponse{Snapshot: s, PointsToNext: s.PointsToNext(), Eligible: []string{}}
	for _, m := range s.Milestones {
		if s.Eligible(m) {
			resp.Eligible = append(resp.Eligible, m.ID)
		}
	}
	if s.Err != nil {
		resp.Partial = true
		resp.Error = s.Err.Error()
	}
	return resp
}

func (a *API) myRewards(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	snap, err := a.Aggregator.Load(ctx, p.ID)
	if err != nil {
		a.Log.WithField("principal_id", p.ID).WithError(err).Error("load rewards failed")
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRewardsResponse(snap))
}

func (a *API) redeem(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req redeemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	milestoneID := strings.TrimSpace(req.MilestoneID)
	if milestoneID == "" {
		writeError(w, r, http.StatusBadRequest, "milestone_id is required")
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	perk, err := a.Rewards.Redeem(ctx, p.ID, milestoneID)
	if err != nil {
		handleRewardsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, perk)
}

func (a *API) pendingPerks(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 100, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	perks, err := a.Rewards.Pending(ctx, limit)
	if err != nil {
		handleRewardsError(w, r, err)
		return
	}
	if perks == nil {
		perks = []rewards.Perk{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perks})
}

func (a *API) decidePerk(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	perk, err := a.Rewards.DecidePerk(ctx, r.PathValue("id"), req.Approve)
	if err != nil {
		handleRewardsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perk)
}

func handleRewardsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rewards.ErrInvalidInput), errors.Is(err, rewards.ErrInvalidLadder):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rewards.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, rewards.ErrAlreadyRedeemed), errors.Is(err, rewards.ErrAlreadyDecided):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, rewards.ErrNotEligible):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		writeStoreError(w, r, err)
	}
}
