package httpapi

import (
	"net/http"

	"loyaltydesk.org/internal/audit"
)

func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), 100, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	entries, err := a.Audit.List(ctx, audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		Limit:      limit,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
