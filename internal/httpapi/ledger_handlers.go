package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/ledger"
)

type adjustPointsRequest struct {
	PrincipalID string `json:"principal_id"`
	Delta       int64  `json:"delta"`
	Description string `json:"description"`
}

type listTransactionsResponse struct {
	Items []ledger.Transaction `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

func (a *API) myTransactions(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	limit, err := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	items, err := a.Ledger.List(ctx, p.ID, limit)
	if err != nil {
		a.Log.WithField("principal_id", p.ID).WithError(err).Error("list transactions failed")
		handleLedgerError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Transaction{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) adjustPoints(w http.ResponseWriter, r *http.Request) {
	var req adjustPointsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	principalID := strings.TrimSpace(req.PrincipalID)
	if principalID == "" {
		writeError(w, r, http.StatusBadRequest, "principal_id is required")
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	txn, err := a.Ledger.Record(ctx, principalID, req.Delta, req.Description)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.Audit.Record(ctx, "points.adjusted", "principal", principalID, map[string]any{
		"delta":          req.Delta,
		"description":    txn.Description,
		"transaction_id": txn.ID,
	})
	writeJSON(w, http.StatusCreated, txn)
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	principalID := r.PathValue("id")
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	bal, err := a.Ledger.Reconcile(ctx, principalID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.Audit.Record(ctx, "points.reconciled", "principal", principalID, map[string]any{"balance": bal})
	writeJSON(w, http.StatusOK, map[string]any{"principal_id": principalID, "balance": bal})
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidDelta), errors.Is(err, ledger.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeStoreError(w, r, err)
	}
}
