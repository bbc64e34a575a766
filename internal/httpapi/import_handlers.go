package httpapi

import (
	"errors"
	"net/http"

	"loyaltydesk.org/internal/imports"
)

type importResponse struct {
	imports.Result
	Partial bool `json:"partial"`
}

func (a *API) uploadImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, "multipart form with a file field is required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	// The pipeline bounds each batch write itself.
	res, err := a.Imports.Run(r.Context(), imports.Upload{FileName: header.Filename, Body: file})
	if errors.Is(err, imports.ErrInterrupted) {
		writeJSON(w, http.StatusMultiStatus, importResponse{Result: res, Partial: true})
		return
	}
	if err != nil {
		handleImportError(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Partial() {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, importResponse{Result: res, Partial: res.Partial()})
}

func (a *API) listImports(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 50, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	batches, err := a.Imports.ListBatches(ctx, limit)
	if err != nil {
		handleImportError(w, r, err)
		return
	}
	if batches == nil {
		batches = []imports.Batch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": batches, "columns": a.Imports.Columns()})
}

func (a *API) importSnapshots(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	snaps, err := a.Imports.Snapshots(ctx, r.PathValue("id"))
	if err != nil {
		handleImportError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []imports.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": snaps})
}

func handleImportError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		parseErr *imports.ParseError
		valErr   *imports.ValidationError
	)
	switch {
	case errors.Is(err, imports.ErrAuthentication):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.As(err, &parseErr):
		writeError(w, r, http.StatusBadRequest, parseErr.Error())
	case errors.As(err, &valErr):
		payload := map[string]any{
			"error":  valErr.Error(),
			"row":    valErr.Row,
			"field":  valErr.Field,
			"reason": valErr.Reason,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusUnprocessableEntity, payload)
	case errors.Is(err, imports.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeStoreError(w, r, err)
	}
}
