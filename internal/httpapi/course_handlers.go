package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/courses"
	"loyaltydesk.org/internal/ledger"
)

type courseRequest struct {
	Title  string   `json:"title"`
	Tags   []string `json:"tags"`
	Points int64    `json:"points"`
	URL    string   `json:"url"`
}

func (c courseRequest) course(id string) courses.Course {
	return courses.Course{ID: id, Title: c.Title, Tags: c.Tags, Points: c.Points, URL: c.URL}
}

type completionResponse struct {
	Enrollment  courses.Enrollment  `json:"enrollment"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
}

func (a *API) listCourses(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	list, err := a.Courses.List(ctx, r.URL.Query().Get("tag"))
	if err != nil {
		handleCourseError(w, r, err)
		return
	}
	if list == nil {
		list = []courses.Course{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) enroll(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	e, err := a.Courses.Enroll(ctx, r.PathValue("id"), p.ID)
	if err != nil {
		handleCourseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) createCourse(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	c, err := a.Courses.Create(ctx, req.course(""))
	if err != nil {
		handleCourseError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/admin/courses/%s", c.ID))
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) updateCourse(w http.ResponseWriter, r *http.Request) {
	var req courseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	c, err := a.Courses.Update(ctx, req.course(r.PathValue("id")))
	if err != nil {
		handleCourseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteCourse(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	if err := a.Courses.Delete(ctx, r.PathValue("id")); err != nil {
		handleCourseError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) completeEnrollment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	e, txn, err := a.Courses.Complete(ctx, r.PathValue("id"))
	if err != nil {
		handleCourseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{Enrollment: e, Transaction: txn})
}

func handleCourseError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, courses.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "course or enrollment not found")
	case errors.Is(err, courses.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, courses.ErrAlreadyEnrolled), errors.Is(err, courses.ErrAlreadyCompleted):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		handleLedgerError(w, r, err)
	}
}
