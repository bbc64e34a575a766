package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/audit"
	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/courses"
	"loyaltydesk.org/internal/imports"
	"loyaltydesk.org/internal/ledger"
	"loyaltydesk.org/internal/obs"
	"loyaltydesk.org/internal/orgs"
	"loyaltydesk.org/internal/redemptions"
	"loyaltydesk.org/internal/rewards"
	"loyaltydesk.org/internal/stream"
)

const serviceName = "loyaltydesk-api"

// ReadyChecker reports whether backing stores are reachable.
type ReadyChecker interface {
	Check(ctx context.Context) error
}

// PingFunc adapts a ping function to ReadyChecker. A nil func is always ready.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Probe       ReadyChecker
	Version     string
	Sessions    *auth.Sessions
	Auth        *auth.Authenticator
	Ledger      ledger.Service
	Aggregator  *rewards.Aggregator
	Rewards     *rewards.Service
	Imports     *imports.Pipeline
	Orgs        *orgs.Service
	Redemptions *redemptions.Service
	Courses     *courses.Service
	Audit       *audit.Recorder
	Hub         *stream.Hub
	Log         *logrus.Entry
}

// API is the HTTP layer.
type API struct {
	Deps
	mux *http.ServeMux

	rateBurst      int
	ratePerSec     int
	dataTimeout    time.Duration
	maxUploadBytes int64
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst, perSec int) Option {
	return func(a *API) {
		if burst > 0 && perSec > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSec
		}
	}
}

// WithDataTimeout bounds every store call made while serving a request.
func WithDataTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.dataTimeout = d
		}
	}
}

// WithMaxUploadBytes caps import upload size.
func WithMaxUploadBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxUploadBytes = n
		}
	}
}

func New(deps Deps, opts ...Option) *API {
	if deps.Log == nil {
		deps.Log = obs.NewLogger(serviceName)
	}
	if deps.Probe == nil {
		deps.Probe = PingFunc(nil)
	}
	a := &API{
		Deps:           deps,
		mux:            http.NewServeMux(),
		rateBurst:      20,
		ratePerSec:     10,
		dataTimeout:    10 * time.Second,
		maxUploadBytes: 10 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	user, staff, super := auth.RoleUser, auth.RoleStaff, auth.RoleSuperAdmin

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/auth/signup", a.signUp)
	a.mux.HandleFunc("POST /v1/auth/login", a.login)
	a.mux.Handle("POST /v1/auth/logout", a.require(user, a.logout))
	a.mux.Handle("GET /v1/auth/session", a.require(user, a.session))

	a.mux.Handle("GET /v1/me/rewards", a.require(user, a.myRewards))
	a.mux.Handle("GET /v1/me/rewards/stream", a.require(user, a.RewardsStream))
	a.mux.Handle("POST /v1/me/rewards/redeem", a.require(user, a.redeem))
	a.mux.Handle("GET /v1/me/transactions", a.require(user, a.myTransactions))
	a.mux.Handle("GET /v1/me/events", a.require(user, a.Stream))
	a.mux.Handle("GET /v1/me/events/ws", a.require(user, a.StreamWS))

	a.mux.Handle("GET /v1/courses", a.require(user, a.listCourses))
	a.mux.Handle("POST /v1/courses/{id}/enroll", a.require(user, a.enroll))
	a.mux.Handle("POST /v1/organizations/{id}/redemptions", a.require(user, a.createRedemption))

	a.mux.Handle("POST /v1/admin/imports", a.require(staff, a.uploadImport))
	a.mux.Handle("GET /v1/admin/imports", a.require(staff, a.listImports))
	a.mux.Handle("GET /v1/admin/imports/{id}/snapshots", a.require(staff, a.importSnapshots))
	a.mux.Handle("GET /v1/admin/organizations", a.require(staff, a.listOrganizations))
	a.mux.Handle("GET /v1/admin/organizations/{id}/members", a.require(staff, a.listMembers))
	a.mux.Handle("POST /v1/admin/organizations/{id}/members", a.require(staff, a.addMember))
	a.mux.Handle("GET /v1/admin/redemptions", a.require(staff, a.listRedemptions))
	a.mux.Handle("POST /v1/admin/redemptions/{id}/decision", a.require(staff, a.decideRedemption))
	a.mux.Handle("POST /v1/admin/courses", a.require(staff, a.createCourse))
	a.mux.Handle("PUT /v1/admin/courses/{id}", a.require(staff, a.updateCourse))
	a.mux.Handle("DELETE /v1/admin/courses/{id}", a.require(staff, a.deleteCourse))
	a.mux.Handle("POST /v1/admin/enrollments/{id}/complete", a.require(staff, a.completeEnrollment))
	a.mux.Handle("POST /v1/admin/transactions", a.require(staff, a.adjustPoints))
	a.mux.Handle("POST /v1/admin/principals/{id}/reconcile", a.require(staff, a.reconcile))
	a.mux.Handle("GET /v1/admin/perks", a.require(staff, a.pendingPerks))
	a.mux.Handle("POST /v1/admin/perks/{id}/decision", a.require(staff, a.decidePerk))
	a.mux.Handle("GET /v1/admin/audit", a.require(staff, a.listAudit))

	a.mux.Handle("PUT /v1/admin/users/{id}/role", a.require(super, a.setRole))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.dataCtx(r)
	defer cancel()
	if err := a.Probe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.Version,
	})
}

// dataCtx derives the per-call context for store access.
func (a *API) dataCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), a.dataTimeout)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeStoreError handles failures common to every area: cancelled or
// timed out store calls and unexpected errors.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "data service timed out")
	case errors.Is(err, context.Canceled):
		writeError(w, r, 499, "request cancelled")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parseLimit(raw string, def, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < 1 || val > max {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(max))
	}
	return val, nil
}
