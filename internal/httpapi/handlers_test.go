package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/audit"
	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/courses"
	"loyaltydesk.org/internal/imports"
	"loyaltydesk.org/internal/ledger"
	"loyaltydesk.org/internal/orgs"
	"loyaltydesk.org/internal/redemptions"
	"loyaltydesk.org/internal/rewards"
	"loyaltydesk.org/internal/stream"
)

type testEnv struct {
	api      *API
	handler  http.Handler
	users    *auth.InMemoryStore
	ledger   *ledger.InMemory
	catalog  *rewards.InMemory
	orgStore *orgs.InMemory
	audit    *audit.InMemory
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestEnv(t *testing.T, probe ReadyChecker) *testEnv {
	t.Helper()
	log := quietLogger()
	hub := stream.New()

	users := auth.NewInMemoryStore()
	tokens, err := auth.NewTokens("test-secret-test-secret-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	auditStore := audit.NewInMemory()
	recorder := audit.NewRecorder(auditStore, log)
	sessions, err := auth.NewSessions(users, tokens, nil, auth.WithAuditor(recorder), auth.WithLogger(log))
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	authn := auth.NewAuthenticator(sessions, sessions.Resolver(), time.Second, log)

	book := ledger.NewInMemory()
	events := ledger.WithEvents(book, hub)
	catalog := rewards.NewInMemory()
	orgStore := orgs.NewInMemory(book)
	orgSvc := orgs.NewService(orgStore, recorder, log)

	api := New(Deps{
		Probe:       probe,
		Version:     "test",
		Sessions:    sessions,
		Auth:        authn,
		Ledger:      events,
		Aggregator:  rewards.NewAggregator(events, catalog, catalog, hub, rewards.WithAggregatorLogger(log)),
		Rewards:     rewards.NewService(events, catalog, catalog, hub, recorder, log),
		Imports:     imports.NewPipeline(imports.NewInMemory(), orgStore, imports.WithAuditor(recorder), imports.WithLogger(log)),
		Orgs:        orgSvc,
		Redemptions: redemptions.NewService(redemptions.NewInMemory(), orgSvc, redemptions.Deps{Audit: recorder, Hub: hub, Log: log}),
		Courses:     courses.NewService(courses.NewInMemory(), events, recorder, log),
		Audit:       recorder,
		Hub:         hub,
		Log:         log,
	}, WithRateLimit(1000, 1000))

	return &testEnv{
		api:      api,
		handler:  api.Handler(),
		users:    users,
		ledger:   book,
		catalog:  catalog,
		orgStore: orgStore,
		audit:    auditStore,
	}
}

// signUp registers a principal with role and returns its id and token.
func (e *testEnv) signUp(t *testing.T, email string, role auth.Role) (string, string) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": "correct-horse",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup %s: %d %s", email, rr.Code, rr.Body.String())
	}
	var out tokenResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode signup: %v", err)
	}
	if role != auth.RoleUser {
		if err := e.users.SetRole(context.Background(), out.Principal.ID, role); err != nil {
			t.Fatalf("set role: %v", err)
		}
	}
	return out.Principal.ID, out.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.0.0.1:1234"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestHealthzAndReady(t *testing.T) {
	env := newTestEnv(t, PingFunc(func(context.Context) error { return errors.New("db down") }))

	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rr.Code)
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}

	rr = env.do(t, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "db down" {
		t.Fatalf("unexpected readyz body %v", body)
	}
}

func TestGuardedRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	_, userToken := env.signUp(t, "user@example.com", auth.RoleUser)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)
	_, superToken := env.signUp(t, "root@example.com", auth.RoleSuperAdmin)

	cases := []struct {
		name     string
		path     string
		token    string
		want     int
		location string
	}{
		{name: "anonymous user route", path: "/v1/me/rewards", want: http.StatusUnauthorized, location: auth.LoginPath + "?next=" + url.QueryEscape("/v1/me/rewards")},
		{name: "bad token", path: "/v1/me/rewards", token: "garbage", want: http.StatusUnauthorized, location: auth.LoginPath + "?next=" + url.QueryEscape("/v1/me/rewards")},
		{name: "user on user route", path: "/v1/me/rewards", token: userToken, want: http.StatusOK},
		{name: "user on staff route", path: "/v1/admin/organizations", token: userToken, want: http.StatusForbidden, location: auth.HomePath},
		{name: "staff on staff route", path: "/v1/admin/organizations", token: staffToken, want: http.StatusOK},
		{name: "super admin inherits staff", path: "/v1/admin/audit", token: superToken, want: http.StatusOK},
		{name: "anonymous staff route", path: "/v1/admin/audit", want: http.StatusUnauthorized, location: auth.LoginPath + "?next=" + url.QueryEscape("/v1/admin/audit")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, tc.path, tc.token, nil)
			if rr.Code != tc.want {
				t.Fatalf("status %d, want %d: %s", rr.Code, tc.want, rr.Body.String())
			}
			if got := rr.Header().Get("Location"); got != tc.location {
				t.Fatalf("location %q, want %q", got, tc.location)
			}
		})
	}
}

func TestSetRoleRequiresSuperAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	userID, userToken := env.signUp(t, "user@example.com", auth.RoleUser)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)
	_, superToken := env.signUp(t, "root@example.com", auth.RoleSuperAdmin)

	rr := env.do(t, http.MethodPut, "/v1/admin/users/"+userID+"/role", staffToken, map[string]any{"role": "staff"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("staff set role: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/v1/admin/users/"+userID+"/role", superToken, map[string]any{"role": "staff"})
	if rr.Code >= 300 {
		t.Fatalf("super admin set role: %d %s", rr.Code, rr.Body.String())
	}

	// Roles resolve per request, so the promoted user reaches staff routes
	// with the token issued before the change.
	rr = env.do(t, http.MethodGet, "/v1/admin/organizations", userToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("promoted user on staff route: %d", rr.Code)
	}
}

func TestSessionReportsCapabilities(t *testing.T) {
	env := newTestEnv(t, nil)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)

	rr := env.do(t, http.MethodGet, "/v1/auth/session", staffToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("session status %d", rr.Code)
	}
	body := decodeBody(t, rr)
	caps, _ := body["capabilities"].(map[string]any)
	if caps["is_staff"] != true || caps["is_admin"] != false {
		t.Fatalf("unexpected capabilities %v", caps)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.signUp(t, "user@example.com", auth.RoleUser)

	rr := env.do(t, http.MethodPost, "/v1/auth/logout", token, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout status %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/v1/me/rewards", token, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token status %d", rr.Code)
	}
}

func TestRewardsRedeemFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	userID, userToken := env.signUp(t, "user@example.com", auth.RoleUser)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)

	if _, err := env.catalog.CreateTier(ctx, rewards.Tier{ID: "bronze", Name: "Bronze", MinPoints: 0}); err != nil {
		t.Fatalf("create tier: %v", err)
	}
	if _, err := env.catalog.CreateMilestone(ctx, rewards.Milestone{ID: "m100", Name: "Mug", PointsRequired: 100}); err != nil {
		t.Fatalf("create milestone: %v", err)
	}

	rr := env.do(t, http.MethodPost, "/v1/me/rewards/redeem", userToken, map[string]any{"milestone_id": "m100"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("redeem without points: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/admin/transactions", staffToken, map[string]any{
		"principal_id": userID,
		"delta":        150,
		"description":  "welcome bonus",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("adjust points: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/v1/me/rewards", userToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("rewards: %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["balance"] != float64(150) {
		t.Fatalf("balance %v", body["balance"])
	}
	if eligible, _ := body["eligible_milestone_ids"].([]any); len(eligible) != 1 || eligible[0] != "m100" {
		t.Fatalf("eligible %v", body["eligible_milestone_ids"])
	}

	rr = env.do(t, http.MethodPost, "/v1/me/rewards/redeem", userToken, map[string]any{"milestone_id": "m100"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("redeem: %d %s", rr.Code, rr.Body.String())
	}
	perkID, _ := decodeBody(t, rr)["id"].(string)

	rr = env.do(t, http.MethodPost, "/v1/me/rewards/redeem", userToken, map[string]any{"milestone_id": "m100"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate redeem: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/admin/perks/"+perkID+"/decision", staffToken, map[string]any{"approve": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("decide perk: %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/v1/admin/perks/"+perkID+"/decision", staffToken, map[string]any{"approve": false})
	if rr.Code != http.StatusConflict {
		t.Fatalf("second decision: %d", rr.Code)
	}
}

func TestAdjustPointsValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)

	cases := []struct {
		name string
		body map[string]any
	}{
		{name: "missing principal", body: map[string]any{"delta": 10, "description": "x"}},
		{name: "zero delta", body: map[string]any{"principal_id": "p1", "delta": 0, "description": "x"}},
		{name: "unknown field", body: map[string]any{"principal_id": "p1", "delta": 5, "description": "x", "extra": true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/v1/admin/transactions", staffToken, tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func multipartUpload(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, token, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, name, content)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/imports", body)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func TestImportUpload(t *testing.T) {
	env := newTestEnv(t, nil)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)
	_, userToken := env.signUp(t, "user@example.com", auth.RoleUser)

	csv := "company_code,company_name,ytd_spend\nC1,Acme,1250.50\nC2,Globex,300\n"

	rr := env.upload(t, userToken, "spend.csv", csv)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("user upload: %d", rr.Code)
	}

	rr = env.upload(t, staffToken, "spend.csv", csv)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["total_rows"] != float64(2) || body["partial"] != false {
		t.Fatalf("unexpected result %v", body)
	}
	batchID, _ := body["batch_id"].(string)

	rr = env.do(t, http.MethodGet, "/v1/admin/imports/"+batchID+"/snapshots", staffToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("snapshots: %d", rr.Code)
	}
	if items, _ := decodeBody(t, rr)["items"].([]any); len(items) != 2 {
		t.Fatalf("snapshots %v", items)
	}

	rr = env.do(t, http.MethodGet, "/v1/admin/organizations", staffToken, nil)
	if items, _ := decodeBody(t, rr)["items"].([]any); len(items) != 2 {
		t.Fatalf("organizations %v", items)
	}
}

func TestImportUploadRejectsInvalidRows(t *testing.T) {
	env := newTestEnv(t, nil)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)

	rr := env.upload(t, staffToken, "spend.csv", "company_code,company_name,ytd_spend\nC1,,12\n")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["row"] == nil || body["field"] != "company_name" {
		t.Fatalf("unexpected body %v", body)
	}

	rr = env.upload(t, staffToken, "spend.csv", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty upload status %d", rr.Code)
	}
}

func TestRedemptionWorkflow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	userID, userToken := env.signUp(t, "user@example.com", auth.RoleUser)
	_, outsiderToken := env.signUp(t, "outsider@example.com", auth.RoleUser)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)

	if err := env.orgStore.UpsertOrganizations(ctx, []orgs.Upsert{{ExternalCode: "C1", Name: "Acme", LastUpdatedAt: time.Now()}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	list, err := env.orgStore.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list orgs: %v %v", list, err)
	}
	orgID := list[0].ID

	rr := env.do(t, http.MethodPost, "/v1/admin/organizations/"+orgID+"/members", staffToken, map[string]any{"principal_id": userID, "role": "org_admin"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add member: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/organizations/"+orgID+"/redemptions", outsiderToken, map[string]any{"points": 50, "reason": "gift"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("outsider request: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/organizations/"+orgID+"/redemptions", userToken, map[string]any{"points": 50, "reason": "gift"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create redemption: %d %s", rr.Code, rr.Body.String())
	}
	reqID, _ := decodeBody(t, rr)["id"].(string)

	rr = env.do(t, http.MethodGet, "/v1/admin/redemptions?status=pending", staffToken, nil)
	if items, _ := decodeBody(t, rr)["items"].([]any); len(items) != 1 {
		t.Fatalf("pending redemptions %v", items)
	}
	rr = env.do(t, http.MethodGet, "/v1/admin/redemptions?status=bogus", staffToken, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bogus status filter: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/admin/redemptions/"+reqID+"/decision", staffToken, map[string]any{"approve": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("decide: %d %s", rr.Code, rr.Body.String())
	}
	if decodeBody(t, rr)["status"] != "approved" {
		t.Fatalf("expected approved")
	}
	rr = env.do(t, http.MethodPost, "/v1/admin/redemptions/"+reqID+"/decision", staffToken, map[string]any{"approve": false})
	if rr.Code != http.StatusConflict {
		t.Fatalf("re-decide: %d", rr.Code)
	}
}

func TestCourseLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	userID, userToken := env.signUp(t, "user@example.com", auth.RoleUser)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)

	rr := env.do(t, http.MethodPost, "/v1/admin/courses", staffToken, map[string]any{
		"title":  "Onboarding",
		"tags":   []string{"Intro", "intro"},
		"points": 40,
		"url":    "https://learn.example.com/onboarding",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create course: %d %s", rr.Code, rr.Body.String())
	}
	courseID, _ := decodeBody(t, rr)["id"].(string)

	rr = env.do(t, http.MethodGet, "/v1/courses?tag=intro", userToken, nil)
	if items, _ := decodeBody(t, rr)["items"].([]any); len(items) != 1 {
		t.Fatalf("courses by tag %v", items)
	}

	rr = env.do(t, http.MethodPost, "/v1/courses/"+courseID+"/enroll", userToken, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("enroll: %d %s", rr.Code, rr.Body.String())
	}
	enrollmentID, _ := decodeBody(t, rr)["id"].(string)
	rr = env.do(t, http.MethodPost, "/v1/courses/"+courseID+"/enroll", userToken, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("re-enroll: %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/admin/enrollments/"+enrollmentID+"/complete", staffToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rr.Code, rr.Body.String())
	}
	bal, _ := env.ledger.Balance(context.Background(), userID)
	if bal != 40 {
		t.Fatalf("balance %d, want 40", bal)
	}
	rr = env.do(t, http.MethodPost, "/v1/admin/enrollments/"+enrollmentID+"/complete", staffToken, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second completion: %d", rr.Code)
	}

	rr = env.do(t, http.MethodDelete, "/v1/admin/courses/"+courseID, staffToken, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	rr = env.do(t, http.MethodPut, "/v1/admin/courses/"+courseID, staffToken, map[string]any{"title": "Gone", "points": 1, "url": "https://x.example.com"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("update deleted: %d", rr.Code)
	}
}

func TestAuditListFilters(t *testing.T) {
	env := newTestEnv(t, nil)
	userID, _ := env.signUp(t, "user@example.com", auth.RoleUser)
	_, staffToken := env.signUp(t, "staff@example.com", auth.RoleStaff)

	for i := 0; i < 2; i++ {
		rr := env.do(t, http.MethodPost, "/v1/admin/transactions", staffToken, map[string]any{
			"principal_id": userID,
			"delta":        5,
			"description":  "bonus",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("adjust: %d", rr.Code)
		}
	}

	rr := env.do(t, http.MethodGet, "/v1/admin/audit?action=points.adjusted&limit=1", staffToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("audit: %d", rr.Code)
	}
	items, _ := decodeBody(t, rr)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(items))
	}
	entry, _ := items[0].(map[string]any)
	if entry["action"] != "points.adjusted" || entry["entity_id"] != userID {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["actor_id"] == nil {
		t.Fatalf("expected actor on audit entry: %v", entry)
	}

	rr = env.do(t, http.MethodGet, "/v1/admin/audit?limit=0", staffToken, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", rr.Code)
	}
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content type %q", rr.Header().Get("Content-Type"))
	}
}
