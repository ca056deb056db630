package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"bops/internal/config"
	"bops/internal/db"
	"bops/internal/domain"
	"bops/internal/engine"
	"bops/internal/migrate"
	"bops/internal/tasklist"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	// Keys maps user ids to API keys.
	Keys   map[string]string
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("camden")
	e := engine.New(conn, cfg)
	keys := map[string]string{}
	seed := func(tenant string, users map[string]string) {
		if _, err := e.CreateTenant(ctx, tenant, tenant, config.Default(tenant)); err != nil {
			t.Fatalf("create tenant: %v", err)
		}
		for id, role := range users {
			if _, err := e.CreateUser(ctx, engine.UserOptions{ID: id, TenantID: tenant, Name: id, Role: role}); err != nil {
				t.Fatalf("create user: %v", err)
			}
			_, plain, err := e.CreateAPIKey(ctx, id, "test")
			if err != nil {
				t.Fatalf("create key: %v", err)
			}
			keys[id] = plain
		}
	}
	seed("camden", map[string]string{"officer": "assessor", "reviewer": "reviewer", "admin": "administrator"})
	seed("hackney", map[string]string{"outsider": "administrator"})

	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: testSecret, DevLogin: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Keys:   keys,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func (s *testServer) as(actor string) map[string]string {
	return map[string]string{"X-Api-Key": s.Keys[actor]}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// call performs a request as actor and decodes the body into out when the status matches.
func (s *testServer) call(t *testing.T, actor, method, path string, body any, want int, out any) []byte {
	t.Helper()
	res, data := doJSON(t, s.client, method, s.URL+"/v1"+path, body, s.as(actor))
	if res.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, res.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v: %s", err, string(data))
	}
	return env.Error.Code
}

func (s *testServer) createCase(t *testing.T) domain.Case {
	t.Helper()
	var c domain.Case
	s.call(t, "officer", http.MethodPost, "/cases", map[string]any{
		"case_type":             "planning_application",
		"application_type":      "full",
		"description":           "Loft conversion",
		"applicant_name":        "Grace Hopper",
		"applicant_email":       "grace@example.com",
		"ownership_certificate": "a",
	}, http.StatusCreated, &c)
	return c
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	res, _ := doJSON(t, s.client, http.MethodGet, s.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, data := doJSON(t, s.client, http.MethodGet, s.URL+"/v1/cases", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/v1/cases", nil, map[string]string{"X-Api-Key": "bops_nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, s.client, http.MethodGet, s.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
}

func TestDevLoginToken(t *testing.T) {
	s := newTestServer(t)
	var login DevLoginResponse
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "reviewer"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me domain.User
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.ID != "reviewer" || me.Role != "reviewer" || me.TenantID != "camden" {
		t.Fatalf("unexpected principal %+v", me)
	}
}

func TestValidateCaseOverHTTP(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)
	if c.OwnershipCertificate != "A" {
		t.Fatalf("certificate should be normalised, got %q", c.OwnershipCertificate)
	}

	var byRef domain.Case
	s.call(t, "officer", http.MethodGet, "/cases/"+c.Reference, nil, http.StatusOK, &byRef)
	if byRef.ID != c.ID {
		t.Fatalf("lookup by reference returned %s", byRef.ID)
	}

	data := s.call(t, "officer", http.MethodPost, "/cases/"+c.ID+"/events", map[string]any{"event": "validate"}, http.StatusUnprocessableEntity, nil)
	if errorCode(t, data) != "precondition_not_met" {
		t.Fatalf("expected precondition_not_met, got %s", string(data))
	}

	s.call(t, "officer", http.MethodPost, "/cases/"+c.ID+"/documents", map[string]any{"name": "plans.pdf"}, http.StatusCreated, nil)
	for _, slug := range []string{
		tasklist.SlugCheckDocuments, tasklist.SlugCheckRedLineBoundary, tasklist.SlugCheckDescription,
		tasklist.SlugCheckFee, tasklist.SlugCheckOwnershipCertificate,
	} {
		s.call(t, "officer", http.MethodPut, "/cases/"+c.ID+"/tasks/"+slug, map[string]any{"status": "completed"}, http.StatusOK, nil)
	}
	var tasks []tasklist.Task
	s.call(t, "officer", http.MethodGet, "/cases/"+c.ID+"/tasks?section=validation", nil, http.StatusOK, &tasks)
	for _, task := range tasks {
		if task.Mandatory && task.Status != tasklist.Completed {
			t.Fatalf("task %s is %s", task.Slug, task.Status)
		}
	}

	var current domain.Case
	s.call(t, "officer", http.MethodGet, "/cases/"+c.ID, nil, http.StatusOK, &current)
	data = s.call(t, "officer", http.MethodPost, "/cases/"+c.ID+"/events", map[string]any{"event": "validate", "expected_version": current.LockVersion - 1}, http.StatusConflict, nil)
	if errorCode(t, data) != "concurrent_modification" {
		t.Fatalf("expected concurrent_modification, got %s", string(data))
	}

	var validated domain.Case
	s.call(t, "officer", http.MethodPost, "/cases/"+c.ID+"/events", map[string]any{"event": "validate", "expected_version": current.LockVersion}, http.StatusOK, &validated)
	if validated.Stage != domain.StageInAssessment {
		t.Fatalf("expected in_assessment, got %s", validated.Stage)
	}

	data = s.call(t, "reviewer", http.MethodPost, "/cases/"+c.ID+"/events", map[string]any{"event": "return"}, http.StatusConflict, nil)
	if errorCode(t, data) != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", string(data))
	}

	var notices []NotificationResponse
	s.call(t, "officer", http.MethodGet, "/cases/"+c.ID+"/notifications", nil, http.StatusOK, &notices)
	if len(notices) != 1 || notices[0].Recipient != "grace@example.com" || notices[0].Status != "queued" {
		t.Fatalf("unexpected notifications %+v", notices)
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)

	var v domain.ValidationRequest
	s.call(t, "officer", http.MethodPost, "/cases/"+c.ID+"/requests", map[string]any{"category": "fee_change", "reason": "underpaid"}, http.StatusCreated, &v)
	if v.State != domain.RequestPending {
		t.Fatalf("expected pending, got %s", v.State)
	}
	data := s.call(t, "officer", http.MethodPost, "/cases/"+c.ID+"/requests", map[string]any{"category": "fee_change", "reason": "again"}, http.StatusConflict, nil)
	if errorCode(t, data) != "duplicate_open_request" {
		t.Fatalf("expected duplicate_open_request, got %s", string(data))
	}
	data = s.call(t, "officer", http.MethodPost, "/cases/"+c.ID+"/requests", map[string]any{"category": "description_change"}, http.StatusBadRequest, nil)
	if errorCode(t, data) != "bad_request" {
		t.Fatalf("expected bad_request, got %s", string(data))
	}

	data = s.call(t, "officer", http.MethodPost, "/requests/"+v.ID+"/response", map[string]any{"response": map[string]any{"message": "paid"}}, http.StatusConflict, nil)
	if errorCode(t, data) != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", string(data))
	}
	s.call(t, "officer", http.MethodPost, "/requests/"+v.ID+"/send", nil, http.StatusOK, &v)
	if v.State != domain.RequestOpen || v.Deadline == nil {
		t.Fatalf("expected open request with deadline, got %+v", v)
	}
	s.call(t, "officer", http.MethodPost, "/requests/"+v.ID+"/response", map[string]any{"response": map[string]any{"bogus": true}}, http.StatusBadRequest, nil)

	s.call(t, "officer", http.MethodPost, "/requests/"+v.ID+"/cancel", map[string]any{"reason": "waived"}, http.StatusOK, &v)
	if v.State != domain.RequestCancelled {
		t.Fatalf("expected cancelled, got %s", v.State)
	}
	data = s.call(t, "officer", http.MethodPost, "/requests/"+v.ID+"/cancel", map[string]any{"reason": "again"}, http.StatusConflict, nil)
	if errorCode(t, data) != "already_closed" {
		t.Fatalf("expected already_closed, got %s", string(data))
	}

	var audits []domain.Audit
	s.call(t, "officer", http.MethodGet, "/cases/"+c.ID+"/audits?activity_type=fee_change_validation_request_cancelled", nil, http.StatusOK, &audits)
	if len(audits) != 1 || audits[0].Comment != "waived" {
		t.Fatalf("expected one cancelled audit, got %+v", audits)
	}
}

func TestRolesAndTenants(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)

	data := s.call(t, "officer", http.MethodPost, "/users", map[string]any{"name": "New", "role": "assessor"}, http.StatusForbidden, nil)
	if errorCode(t, data) != "forbidden" {
		t.Fatalf("expected forbidden, got %s", string(data))
	}
	var u domain.User
	s.call(t, "admin", http.MethodPost, "/users", map[string]any{"id": "newbie", "name": "New", "role": "assessor"}, http.StatusCreated, &u)
	if u.TenantID != "camden" {
		t.Fatalf("user should join the admin's tenant, got %s", u.TenantID)
	}
	s.call(t, "admin", http.MethodPut, "/users/newbie/role", map[string]any{"role": "reviewer"}, http.StatusOK, &u)
	if u.Role != "reviewer" {
		t.Fatalf("expected reviewer, got %s", u.Role)
	}

	data = s.call(t, "outsider", http.MethodGet, "/cases/"+c.ID, nil, http.StatusNotFound, nil)
	if errorCode(t, data) != "not_found" {
		t.Fatalf("expected not_found, got %s", string(data))
	}
	var cases []domain.Case
	s.call(t, "outsider", http.MethodGet, "/cases", nil, http.StatusOK, &cases)
	if len(cases) != 0 {
		t.Fatalf("outsider should see no cases, got %d", len(cases))
	}
}

func TestItemsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	c := s.createCase(t)
	data := s.call(t, "officer", http.MethodPost, "/cases/"+c.ID+"/items", map[string]any{"kind": "condition", "title": "Too early"}, http.StatusConflict, nil)
	if errorCode(t, data) != "invalid_transition" {
		t.Fatalf("expected invalid_transition before validation, got %s", string(data))
	}
}
