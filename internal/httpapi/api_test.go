package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nijjara.org/internal/access"
	"nijjara.org/internal/audit"
	"nijjara.org/internal/identity"
	"nijjara.org/internal/session"
	"nijjara.org/internal/tabular"
	"nijjara.org/internal/users"
)

func newTestServer(t *testing.T) (*httptest.Server, *identity.Store) {
	t.Helper()
	ctx := context.Background()
	tab := tabular.NewMemory()
	store := identity.NewStore(tab)
	if err := store.EnsureSchemas(ctx); err != nil {
		t.Fatal(err)
	}
	catalog := access.NewCatalog(tab)
	if err := catalog.EnsureSeeded(ctx); err != nil {
		t.Fatal(err)
	}
	sessions := session.NewManager(tab)
	if err := sessions.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	recorder := audit.NewRecorder(tab)
	if err := recorder.EnsureSchemas(ctx); err != nil {
		t.Fatal(err)
	}
	for _, r := range []identity.Role{
		{ID: "Admin", Title: "Administrator", System: true},
		{ID: "Manager", Title: "Manager", System: true},
		{ID: "Basic_User", Title: "Basic User", System: true},
	} {
		if _, err := store.CreateRole(ctx, r, "SYSTEM"); err != nil {
			t.Fatal(err)
		}
	}
	svc := users.NewService(users.Config{}, store, catalog,
		access.NewEvaluator(store, catalog), sessions, recorder)

	srv := httptest.NewServer(New(svc, ReadyProbe{}, "test").Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func seedUser(t *testing.T, store *identity.Store, username, roleID, password string, active bool) identity.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), identity.NewUser{
		FullName: username, Username: username, Email: username + "@nijjara.org",
		RoleID: roleID, Active: active, PasswordHash: identity.HashPassword(password),
	}, "SYSTEM")
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func doJSON(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func login(t *testing.T, srv *httptest.Server, username, password string) string {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/v1/auth/login", "",
		`{"username":"`+username+`","password":"`+password+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body = %v", resp.StatusCode, payload)
	}
	data := payload["data"].(map[string]any)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatal("no token in login response")
	}
	return token
}

func errorCode(t *testing.T, payload map[string]any) string {
	t.Helper()
	e, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error in payload: %v", payload)
	}
	code, _ := e["code"].(string)
	return code
}

func TestHealthEndpointsArePublic(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp, payload := doJSON(t, http.MethodGet, srv.URL+path, "", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", path, resp.StatusCode)
		}
		if payload["success"] != true {
			t.Fatalf("%s: %v", path, payload)
		}
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/v1/users", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if code := errorCode(t, payload); code != "INVALID_CREDENTIALS" {
		t.Fatalf("code = %q", code)
	}
}

func TestLoginAndDirectory(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "root", "Admin", "Secret1", true)
	seedUser(t, store, "amina", "Manager", "Secret1", true)

	token := login(t, srv, "root", "Secret1")
	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/v1/users", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, payload)
	}
	list, ok := payload["data"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("directory = %v", payload["data"])
	}
}

func TestLoginFailureEnvelope(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "root", "Admin", "Secret1", true)
	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/v1/auth/login", "",
		`{"username":"root","password":"wrong"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if code := errorCode(t, payload); code != "INVALID_CREDENTIALS" {
		t.Fatalf("code = %q", code)
	}
}

func TestCreateUserEndToEnd(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "root", "Admin", "Secret1", true)
	token := login(t, srv, "root", "Secret1")

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/v1/users", token,
		`{"full_name":"Amina Khalid","username":"amina","email":"amina@nijjara.org","role_id":"Manager"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, payload)
	}
	data := payload["data"].(map[string]any)
	if tp, _ := data["temporary_password"].(string); tp == "" {
		t.Fatal("temporary password missing")
	}
	user := data["user"].(map[string]any)
	if id, _ := user["user_id"].(string); id == "" {
		t.Fatalf("user = %v", user)
	}
}

func TestCreateUserPermissionDenied(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "basic", "Basic_User", "Secret1", true)
	token := login(t, srv, "basic", "Secret1")

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/v1/users", token,
		`{"full_name":"X","username":"x","email":"x@nijjara.org","role_id":"Manager"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if code := errorCode(t, payload); code != "PERMISSION_DENIED" {
		t.Fatalf("code = %q", code)
	}
}

func TestCreateUserValidationEnvelope(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "root", "Admin", "Secret1", true)
	token := login(t, srv, "root", "Secret1")

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/v1/users", token,
		`{"full_name":"X","username":"x","email":"not-an-email","role_id":"Manager"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if code := errorCode(t, payload); code != "VALIDATION_ERROR" {
		t.Fatalf("code = %q", code)
	}
}

func TestUnknownUserEnvelope(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "root", "Admin", "Secret1", true)
	token := login(t, srv, "root", "Secret1")

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/v1/users/USR_99999", token, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if code := errorCode(t, payload); code != "NOT_FOUND" {
		t.Fatalf("code = %q", code)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "root", "Admin", "Secret1", true)
	token := login(t, srv, "root", "Secret1")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/auth/logout", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/v1/users", token, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, payload)
	}
}

func TestMatrixAdminOnly(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "root", "Admin", "Secret1", true)
	seedUser(t, store, "mgr", "Manager", "Secret1", true)

	adminToken := login(t, srv, "root", "Secret1")
	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/v1/permissions/matrix", adminToken, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin matrix status = %d", resp.StatusCode)
	}
	if rows, ok := payload["data"].([]any); !ok || len(rows) == 0 {
		t.Fatalf("matrix = %v", payload["data"])
	}

	mgrToken := login(t, srv, "mgr", "Secret1")
	resp, payload = doJSON(t, http.MethodGet, srv.URL+"/v1/permissions/matrix", mgrToken, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("manager matrix status = %d, body = %v", resp.StatusCode, payload)
	}
}

func TestMeAlwaysVisible(t *testing.T) {
	srv, store := newTestServer(t)
	seedUser(t, store, "basic", "Basic_User", "Secret1", true)
	token := login(t, srv, "basic", "Secret1")

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/v1/me", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, payload)
	}
	data := payload["data"].(map[string]any)
	user := data["user"].(map[string]any)
	if user["username"] != "basic" {
		t.Fatalf("me = %v", user)
	}
}
