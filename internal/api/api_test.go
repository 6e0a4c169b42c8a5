package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/issues"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

func setupTestServer(t *testing.T, opts ...issues.Option) (http.Handler, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(issues.NewService(s, opts...), auth.NewProvider(s, auth.WithBcryptCost(bcrypt.MinCost)), logger)
	return srv.Router(), s
}

func do(t *testing.T, router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// registerAndLogin signs a user up through the API and returns a session token.
func registerAndLogin(t *testing.T, router http.Handler, email string) string {
	t.Helper()
	body := `{"name":"Test User","email":"` + email + `","password":"secret1","confirmPassword":"secret1"}`
	w := do(t, router, "POST", "/api/v1/register", "", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, router, "POST", "/api/v1/login", "", `{"email":"`+email+`","password":"secret1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func promote(t *testing.T, s store.Store, email string) {
	t.Helper()
	ctx := context.Background()
	u, err := s.GetUserByEmail(ctx, email)
	require.NoError(t, err)
	require.NoError(t, s.UpdateUserRole(ctx, u.ID, models.RoleAdmin))
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	router, _ := setupTestServer(t)
	w := do(t, router, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnauthenticated_Returns401(t *testing.T) {
	router, _ := setupTestServer(t)

	for _, tc := range []struct{ method, path, body string }{
		{"GET", "/api/v1/issues", ""},
		{"POST", "/api/v1/issues", `{"title":"t","description":"d"}`},
		{"PATCH", "/api/v1/issues/abc", `{"title":"t"}`},
		{"PUT", "/api/v1/issues/abc/status", `{"status":"Closed","priority":"High"}`},
		{"DELETE", "/api/v1/issues/abc", ""},
		{"GET", "/api/v1/me", ""},
	} {
		w := do(t, router, tc.method, tc.path, "", tc.body)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Unauthorized", errorBody(t, w)["error"])
	}

	// A bogus token is treated as no session.
	w := do(t, router, "GET", "/api/v1/issues", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	router, s := setupTestServer(t)
	registerAndLogin(t, router, "dup@example.com")

	body := `{"name":"Again","email":"dup@example.com","password":"secret1","confirmPassword":"secret1"}`
	w := do(t, router, "POST", "/api/v1/register", "", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "User with this email already exists", errorBody(t, w)["error"])

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRegister_Validation(t *testing.T) {
	router, _ := setupTestServer(t)

	w := do(t, router, "POST", "/api/v1/register", "", `{"name":"Ada","email":"ada@example.com","password":"123","confirmPassword":"123"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := errorBody(t, w)
	assert.Equal(t, "password", body["field"])

	w = do(t, router, "POST", "/api/v1/register", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_BadCredentials(t *testing.T) {
	router, _ := setupTestServer(t)
	registerAndLogin(t, router, "ada@example.com")

	w := do(t, router, "POST", "/api/v1/login", "", `{"email":"ada@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid email or password", errorBody(t, w)["error"])
}

func TestLogin_SetsCookieUsableForRequests(t *testing.T) {
	router, _ := setupTestServer(t)
	registerAndLogin(t, router, "ada@example.com")

	w := do(t, router, "POST", "/api/v1/login", "", `{"email":"ada@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, SessionCookie, cookies[0].Name)

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var me models.Principal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "ada@example.com", me.Email)
	assert.Equal(t, models.RoleUser, me.Role)
}

func TestLogout(t *testing.T) {
	router, _ := setupTestServer(t)
	token := registerAndLogin(t, router, "ada@example.com")

	w := do(t, router, "POST", "/api/v1/logout", token, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, "GET", "/api/v1/issues", token, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssuesCRUD_API(t *testing.T) {
	router, s := setupTestServer(t)
	user := registerAndLogin(t, router, "user@example.com")
	admin := registerAndLogin(t, router, "admin@example.com")
	promote(t, s, "admin@example.com")

	// Create
	w := do(t, router, "POST", "/api/v1/issues", user, `{"title":"Bug A","description":"Fails on load"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.IssueView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Bug A", created.Title)
	assert.Equal(t, models.IssueStatusOpen, created.Status)
	assert.Equal(t, models.IssuePriorityMedium, created.Priority)
	assert.Equal(t, "user@example.com", created.CreatedBy.Email)

	// Get is open to anonymous callers by default
	w = do(t, router, "GET", "/api/v1/issues/"+created.ID, "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/api/v1/issues/missing", user, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Partial update
	w = do(t, router, "PATCH", "/api/v1/issues/"+created.ID, user, `{"priority":"High"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.IssueView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, models.IssuePriorityHigh, updated.Priority)
	assert.Equal(t, "Bug A", updated.Title)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	// Status + priority
	w = do(t, router, "PUT", "/api/v1/issues/"+created.ID+"/status", user, `{"status":"Closed","priority":"Low"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// List
	w = do(t, router, "GET", "/api/v1/issues?status=Closed", user, "")
	assert.Equal(t, http.StatusOK, w.Code)
	var list []*models.IssueView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, models.IssuePriorityLow, list[0].Priority)

	// Non-admin delete is forbidden and leaves the issue in place
	w = do(t, router, "DELETE", "/api/v1/issues/"+created.ID, user, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, router, "GET", "/api/v1/issues/"+created.ID, user, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Admin delete
	w = do(t, router, "DELETE", "/api/v1/issues/"+created.ID, admin, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, "GET", "/api/v1/issues/"+created.ID, user, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListIssues_EmptyIsArray(t *testing.T) {
	router, _ := setupTestServer(t)
	token := registerAndLogin(t, router, "ada@example.com")

	w := do(t, router, "GET", "/api/v1/issues", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestCreateIssue_Validation(t *testing.T) {
	router, _ := setupTestServer(t)
	token := registerAndLogin(t, router, "ada@example.com")

	w := do(t, router, "POST", "/api/v1/issues", token, `{"title":"","description":"d"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := errorBody(t, w)
	assert.Equal(t, "title", body["field"])
	assert.Equal(t, "Title is required", body["error"])

	long := strings.Repeat("x", 2001)
	w = do(t, router, "POST", "/api/v1/issues", token, `{"title":"t","description":"`+long+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "description", errorBody(t, w)["field"])
}

func TestUpdateIssue_ClearAssigneeWithNull(t *testing.T) {
	router, s := setupTestServer(t)
	token := registerAndLogin(t, router, "ada@example.com")
	ada, err := s.GetUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)

	w := do(t, router, "POST", "/api/v1/issues", token, `{"title":"t","description":"d","assigneeId":"`+ada.ID+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.IssueView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotNil(t, created.Assignee)

	w = do(t, router, "PATCH", "/api/v1/issues/"+created.ID, token, `{"assigneeId":null}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.IssueView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Nil(t, updated.Assignee)
	assert.Equal(t, "t", updated.Title)
}

func TestOwnerEditPolicy_API(t *testing.T) {
	router, _ := setupTestServer(t, issues.WithPolicy(issues.Policy{Edit: issues.EditOwnerOrAdmin, OpenReads: false}))
	owner := registerAndLogin(t, router, "owner@example.com")
	other := registerAndLogin(t, router, "other@example.com")

	w := do(t, router, "POST", "/api/v1/issues", owner, `{"title":"t","description":"d"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.IssueView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = do(t, router, "PATCH", "/api/v1/issues/"+created.ID, other, `{"title":"mine now"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, "GET", "/api/v1/issues/"+created.ID, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORS_Preflight(t *testing.T) {
	router, _ := setupTestServer(t)
	w := do(t, router, "OPTIONS", "/api/v1/issues", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}
