package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/issues"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type testEnv struct {
	store    *store.SQLiteStore
	svc      *issues.Service
	provider *auth.Provider
	user     *models.User
	admin    *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	mk := func(email string, role models.Role) *models.User {
		u := &models.User{Email: email, Name: strings.Split(email, "@")[0], PasswordHash: "x", Role: role}
		require.NoError(t, s.CreateUser(context.Background(), u))
		return u
	}

	return &testEnv{
		store:    s,
		svc:      issues.NewService(s),
		provider: auth.NewProvider(s),
		user:     mk("dev@example.com", models.RoleUser),
		admin:    mk("admin@example.com", models.RoleAdmin),
	}
}

// serverAs returns an MCP server acting as the user with the given email.
func (e *testEnv) serverAs(email string) *Server {
	return NewServer(e.svc, e.provider, email, "test")
}

func (e *testEnv) seedIssue(t *testing.T, title string) *models.IssueView {
	t.Helper()
	v, err := e.svc.Create(context.Background(), e.user.Principal(), issues.CreateInput{
		Title:       title,
		Description: "Seeded issue",
	})
	require.NoError(t, err)
	return v
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestMCPServer_RegistersTools(t *testing.T) {
	env := newTestEnv(t)
	mcpSrv := env.serverAs(env.user.Email).MCPServer()
	require.NotNil(t, mcpSrv)

	reqJSON := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	respMsg := mcpSrv.HandleMessage(context.Background(), reqJSON)
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	toolNames := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		toolNames[tool.Name] = true
	}
	for _, name := range []string{
		"tracker_list_issues",
		"tracker_get_issue",
		"tracker_create_issue",
		"tracker_update_issue",
		"tracker_set_status",
		"tracker_delete_issue",
	} {
		assert.True(t, toolNames[name], "expected tool %q to be registered", name)
	}
}

// ---------------------------------------------------------------------------
// Principal resolution
// ---------------------------------------------------------------------------

func TestTools_RequireConfiguredUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.serverAs("").handleListIssues(ctx, callToolReq("tracker_list_issues", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "mcp.user")

	result, err = env.serverAs("ghost@example.com").handleListIssues(ctx, callToolReq("tracker_list_issues", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ---------------------------------------------------------------------------
// tracker_create_issue / tracker_get_issue / tracker_list_issues
// ---------------------------------------------------------------------------

func TestCreateIssue(t *testing.T) {
	env := newTestEnv(t)
	srv := env.serverAs(env.user.Email)

	result, err := srv.handleCreateIssue(context.Background(), callToolReq("tracker_create_issue", map[string]any{
		"title":       "Login fails",
		"description": "500 on submit",
		"priority":    "High",
		"assignee_id": env.admin.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var got models.IssueView
	resultJSON(t, result, &got)
	assert.Equal(t, "Login fails", got.Title)
	assert.Equal(t, models.IssueStatusOpen, got.Status)
	assert.Equal(t, models.IssuePriorityHigh, got.Priority)
	assert.Equal(t, env.user.ID, got.CreatedByID)
	require.NotNil(t, got.Assignee)
	assert.Equal(t, env.admin.Email, got.Assignee.Email)
}

func TestCreateIssue_Validation(t *testing.T) {
	env := newTestEnv(t)
	srv := env.serverAs(env.user.Email)
	ctx := context.Background()

	result, err := srv.handleCreateIssue(ctx, callToolReq("tracker_create_issue", map[string]any{
		"description": "no title",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "title")

	result, err = srv.handleCreateIssue(ctx, callToolReq("tracker_create_issue", map[string]any{
		"title":       "Bad priority",
		"description": "d",
		"priority":    "Urgent",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Priority must be one of")
}

func TestGetIssue(t *testing.T) {
	env := newTestEnv(t)
	srv := env.serverAs(env.user.Email)
	seeded := env.seedIssue(t, "Bug A")
	ctx := context.Background()

	result, err := srv.handleGetIssue(ctx, callToolReq("tracker_get_issue", map[string]any{"issue_id": seeded.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var got models.IssueView
	resultJSON(t, result, &got)
	assert.Equal(t, seeded.ID, got.ID)
	assert.Equal(t, env.user.Email, got.CreatedBy.Email)

	result, err = srv.handleGetIssue(ctx, callToolReq("tracker_get_issue", map[string]any{"issue_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")

	result, err = srv.handleGetIssue(ctx, callToolReq("tracker_get_issue", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "issue_id")
}

func TestListIssues(t *testing.T) {
	env := newTestEnv(t)
	srv := env.serverAs(env.user.Email)
	ctx := context.Background()

	// Empty list renders as [], not null.
	result, err := srv.handleListIssues(ctx, callToolReq("tracker_list_issues", nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", resultText(t, result))

	env.seedIssue(t, "first")
	closed := env.seedIssue(t, "second")
	_, err = env.svc.UpdateStatusAndPriority(ctx, env.user.Principal(), closed.ID, models.IssueStatusClosed, models.IssuePriorityLow)
	require.NoError(t, err)

	result, err = srv.handleListIssues(ctx, callToolReq("tracker_list_issues", nil))
	require.NoError(t, err)
	var all []models.IssueView
	resultJSON(t, result, &all)
	assert.Len(t, all, 2)

	result, err = srv.handleListIssues(ctx, callToolReq("tracker_list_issues", map[string]any{"status": "Closed"}))
	require.NoError(t, err)
	var filtered []models.IssueView
	resultJSON(t, result, &filtered)
	require.Len(t, filtered, 1)
	assert.Equal(t, "second", filtered[0].Title)

	result, err = srv.handleListIssues(ctx, callToolReq("tracker_list_issues", map[string]any{"status": "done"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ---------------------------------------------------------------------------
// tracker_update_issue / tracker_set_status
// ---------------------------------------------------------------------------

func TestUpdateIssue_PartialFields(t *testing.T) {
	env := newTestEnv(t)
	srv := env.serverAs(env.user.Email)
	seeded := env.seedIssue(t, "Original")

	result, err := srv.handleUpdateIssue(context.Background(), callToolReq("tracker_update_issue", map[string]any{
		"issue_id": seeded.ID,
		"status":   "In-progress",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var got models.IssueView
	resultJSON(t, result, &got)
	assert.Equal(t, "Original", got.Title)
	assert.Equal(t, "Seeded issue", got.Description)
	assert.Equal(t, models.IssueStatusInProgress, got.Status)
	assert.Equal(t, models.IssuePriorityMedium, got.Priority)
}

func TestUpdateIssue_NoFields(t *testing.T) {
	env := newTestEnv(t)
	srv := env.serverAs(env.user.Email)
	seeded := env.seedIssue(t, "Original")

	result, err := srv.handleUpdateIssue(context.Background(), callToolReq("tracker_update_issue", map[string]any{
		"issue_id": seeded.ID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no fields")
}

func TestUpdateIssue_Unassign(t *testing.T) {
	env := newTestEnv(t)
	srv := env.serverAs(env.user.Email)
	ctx := context.Background()

	v, err := env.svc.Create(ctx, env.user.Principal(), issues.CreateInput{
		Title: "Assigned", Description: "d", AssigneeID: env.admin.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, v.AssigneeID)

	result, err := srv.handleUpdateIssue(ctx, callToolReq("tracker_update_issue", map[string]any{
		"issue_id":    v.ID,
		"assignee_id": "",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var got models.IssueView
	resultJSON(t, result, &got)
	assert.Nil(t, got.AssigneeID)
	assert.Nil(t, got.Assignee)
}

func TestUpdateInputFromArgs(t *testing.T) {
	in := updateInputFromArgs(map[string]any{
		"issue_id":    "ignored",
		"title":       "New",
		"assignee_id": nil,
	})

	assert.True(t, in.Title.Set)
	assert.Equal(t, "New", in.Title.Value)
	assert.False(t, in.Description.Set)
	assert.False(t, in.Status.Set)
	assert.False(t, in.Priority.Set)
	assert.True(t, in.AssigneeID.Set)
	assert.True(t, in.AssigneeID.Null)
}

func TestSetStatus(t *testing.T) {
	env := newTestEnv(t)
	srv := env.serverAs(env.user.Email)
	seeded := env.seedIssue(t, "Bug A")
	ctx := context.Background()

	result, err := srv.handleSetStatus(ctx, callToolReq("tracker_set_status", map[string]any{
		"issue_id": seeded.ID,
		"status":   "Closed",
		"priority": "Low",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var got models.IssueView
	resultJSON(t, result, &got)
	assert.Equal(t, models.IssueStatusClosed, got.Status)
	assert.Equal(t, models.IssuePriorityLow, got.Priority)
	assert.True(t, got.UpdatedAt.After(seeded.UpdatedAt))

	result, err = srv.handleSetStatus(ctx, callToolReq("tracker_set_status", map[string]any{
		"issue_id": seeded.ID,
		"status":   "Closed",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "priority")
}

// ---------------------------------------------------------------------------
// tracker_delete_issue
// ---------------------------------------------------------------------------

func TestDeleteIssue_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	seeded := env.seedIssue(t, "Doomed")
	ctx := context.Background()
	req := callToolReq("tracker_delete_issue", map[string]any{"issue_id": seeded.ID})

	// The creator is not an admin.
	result, err := env.serverAs(env.user.Email).handleDeleteIssue(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not allowed")

	_, err = env.store.GetIssue(ctx, seeded.ID)
	require.NoError(t, err, "issue should survive a forbidden delete")

	result, err = env.serverAs(env.admin.Email).handleDeleteIssue(ctx, req)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, true, out["success"])

	result, err = env.serverAs(env.admin.Email).handleDeleteIssue(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}
