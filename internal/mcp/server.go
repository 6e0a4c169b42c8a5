package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/errs"
	"github.com/joescharf/tracker/internal/issues"
	"github.com/joescharf/tracker/internal/models"
)

// Server exposes the issue lifecycle as MCP tools, acting as a single
// configured user.
type Server struct {
	issues    *issues.Service
	auth      *auth.Provider
	userEmail string
	version   string
}

// NewServer creates the MCP server wrapper. Every tool call acts as the user
// with the given email.
func NewServer(svc *issues.Service, provider *auth.Provider, userEmail, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		issues:    svc,
		auth:      provider,
		userEmail: userEmail,
		version:   version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tracker", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.getIssueTool())
	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.updateIssueTool())
	srv.AddTool(s.setStatusTool())
	srv.AddTool(s.deleteIssueTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// principal resolves the configured user. It is looked up per call so role
// changes take effect without a restart.
func (s *Server) principal(ctx context.Context) (*models.Principal, error) {
	if s.userEmail == "" {
		return nil, fmt.Errorf("no MCP user configured (set mcp.user): %w", errs.ErrUnauthorized)
	}
	return s.auth.Lookup(ctx, s.userEmail)
}

// errorResult renders a service error as a tool error.
func errorResult(action string, err error) *mcp.CallToolResult {
	if ve, ok := errs.AsValidation(err); ok {
		return mcp.NewToolResultError(fmt.Sprintf("invalid %s: %s", ve.Field, ve.Message))
	}
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return mcp.NewToolResultError("issue not found")
	case errors.Is(err, errs.ErrForbidden):
		return mcp.NewToolResultError(fmt.Sprintf("not allowed to %s", action))
	}
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// tracker_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_list_issues",
		mcp.WithDescription("List issues, newest first. Each issue includes its creator and assignee."),
		mcp.WithString("status", mcp.Description("Filter by status: Open, In-progress, Closed")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := s.principal(ctx)
	if err != nil {
		return errorResult("list issues", err), nil
	}

	status := models.IssueStatus(request.GetString("status", ""))
	if status != "" && !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s (use Open, In-progress, Closed)", status)), nil
	}

	list, err := s.issues.List(ctx, p, issues.ListFilter{Status: status})
	if err != nil {
		return errorResult("list issues", err), nil
	}
	if list == nil {
		list = []*models.IssueView{}
	}
	return jsonResult(list)
}

// tracker_get_issue
func (s *Server) getIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_get_issue",
		mcp.WithDescription("Get a single issue by ID."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID")),
	)
	return tool, s.handleGetIssue
}

func (s *Server) handleGetIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	p, err := s.principal(ctx)
	if err != nil {
		return errorResult("get issue", err), nil
	}

	issue, err := s.issues.Get(ctx, p, id)
	if err != nil {
		return errorResult("get issue", err), nil
	}
	return jsonResult(issue)
}

// tracker_create_issue
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_create_issue",
		mcp.WithDescription("Create a new issue. New issues start Open."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title (max 200 characters)")),
		mcp.WithString("description", mcp.Required(), mcp.Description("Issue description (max 2000 characters)")),
		mcp.WithString("priority", mcp.Description("Priority: Low, Medium, High (default: Medium)")),
		mcp.WithString("assignee_id", mcp.Description("ID of the user to assign")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}
	description, err := request.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: description"), nil
	}
	p, err := s.principal(ctx)
	if err != nil {
		return errorResult("create issue", err), nil
	}

	issue, err := s.issues.Create(ctx, p, issues.CreateInput{
		Title:       title,
		Description: description,
		Priority:    models.IssuePriority(request.GetString("priority", "")),
		AssigneeID:  request.GetString("assignee_id", ""),
	})
	if err != nil {
		return errorResult("create issue", err), nil
	}
	return jsonResult(issue)
}

// tracker_update_issue
func (s *Server) updateIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_update_issue",
		mcp.WithDescription("Update an issue. Only the fields you pass are changed. Pass an empty assignee_id to unassign."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status", mcp.Description("New status: Open, In-progress, Closed")),
		mcp.WithString("priority", mcp.Description("New priority: Low, Medium, High")),
		mcp.WithString("assignee_id", mcp.Description("New assignee ID, or empty to unassign")),
	)
	return tool, s.handleUpdateIssue
}

// updateInputFromArgs maps the tool arguments onto a partial update. Presence
// is taken from the raw argument map so that absent fields stay untouched.
func updateInputFromArgs(args map[string]any) issues.UpdateInput {
	var in issues.UpdateInput
	if v, ok := args["title"]; ok {
		in.Title = optionalString(v)
	}
	if v, ok := args["description"]; ok {
		in.Description = optionalString(v)
	}
	if v, ok := args["status"]; ok {
		s := optionalString(v)
		in.Status = issues.Optional[models.IssueStatus]{Set: s.Set, Null: s.Null, Value: models.IssueStatus(s.Value)}
	}
	if v, ok := args["priority"]; ok {
		s := optionalString(v)
		in.Priority = issues.Optional[models.IssuePriority]{Set: s.Set, Null: s.Null, Value: models.IssuePriority(s.Value)}
	}
	if v, ok := args["assignee_id"]; ok {
		a := optionalString(v)
		if a.Value == "" {
			a = issues.Null[string]()
		}
		in.AssigneeID = a
	}
	return in
}

func optionalString(v any) issues.Optional[string] {
	if v == nil {
		return issues.Null[string]()
	}
	if s, ok := v.(string); ok {
		return issues.Some(s)
	}
	return issues.Some(fmt.Sprint(v))
}

func (s *Server) handleUpdateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	p, err := s.principal(ctx)
	if err != nil {
		return errorResult("update issue", err), nil
	}

	in := updateInputFromArgs(request.GetArguments())
	if in.Empty() {
		return mcp.NewToolResultError("no fields to update"), nil
	}

	issue, err := s.issues.Update(ctx, p, id, in)
	if err != nil {
		return errorResult("update issue", err), nil
	}
	return jsonResult(issue)
}

// tracker_set_status
func (s *Server) setStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_set_status",
		mcp.WithDescription("Set both the status and priority of an issue."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID")),
		mcp.WithString("status", mcp.Required(), mcp.Description("Status: Open, In-progress, Closed")),
		mcp.WithString("priority", mcp.Required(), mcp.Description("Priority: Low, Medium, High")),
	)
	return tool, s.handleSetStatus
}

func (s *Server) handleSetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	status, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: status"), nil
	}
	priority, err := request.RequireString("priority")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: priority"), nil
	}
	p, err := s.principal(ctx)
	if err != nil {
		return errorResult("update issue", err), nil
	}

	issue, err := s.issues.UpdateStatusAndPriority(ctx, p, id, models.IssueStatus(status), models.IssuePriority(priority))
	if err != nil {
		return errorResult("update issue", err), nil
	}
	return jsonResult(issue)
}

// tracker_delete_issue
func (s *Server) deleteIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracker_delete_issue",
		mcp.WithDescription("Delete an issue. Only admins may delete."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID")),
	)
	return tool, s.handleDeleteIssue
}

func (s *Server) handleDeleteIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}
	p, err := s.principal(ctx)
	if err != nil {
		return errorResult("delete issue", err), nil
	}

	if err := s.issues.Delete(ctx, p, id); err != nil {
		return errorResult("delete issue", err), nil
	}
	return jsonResult(map[string]any{"success": true, "id": id})
}
