package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/errs"
	"github.com/joescharf/tracker/internal/issues"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/output"
)

var (
	issueTitle    string
	issueDesc     string
	issuePriority string
	issueStatus   string
	issueAssignee string
	issueUnassign bool
	issueApply    bool
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage issues",
	Long:  "Create, list, update, and delete issues as the user given by --as or cli.user.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAddRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <issue-id>",
	Short: "Update an issue",
	Long:  "Update an issue. Only the flags you pass are changed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueUpdateRun(cmd.Flags(), args[0])
	},
}

var issueStatusCmd = &cobra.Command{
	Use:   "status <issue-id> <Open|In-progress|Closed> [Low|Medium|High]",
	Short: "Set an issue's status and priority",
	Long:  "Set an issue's status and priority together. Without a priority the current one is kept.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority := ""
		if len(args) > 2 {
			priority = args[2]
		}
		return issueStatusRun(args[0], args[1], priority)
	},
}

var issueDeleteCmd = &cobra.Command{
	Use:     "delete <issue-id>",
	Aliases: []string{"rm"},
	Short:   "Delete an issue (admins only)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueDeleteRun(args[0])
	},
}

var issueTriageCmd = &cobra.Command{
	Use:   "triage <issue-id>",
	Short: "Suggest a priority for an issue using Claude",
	Long: `Ask Claude for a priority suggestion based on the issue's title and description.

Requires anthropic.api_key in config or ANTHROPIC_API_KEY. With --apply the
suggested priority is saved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueTriageRun(args[0])
	},
}

func init() {
	issueAddCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueAddCmd.Flags().StringVar(&issueDesc, "desc", "", "Issue description (required)")
	issueAddCmd.Flags().StringVar(&issuePriority, "priority", "", "Priority: Low, Medium, High (default Medium)")
	issueAddCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Assignee email or user ID")
	_ = issueAddCmd.MarkFlagRequired("title")
	_ = issueAddCmd.MarkFlagRequired("desc")

	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status: Open, In-progress, Closed")

	issueUpdateCmd.Flags().StringVar(&issueTitle, "title", "", "New title")
	issueUpdateCmd.Flags().StringVar(&issueDesc, "desc", "", "New description")
	issueUpdateCmd.Flags().StringVar(&issueStatus, "status", "", "New status")
	issueUpdateCmd.Flags().StringVar(&issuePriority, "priority", "", "New priority")
	issueUpdateCmd.Flags().StringVar(&issueAssignee, "assignee", "", "New assignee email or user ID")
	issueUpdateCmd.Flags().BoolVar(&issueUnassign, "unassign", false, "Remove the assignee")
	issueUpdateCmd.MarkFlagsMutuallyExclusive("assignee", "unassign")

	issueTriageCmd.Flags().BoolVar(&issueApply, "apply", false, "Save the suggested priority")

	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueStatusCmd)
	issueCmd.AddCommand(issueDeleteCmd)
	issueCmd.AddCommand(issueTriageCmd)
	rootCmd.AddCommand(issueCmd)
}

// issueSession bundles what every issue command needs.
type issueSession struct {
	svc  *issues.Service
	auth *auth.Provider
	who  *models.Principal
}

func newIssueSession(ctx context.Context) (*issueSession, error) {
	svc, provider, err := newService()
	if err != nil {
		return nil, err
	}
	who, err := currentPrincipal(ctx, provider)
	if err != nil {
		return nil, err
	}
	return &issueSession{svc: svc, auth: provider, who: who}, nil
}

// resolveAssignee accepts an email address or a user ID.
func (is *issueSession) resolveAssignee(ctx context.Context, ref string) (string, error) {
	if !strings.Contains(ref, "@") {
		return ref, nil
	}
	p, err := is.auth.Lookup(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("no user with email %s", ref)
	}
	return p.ID, nil
}

func issueAddRun() error {
	ctx := context.Background()
	is, err := newIssueSession(ctx)
	if err != nil {
		return err
	}

	in := issues.CreateInput{
		Title:       issueTitle,
		Description: issueDesc,
		Priority:    models.IssuePriority(issuePriority),
	}
	if issueAssignee != "" {
		if in.AssigneeID, err = is.resolveAssignee(ctx, issueAssignee); err != nil {
			return err
		}
	}

	if dryRun {
		if err := issues.ValidateCreate(&in); err != nil {
			return describeError(err)
		}
		ui.DryRunMsg("Would add issue: %s [%s]", in.Title, in.Priority)
		return nil
	}

	v, err := is.svc.Create(ctx, is.who, in)
	if err != nil {
		return describeError(err)
	}

	ui.Success("Created issue %s: %s", output.Cyan(shortID(v.ID)), v.Title)
	return nil
}

func issueListRun() error {
	ctx := context.Background()
	is, err := newIssueSession(ctx)
	if err != nil {
		return err
	}

	status := models.IssueStatus(issueStatus)
	if status != "" && !status.Valid() {
		return fmt.Errorf("invalid status %q (use Open, In-progress, Closed)", issueStatus)
	}

	list, err := is.svc.List(ctx, is.who, issues.ListFilter{Status: status})
	if err != nil {
		return describeError(err)
	}

	if len(list) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Priority", "Assignee", "Updated"})
	for _, v := range list {
		assignee := ""
		if v.Assignee != nil {
			assignee = v.Assignee.Name
		}
		_ = table.Append([]string{
			shortID(v.ID),
			v.Title,
			output.StatusColor(string(v.Status)),
			output.PriorityColor(string(v.Priority)),
			assignee,
			v.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	_ = table.Render()
	return nil
}

func issueShowRun(id string) error {
	ctx := context.Background()
	is, err := newIssueSession(ctx)
	if err != nil {
		return err
	}

	v, err := findIssue(ctx, is.svc, is.who, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(v.ID)), v.Title)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(v.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(v.Priority)))
	fmt.Fprintf(ui.Out, "  Creator:    %s <%s>\n", v.CreatedBy.Name, v.CreatedBy.Email)
	if v.Assignee != nil {
		fmt.Fprintf(ui.Out, "  Assignee:   %s <%s>\n", v.Assignee.Name, v.Assignee.Email)
	} else {
		fmt.Fprintf(ui.Out, "  Assignee:   %s\n", output.Yellow("unassigned"))
	}
	fmt.Fprintf(ui.Out, "  Desc:       %s\n", v.Description)
	fmt.Fprintf(ui.Out, "  Created:    %s\n", v.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Updated:    %s\n", v.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", v.ID)

	return nil
}

// updateInputFromFlags builds a partial update from the flags that were set.
func updateInputFromFlags(ctx context.Context, is *issueSession, flags *pflag.FlagSet) (issues.UpdateInput, error) {
	var in issues.UpdateInput
	if flags.Changed("title") {
		in.Title = issues.Some(issueTitle)
	}
	if flags.Changed("desc") {
		in.Description = issues.Some(issueDesc)
	}
	if flags.Changed("status") {
		in.Status = issues.Some(models.IssueStatus(issueStatus))
	}
	if flags.Changed("priority") {
		in.Priority = issues.Some(models.IssuePriority(issuePriority))
	}
	if flags.Changed("assignee") {
		id, err := is.resolveAssignee(ctx, issueAssignee)
		if err != nil {
			return in, err
		}
		in.AssigneeID = issues.Some(id)
	}
	if issueUnassign {
		in.AssigneeID = issues.Null[string]()
	}
	return in, nil
}

func issueUpdateRun(flags *pflag.FlagSet, id string) error {
	ctx := context.Background()
	is, err := newIssueSession(ctx)
	if err != nil {
		return err
	}

	v, err := findIssue(ctx, is.svc, is.who, id)
	if err != nil {
		return err
	}

	in, err := updateInputFromFlags(ctx, is, flags)
	if err != nil {
		return err
	}
	if in.Empty() {
		return fmt.Errorf("no updates specified (use --title, --desc, --status, --priority, --assignee, or --unassign)")
	}

	if dryRun {
		ui.DryRunMsg("Would update issue %s", shortID(v.ID))
		return nil
	}

	updated, err := is.svc.Update(ctx, is.who, v.ID, in)
	if err != nil {
		return describeError(err)
	}

	ui.Success("Updated issue %s", output.Cyan(shortID(updated.ID)))
	return nil
}

func issueStatusRun(id, status, priority string) error {
	ctx := context.Background()
	is, err := newIssueSession(ctx)
	if err != nil {
		return err
	}

	v, err := findIssue(ctx, is.svc, is.who, id)
	if err != nil {
		return err
	}
	if priority == "" {
		priority = string(v.Priority)
	}

	if dryRun {
		ui.DryRunMsg("Would set issue %s to %s/%s", shortID(v.ID), status, priority)
		return nil
	}

	updated, err := is.svc.UpdateStatusAndPriority(ctx, is.who, v.ID, models.IssueStatus(status), models.IssuePriority(priority))
	if err != nil {
		return describeError(err)
	}

	ui.Success("Issue %s is now %s [%s]", output.Cyan(shortID(updated.ID)),
		output.StatusColor(string(updated.Status)), output.PriorityColor(string(updated.Priority)))
	return nil
}

func issueDeleteRun(id string) error {
	ctx := context.Background()
	is, err := newIssueSession(ctx)
	if err != nil {
		return err
	}

	v, err := findIssue(ctx, is.svc, is.who, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete issue %s: %s", shortID(v.ID), v.Title)
		return nil
	}

	if err := is.svc.Delete(ctx, is.who, v.ID); err != nil {
		return describeError(err)
	}

	ui.Success("Deleted issue %s: %s", output.Cyan(shortID(v.ID)), v.Title)
	return nil
}

func issueTriageRun(id string) error {
	ctx := context.Background()
	client := newLLMClient()
	if client == nil {
		return fmt.Errorf("no Anthropic API key configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
	}

	is, err := newIssueSession(ctx)
	if err != nil {
		return err
	}

	v, err := findIssue(ctx, is.svc, is.who, id)
	if err != nil {
		return err
	}

	ui.VerboseLog("Asking %s to triage %s", viper.GetString("anthropic.model"), shortID(v.ID))
	suggestion, err := client.SuggestTriage(ctx, v.Title, v.Description)
	if err != nil {
		return fmt.Errorf("triage: %w", err)
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(v.ID)), v.Title)
	fmt.Fprintf(ui.Out, "  Current:    %s\n", output.PriorityColor(string(v.Priority)))
	fmt.Fprintf(ui.Out, "  Suggested:  %s\n", output.PriorityColor(string(suggestion.Priority)))
	fmt.Fprintf(ui.Out, "  Why:        %s\n", suggestion.Rationale)

	if !issueApply || suggestion.Priority == v.Priority {
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would set priority of %s to %s", shortID(v.ID), suggestion.Priority)
		return nil
	}

	if _, err := is.svc.Update(ctx, is.who, v.ID, issues.UpdateInput{Priority: issues.Some(suggestion.Priority)}); err != nil {
		return describeError(err)
	}
	ui.Success("Set priority of %s to %s", output.Cyan(shortID(v.ID)), output.PriorityColor(string(suggestion.Priority)))
	return nil
}

// describeError turns service errors into CLI-friendly messages.
func describeError(err error) error {
	if ve, ok := errs.AsValidation(err); ok {
		return fmt.Errorf("invalid %s: %s", ve.Field, ve.Message)
	}
	switch {
	case errors.Is(err, errs.ErrForbidden):
		return fmt.Errorf("not allowed: %w", err)
	case errors.Is(err, errs.ErrNotFound):
		return fmt.Errorf("issue not found")
	}
	return err
}

// findIssue finds an issue by full ID or unique prefix.
func findIssue(ctx context.Context, svc *issues.Service, who *models.Principal, id string) (*models.IssueView, error) {
	// Try exact match first
	v, err := svc.Get(ctx, who, id)
	if err == nil {
		return v, nil
	}
	if !errs.IsNotFound(err) {
		return nil, describeError(err)
	}

	// ULIDs are upper-case; accept any case for prefixes.
	upper := strings.ToUpper(id)
	list, err := svc.List(ctx, who, issues.ListFilter{})
	if err != nil {
		return nil, describeError(err)
	}

	var matches []*models.IssueView
	for _, v := range list {
		if strings.HasPrefix(v.ID, upper) {
			matches = append(matches, v)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("issue not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous issue ID %s: matches %d issues", id, len(matches))
	}
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
