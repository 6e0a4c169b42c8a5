package issues

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/joescharf/tracker/internal/errs"
	"github.com/joescharf/tracker/internal/models"
)

const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 2000
)

// CreateInput is the payload for creating an issue.
type CreateInput struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Priority    models.IssuePriority `json:"priority,omitempty"`
	AssigneeID  string               `json:"assigneeId,omitempty"`
}

// UpdateInput is a partial update; absent fields keep their stored value.
// A null AssigneeID clears the assignee.
type UpdateInput struct {
	Title       Optional[string]               `json:"title"`
	Description Optional[string]               `json:"description"`
	Status      Optional[models.IssueStatus]   `json:"status"`
	Priority    Optional[models.IssuePriority] `json:"priority"`
	AssigneeID  Optional[string]               `json:"assigneeId"`
}

// Empty reports whether no field is present.
func (in UpdateInput) Empty() bool {
	return !in.Title.Set && !in.Description.Set && !in.Status.Set && !in.Priority.Set && !in.AssigneeID.Set
}

func checkText(field, label, v string, max int) error {
	if v == "" {
		return errs.Invalid(field, label+" is required")
	}
	if utf8.RuneCountInString(v) > max {
		return errs.Invalid(field, fmt.Sprintf("%s must be at most %d characters", label, max))
	}
	return nil
}

func checkStatus(s models.IssueStatus) error {
	if !s.Valid() {
		return errs.Invalid("status", "Status must be one of "+joinEnum(models.IssueStatuses))
	}
	return nil
}

func checkPriority(p models.IssuePriority) error {
	if !p.Valid() {
		return errs.Invalid("priority", "Priority must be one of "+joinEnum(models.IssuePriorities))
	}
	return nil
}

func joinEnum[T ~string](vals []T) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// ValidateCreate checks in against the creation schema and fills in the
// default priority. The first failing field is reported.
func ValidateCreate(in *CreateInput) error {
	if err := checkText("title", "Title", in.Title, MaxTitleLen); err != nil {
		return err
	}
	if err := checkText("description", "Description", in.Description, MaxDescriptionLen); err != nil {
		return err
	}
	if in.Priority == "" {
		in.Priority = models.IssuePriorityMedium
	}
	return checkPriority(in.Priority)
}

// ValidateUpdate checks the present fields of in against the update schema.
func ValidateUpdate(in UpdateInput) error {
	if in.Title.Set {
		if err := checkText("title", "Title", in.Title.Value, MaxTitleLen); err != nil {
			return err
		}
	}
	if in.Description.Set {
		if err := checkText("description", "Description", in.Description.Value, MaxDescriptionLen); err != nil {
			return err
		}
	}
	if in.Status.Set {
		if err := checkStatus(in.Status.Value); err != nil {
			return err
		}
	}
	if in.Priority.Set {
		if err := checkPriority(in.Priority.Value); err != nil {
			return err
		}
	}
	if in.AssigneeID.Set && !in.AssigneeID.Null && in.AssigneeID.Value == "" {
		return errs.Invalid("assigneeId", "Assignee must be a user id or null")
	}
	return nil
}
