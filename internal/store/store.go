package store

import (
	"context"
	"time"

	"github.com/joescharf/tracker/internal/models"
)

// IssueListFilter specifies filters for listing issues.
type IssueListFilter struct {
	Status models.IssueStatus
}

// IssuePatch lists the columns an update changes. Nil pointers are left
// untouched. AssigneeSet distinguishes "clear the assignee" (AssigneeSet
// with a nil AssigneeID) from "leave it alone".
type IssuePatch struct {
	Title       *string
	Description *string
	Status      *models.IssueStatus
	Priority    *models.IssuePriority
	AssigneeSet bool
	AssigneeID  *string
	UpdatedAt   time.Time
}

// Store defines the persistence interface for tracker.
//
// Lookups that find nothing return an error wrapping errs.ErrNotFound;
// unique-constraint violations wrap errs.ErrConflict.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	UpdateUserRole(ctx context.Context, id string, role models.Role) error

	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Issues
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.IssueView, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.IssueView, error)
	PatchIssue(ctx context.Context, id string, patch IssuePatch) error
	DeleteIssue(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
