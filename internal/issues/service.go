// Package issues implements the issue lifecycle: validation, authorization,
// status/priority transitions, and the read model returned to clients.
package issues

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/tracker/internal/errs"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

// ListFilter narrows List results.
type ListFilter struct {
	Status models.IssueStatus
}

// Service enforces the issue lifecycle on top of a store.
type Service struct {
	store  store.Store
	policy Policy
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy overrides the default authorization policy.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a lifecycle service backed by st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		policy: DefaultPolicy(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the active authorization policy.
func (s *Service) Policy() Policy { return s.policy }

// touch returns a timestamp strictly after prev.
func (s *Service) touch(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func (s *Service) checkAssignee(ctx context.Context, id string) error {
	if _, err := s.store.GetUser(ctx, id); err != nil {
		if errs.IsNotFound(err) {
			return errs.Invalid("assigneeId", "Assignee not found")
		}
		return err
	}
	return nil
}

// Create stores a new Open issue owned by p.
func (s *Service) Create(ctx context.Context, p *models.Principal, in CreateInput) (*models.IssueView, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	if err := ValidateCreate(&in); err != nil {
		return nil, err
	}

	issue := &models.Issue{
		Title:       in.Title,
		Description: in.Description,
		Status:      models.IssueStatusOpen,
		Priority:    in.Priority,
		CreatedByID: p.ID,
	}
	if in.AssigneeID != "" {
		if err := s.checkAssignee(ctx, in.AssigneeID); err != nil {
			return nil, err
		}
		issue.AssigneeID = &in.AssigneeID
	}
	now := s.now()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}
	return s.store.GetIssue(ctx, issue.ID)
}

// Get returns one issue with creator and assignee display fields.
func (s *Service) Get(ctx context.Context, p *models.Principal, id string) (*models.IssueView, error) {
	if err := s.policy.canRead(p); err != nil {
		return nil, err
	}
	return s.store.GetIssue(ctx, id)
}

// List returns every issue matching filter, newest first.
func (s *Service) List(ctx context.Context, p *models.Principal, filter ListFilter) ([]*models.IssueView, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	if filter.Status != "" {
		if err := checkStatus(filter.Status); err != nil {
			return nil, err
		}
	}
	return s.store.ListIssues(ctx, store.IssueListFilter{Status: filter.Status})
}

// Update applies the present fields of in and refreshes UpdatedAt.
func (s *Service) Update(ctx context.Context, p *models.Principal, id string, in UpdateInput) (*models.IssueView, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	if err := ValidateUpdate(in); err != nil {
		return nil, err
	}

	current, err := s.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.canEdit(p, current); err != nil {
		return nil, err
	}

	patch := store.IssuePatch{
		Title:       in.Title.Ptr(),
		Description: in.Description.Ptr(),
		Status:      in.Status.Ptr(),
		Priority:    in.Priority.Ptr(),
		UpdatedAt:   s.touch(current.UpdatedAt),
	}
	if in.AssigneeID.Set {
		if !in.AssigneeID.Null {
			if err := s.checkAssignee(ctx, in.AssigneeID.Value); err != nil {
				return nil, err
			}
		}
		patch.AssigneeSet = true
		patch.AssigneeID = in.AssigneeID.Ptr()
	}

	if err := s.store.PatchIssue(ctx, id, patch); err != nil {
		return nil, err
	}
	return s.store.GetIssue(ctx, id)
}

// UpdateStatusAndPriority overwrites both fields in one step. Any status may
// move to any other status.
func (s *Service) UpdateStatusAndPriority(ctx context.Context, p *models.Principal, id string, status models.IssueStatus, priority models.IssuePriority) (*models.IssueView, error) {
	return s.Update(ctx, p, id, UpdateInput{
		Status:   Some(status),
		Priority: Some(priority),
	})
}

// Delete permanently removes an issue. Only Admins may delete.
func (s *Service) Delete(ctx context.Context, p *models.Principal, id string) error {
	if err := canDelete(p); err != nil {
		return err
	}
	if err := s.store.DeleteIssue(ctx, id); err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return nil
}
