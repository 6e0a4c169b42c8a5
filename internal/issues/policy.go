package issues

import (
	"fmt"

	"github.com/joescharf/tracker/internal/errs"
	"github.com/joescharf/tracker/internal/models"
)

// EditPolicy decides who may change an existing issue.
type EditPolicy string

const (
	// EditAnyAuthenticated lets any signed-in principal edit any issue.
	EditAnyAuthenticated EditPolicy = "any"
	// EditOwnerOrAdmin restricts edits to the creator and Admins.
	EditOwnerOrAdmin EditPolicy = "owner"
)

// ParseEditPolicy converts a config value into an EditPolicy.
func ParseEditPolicy(s string) (EditPolicy, error) {
	switch EditPolicy(s) {
	case "", EditAnyAuthenticated:
		return EditAnyAuthenticated, nil
	case EditOwnerOrAdmin:
		return EditOwnerOrAdmin, nil
	}
	return "", fmt.Errorf("unknown edit policy %q (want %q or %q)", s, EditAnyAuthenticated, EditOwnerOrAdmin)
}

// Policy holds the configurable authorization rules. Delete is always
// Admin-only and List always requires a principal.
type Policy struct {
	Edit EditPolicy
	// OpenReads allows Get without a principal.
	OpenReads bool
}

// DefaultPolicy matches the historical behaviour: anyone signed in may
// edit, and single-issue reads are public.
func DefaultPolicy() Policy {
	return Policy{Edit: EditAnyAuthenticated, OpenReads: true}
}

func requirePrincipal(p *models.Principal) error {
	if p == nil || p.ID == "" {
		return errs.ErrUnauthorized
	}
	return nil
}

func (pol Policy) canRead(p *models.Principal) error {
	if pol.OpenReads {
		return nil
	}
	return requirePrincipal(p)
}

func (pol Policy) canEdit(p *models.Principal, issue *models.IssueView) error {
	if pol.Edit != EditOwnerOrAdmin || p.IsAdmin() || issue.CreatedByID == p.ID {
		return nil
	}
	return errs.ErrForbidden
}

func canDelete(p *models.Principal) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	if !p.IsAdmin() {
		return errs.ErrForbidden
	}
	return nil
}
