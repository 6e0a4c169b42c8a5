package models

import "time"

// IssueStatus represents the state of an issue.
type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "Open"
	IssueStatusInProgress IssueStatus = "In-progress"
	IssueStatusClosed     IssueStatus = "Closed"
)

// IssueStatuses lists every valid status in display order.
var IssueStatuses = []IssueStatus{IssueStatusOpen, IssueStatusInProgress, IssueStatusClosed}

// Valid reports whether s is one of the enumerated statuses.
func (s IssueStatus) Valid() bool {
	for _, v := range IssueStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IssuePriority represents the urgency of an issue.
type IssuePriority string

const (
	IssuePriorityLow    IssuePriority = "Low"
	IssuePriorityMedium IssuePriority = "Medium"
	IssuePriorityHigh   IssuePriority = "High"
)

// IssuePriorities lists every valid priority from lowest to highest.
var IssuePriorities = []IssuePriority{IssuePriorityLow, IssuePriorityMedium, IssuePriorityHigh}

// Valid reports whether p is one of the enumerated priorities.
func (p IssuePriority) Valid() bool {
	for _, v := range IssuePriorities {
		if p == v {
			return true
		}
	}
	return false
}

// Issue is a tracked issue as persisted.
type Issue struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      IssueStatus   `json:"status"`
	Priority    IssuePriority `json:"priority"`
	CreatedByID string        `json:"createdById"`
	AssigneeID  *string       `json:"assigneeId"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// UserRef is the display subset of a user joined onto an issue.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IssueView is an issue joined with its creator and assignee.
type IssueView struct {
	Issue
	CreatedBy UserRef  `json:"createdBy"`
	Assignee  *UserRef `json:"assignee"`
}
