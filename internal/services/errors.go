package services

import (
	"fmt"

	"github.com/civicdesk/apiserver/types"
)

// ValidationError reports missing or malformed input, detected before any
// mutation. Field names the offending input when known.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError reports a role or ownership violation. Violations are never
// silently dropped.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func forbiddenf(format string, args ...any) error {
	return &ForbiddenError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown resource id.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

// InvalidTransitionError reports an attempt to traverse an edge that is not
// in the transition table.
type InvalidTransitionError struct {
	From types.IssueStatus
	To   types.IssueStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// LockedIssueError reports a mutation attempt on an issue in a terminal
// state. Terminal states are absorbing.
type LockedIssueError struct {
	Status types.IssueStatus
}

func (e *LockedIssueError) Error() string {
	return fmt.Sprintf("issue is locked in terminal status %s", e.Status)
}

// ConflictError reports a concurrent-write collision: another request moved
// the issue between this request's read and its compare-and-swap write.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}
