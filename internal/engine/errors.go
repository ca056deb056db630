package engine

import (
	"errors"
	"fmt"

	"bops/internal/domain"
)

// InvalidTransitionError is returned when an event is not allowed from the
// current stage or request state.
type InvalidTransitionError struct {
	From  string
	Event string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s from %s", e.Event, e.From)
}

// PreconditionNotMetError names the first task or record blocking an event.
type PreconditionNotMetError struct {
	Slug   string
	Reason string
}

func (e PreconditionNotMetError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("precondition not met: %s", e.Slug)
	}
	return fmt.Sprintf("precondition not met: %s: %s", e.Slug, e.Reason)
}

type DuplicateOpenRequestError struct {
	CaseID   string
	Category domain.RequestCategory
}

func (e DuplicateOpenRequestError) Error() string {
	return fmt.Sprintf("case %s already has an active %s request", e.CaseID, e.Category)
}

// ConcurrentModificationError means the case changed since the caller read it.
type ConcurrentModificationError struct {
	CaseID string
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("case %s was modified concurrently", e.CaseID)
}

// SideEffectError wraps a failure of an audit, notification or recommendation
// write that accompanies a state change. The whole change is rolled back.
type SideEffectError struct {
	Effect string
	Err    error
}

func (e SideEffectError) Error() string {
	return fmt.Sprintf("side effect %s failed: %v", e.Effect, e.Err)
}

func (e SideEffectError) Unwrap() error { return e.Err }

type MissingContactError struct {
	CaseID string
}

func (e MissingContactError) Error() string {
	return fmt.Sprintf("case %s has no applicant or agent contact", e.CaseID)
}

type AlreadyClosedError struct {
	RequestID string
	State     domain.RequestState
}

func (e AlreadyClosedError) Error() string {
	return fmt.Sprintf("request %s is already %s", e.RequestID, e.State)
}

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrCaseArchived   = errors.New("case is archived")
)

func invalidPayload(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}
