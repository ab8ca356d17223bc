package engine

import (
	"fmt"

	"aioffice/internal/common"
	"aioffice/internal/model"
)

// TransitionError reports a rejected transition. It always carries the
// authoritative state at the time of the attempt so the caller can
// reconcile and retry correctly.
type TransitionError struct {
	Action Action
	State  model.CaseState
	Reason string
	CaseID int64
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("case %d: cannot %s from state %q: %s", e.CaseID, e.Action, e.State, e.Reason)
	}
	return fmt.Sprintf("case %d: cannot %s from state %q", e.CaseID, e.Action, e.State)
}

func (e *TransitionError) Unwrap() error {
	return common.ErrInvalidTransition
}

// AuthorizationError reports an actor lacking the capability a transition
// requires. Like TransitionError it carries the current state.
type AuthorizationError struct {
	Actor  string
	Action Action
	State  model.CaseState
	CaseID int64
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("case %d (state %q): actor %q is not allowed to %s", e.CaseID, e.State, e.Actor, e.Action)
}

func (e *AuthorizationError) Unwrap() error {
	return common.ErrUnauthorized
}

// OrchestrationError reports a failed agent call. The case has already
// been moved to failed through the guarded path when this surfaces.
type OrchestrationError struct {
	Err       error
	RequestID string
	State     model.CaseState
	CaseID    int64
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("case %d (state %q): orchestration request %s failed: %v", e.CaseID, e.State, e.RequestID, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return common.ErrOrchestrationFailure
}
