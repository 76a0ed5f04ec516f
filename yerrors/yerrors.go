// Package yerrors defines the structured error taxonomy the engine surfaces
// to callers (spec.md §7). Errors preserve a causal chain so errors.Is/As
// keep working across retries and engine boundaries, following the same
// shape as the teacher's toolerrors.ToolError.
package yerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an Error per the §7 taxonomy. Kind is not a type name in
// the implementation sense; it is the vocabulary callers branch on.
type Kind string

const (
	// KindInvalidSpecification means a specification failed §3.1 invariants at load.
	KindInvalidSpecification Kind = "invalid_specification"
	// KindCaseNotFound means the referenced case does not exist.
	KindCaseNotFound Kind = "case_not_found"
	// KindItemNotFound means the referenced work item does not exist.
	KindItemNotFound Kind = "item_not_found"
	// KindPreconditionViolated means a state-machine rule was broken.
	KindPreconditionViolated Kind = "precondition_violated"
	// KindOutputValidationFailed means work item outputs failed type/range checks.
	KindOutputValidationFailed Kind = "output_validation_failed"
	// KindWorkerUnresponsive means a lease expired.
	KindWorkerUnresponsive Kind = "worker_unresponsive"
	// KindWorkItemFailed means a work item failed and was propagated to the runner.
	KindWorkItemFailed Kind = "work_item_failed"
	// KindRoutingRejected means the engine selector rejected a launch.
	KindRoutingRejected Kind = "routing_rejected"
	// KindServiceUnavailable means a required engine variant is unavailable with no fallback.
	KindServiceUnavailable Kind = "service_unavailable"
	// KindInternalInvariantBroken means a core invariant would be violated; never silently recovered.
	KindInternalInvariantBroken Kind = "internal_invariant_broken"
)

// Error is the structured error type returned by every exported operation.
// It never leaks internal state: Message is caller-safe, and Cause is only
// exposed through Unwrap for errors.Is/As chains, not serialized.
type Error struct {
	Kind    Kind
	CaseID  string
	ItemID  string
	EventID string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the causal chain to errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, yerrors.New(yerrors.KindCaseNotFound, "", "")).
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == e.Kind
}

// New constructs an Error of the given kind with no cause.
func New(kind Kind, caseID, message string) *Error {
	return &Error{Kind: kind, CaseID: caseID, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, caseID string, cause error, message string) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, CaseID: caseID, Message: message, Cause: cause}
}

// WithItem returns a copy of e with ItemID set, for chained construction:
// yerrors.New(...).WithItem(itemID).
func (e *Error) WithItem(itemID string) *Error {
	c := *e
	c.ItemID = itemID
	return &c
}

// WithEvent returns a copy of e with EventID set.
func (e *Error) WithEvent(eventID string) *Error {
	c := *e
	c.EventID = eventID
	return &c
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
