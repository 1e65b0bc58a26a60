package ruleflow

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrNilContext indicates Invoke was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNilLoader indicates New was called without a FlowLoader.
	ErrNilLoader = errors.New("flow loader cannot be nil")

	// ErrNilInvoker indicates New was called without a WorkflowInvoker.
	ErrNilInvoker = errors.New("workflow invoker cannot be nil")

	// ErrDanglingRule indicates a rule slot with no rule behind it.
	ErrDanglingRule = errors.New("rule to workflow does not exist")

	// ErrConsentDenied indicates a rule requires consents the profile has
	// not granted. It is a filter and never reaches the caller.
	ErrConsentDenied = errors.New("required consents not granted")

	// ErrFlowNotFound indicates the flow loader returned no flow.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrEmptyResult indicates an invoker returned neither a result nor an error.
	ErrEmptyResult = errors.New("workflow returned no result")
)

// RoutingError reports a dangling rule: the event was routed to a rule
// that no longer exists.
type RoutingError struct {
	EventID string
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("event %s: %v", e.EventID, ErrDanglingRule)
}

// Unwrap returns ErrDanglingRule.
func (e *RoutingError) Unwrap() error {
	return ErrDanglingRule
}

// ValidationError reports a rule that could not be decoded.
type ValidationError struct {
	// RuleName is the raw name, or "Unknown".
	RuleName string
	// RuleID is the raw id, possibly empty.
	RuleID string
	// Field is the first offending field, when known.
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("Rule '%s:%s' validation error: %v", e.RuleName, e.RuleID, e.Err)
}

// Unwrap returns the decode or validation error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// FlowLoadError reports a flow that could not be loaded for a rule.
type FlowLoadError struct {
	FlowID string
	Err    error
}

// Error implements the error interface.
func (e *FlowLoadError) Error() string {
	return fmt.Sprintf("load flow %s: %v", e.FlowID, e.Err)
}

// Unwrap returns the loader error.
func (e *FlowLoadError) Unwrap() error {
	return e.Err
}

// SourceMismatchError reports a rule skipped because the event came from a
// different source than the tracker filter.
type SourceMismatchError struct {
	FlowID        string
	EventSource   string
	TrackerSource string
}

// Error implements the error interface.
func (e *SourceMismatchError) Error() string {
	return fmt.Sprintf("workflow %s skipped: event source %q is not tracker source %q",
		e.FlowID, e.EventSource, e.TrackerSource)
}

// WorkflowExecutionError wraps a failed workflow task.
type WorkflowExecutionError struct {
	FlowID  string
	EventID string
	Err     error
}

// Error implements the error interface.
func (e *WorkflowExecutionError) Error() string {
	return fmt.Sprintf("workflow %s for event %s: %v", e.FlowID, e.EventID, e.Err)
}

// Unwrap returns the invoker error.
func (e *WorkflowExecutionError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a workflow invoker.
type PanicError struct {
	FlowID string
	Value  any
	Stack  string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("workflow %s panicked: %v", e.FlowID, e.Value)
}

// CancellationError reports that Invoke stopped because its context ended.
type CancellationError struct {
	// Stage is "dispatch" when cancelled while scanning rules, "aggregate"
	// when cancelled while awaiting tasks.
	Stage string
	// Pending is the number of tasks not yet aggregated.
	Pending int
	Cause   error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("invoke cancelled during %s with %d tasks pending: %v", e.Stage, e.Pending, e.Cause)
}

// Unwrap returns the context error.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// traceback renders err for a LogEntry: the panic stack when there is one,
// otherwise the wrap chain one error per line.
func traceback(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return pe.Stack
	}
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("%T: %v", e, e))
	}
	return strings.Join(lines, "\n")
}
