package destination

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAdapter indicates no factory is registered for a path.
	ErrUnknownAdapter = errors.New("no adapter registered")

	// ErrMalformedPath indicates an adapter path with fewer than two segments.
	ErrMalformedPath = errors.New("adapter path must be namespace.Name")

	// ErrResourceNotFound is returned by resource stores for unknown ids.
	ErrResourceNotFound = errors.New("resource not found")
)

// ResourceDisabledError fails a Send when a destination's resource is
// disabled. Destinations after it are not attempted.
type ResourceDisabledError struct {
	ResourceID   string
	ResourceName string
}

// Error implements the error interface.
func (e *ResourceDisabledError) Error() string {
	return fmt.Sprintf("can't connect to disabled resource: %s (%s)", e.ResourceName, e.ResourceID)
}

// AdapterResolutionError reports an adapter path that could not be resolved
// or an adapter that could not be constructed.
type AdapterResolutionError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *AdapterResolutionError) Error() string {
	return fmt.Sprintf("resolve adapter %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *AdapterResolutionError) Unwrap() error {
	return e.Err
}

// ConditionEvaluationError reports a destination condition that could not
// be evaluated.
type ConditionEvaluationError struct {
	DestinationID string
	Condition     string
	Err           error
}

// Error implements the error interface.
func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("destination %s: condition %q: %v", e.DestinationID, e.Condition, e.Err)
}

// Unwrap returns the evaluator error.
func (e *ConditionEvaluationError) Unwrap() error {
	return e.Err
}

// ReshapeError reports a mapping that could not be applied.
type ReshapeError struct {
	DestinationID string
	Err           error
}

// Error implements the error interface.
func (e *ReshapeError) Error() string {
	return fmt.Sprintf("destination %s: reshape payload: %v", e.DestinationID, e.Err)
}

// Unwrap returns the reshape error.
func (e *ReshapeError) Unwrap() error {
	return e.Err
}

// DeliveryError wraps an error returned by an adapter.
type DeliveryError struct {
	DestinationID string
	Err           error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("destination %s: deliver: %v", e.DestinationID, e.Err)
}

// Unwrap returns the adapter error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}
